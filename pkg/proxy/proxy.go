package proxy

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"igfetch/pkg/config"
	"igfetch/pkg/logger"
)

// Config holds the connection details for a single upstream proxy.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
}

// URL renders the proxy as an http proxy URL, embedding credentials
// when both username and password are present.
func (c *Config) URL() string {
	if c.Username != "" && c.Password != "" {
		return fmt.Sprintf("http://%s:%s@%s:%d", url.QueryEscape(c.Username), url.QueryEscape(c.Password), c.Host, c.Port)
	}
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// Parse converts a raw proxy entry into a Config. Three formats are
// accepted:
//
//	host:port
//	host:port:username:password
//	username:password@host:port
//
// Anything else returns nil.
func Parse(raw string) *Config {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if at := strings.LastIndex(raw, "@"); at != -1 {
		creds := raw[:at]
		addr := raw[at+1:]
		credParts := strings.SplitN(creds, ":", 2)
		addrParts := strings.Split(addr, ":")
		if len(credParts) != 2 || len(addrParts) != 2 {
			return nil
		}
		port, err := strconv.Atoi(addrParts[1])
		if err != nil || port <= 0 || addrParts[0] == "" {
			return nil
		}
		return &Config{
			Host:     addrParts[0],
			Port:     port,
			Username: credParts[0],
			Password: credParts[1],
		}
	}

	parts := strings.Split(raw, ":")
	switch len(parts) {
	case 2:
		port, err := strconv.Atoi(parts[1])
		if err != nil || port <= 0 || parts[0] == "" {
			return nil
		}
		return &Config{Host: parts[0], Port: port}
	case 4:
		port, err := strconv.Atoi(parts[1])
		if err != nil || port <= 0 || parts[0] == "" {
			return nil
		}
		return &Config{Host: parts[0], Port: port, Username: parts[2], Password: parts[3]}
	default:
		return nil
	}
}

// Assigner deterministically maps usernames onto a fixed proxy pool.
// The same username always lands on the same proxy as long as the pool
// is unchanged, which keeps each account's exit IP stable across runs.
type Assigner struct {
	proxies []*Config
	log     logger.Logger
}

// NewAssigner parses the raw entries into a pool, dropping invalid
// entries with a warning.
func NewAssigner(entries []string, log logger.Logger) *Assigner {
	if log == nil {
		log = logger.GetLogger()
	}
	a := &Assigner{log: log}
	for _, raw := range entries {
		p := Parse(raw)
		if p == nil {
			log.WarnWithFields("skipping invalid proxy entry", map[string]interface{}{
				"entry": raw,
			})
			continue
		}
		a.proxies = append(a.proxies, p)
	}
	return a
}

// FromConfig builds an assigner from the application configuration,
// combining the proxy list with the legacy single-proxy settings.
func FromConfig(cfg *config.Config, log logger.Logger) *Assigner {
	entries := append([]string{}, cfg.Proxy.List...)
	if cfg.Proxy.Host != "" && cfg.Proxy.Port > 0 {
		legacy := fmt.Sprintf("%s:%d", cfg.Proxy.Host, cfg.Proxy.Port)
		if cfg.Proxy.Username != "" && cfg.Proxy.Password != "" {
			legacy = legacy + ":" + cfg.Proxy.Username + ":" + cfg.Proxy.Password
		}
		entries = append(entries, legacy)
	}
	return NewAssigner(entries, log)
}

// Len returns the number of usable proxies in the pool.
func (a *Assigner) Len() int {
	return len(a.proxies)
}

// Assign returns the proxy for username, or nil when the pool is empty.
// The mapping hashes the username and reduces it modulo the pool size,
// so it survives process restarts without any persisted state.
func (a *Assigner) Assign(username string) *Config {
	if len(a.proxies) == 0 {
		return nil
	}
	sum := md5.Sum([]byte(username))
	digest := hex.EncodeToString(sum[:])
	n, err := strconv.ParseUint(digest[:8], 16, 64)
	if err != nil {
		return a.proxies[0]
	}
	return a.proxies[n%uint64(len(a.proxies))]
}
