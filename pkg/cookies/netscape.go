package cookies

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"igfetch/pkg/errors"
)

// Cookie is a single entry destined for a Netscape cookie jar file.
type Cookie struct {
	Domain            string
	IncludeSubdomains bool
	Path              string
	Secure            bool
	Expiry            int64
	Name              string
	Value             string
}

// NetscapeLine renders the cookie as one tab-separated jar line.
func (c Cookie) NetscapeLine() string {
	return strings.Join([]string{
		c.Domain,
		boolField(c.IncludeSubdomains),
		c.Path,
		boolField(c.Secure),
		fmt.Sprintf("%d", c.Expiry),
		c.Name,
		c.Value,
	}, "\t")
}

func boolField(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// WriteNetscapeFile writes the cookies to path in Netscape cookie jar
// format, the format yt-dlp and curl consume. The file is created with
// owner-only permissions since it holds session credentials.
func WriteNetscapeFile(path string, cookies []Cookie) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(errors.ErrorTypeUnknown, "creating cookie directory", err)
	}

	var b strings.Builder
	b.WriteString("# Netscape HTTP Cookie File\n")
	b.WriteString("# https://curl.haxx.se/rfc/cookie_spec.html\n")
	b.WriteString("# This file was generated by igfetch. Do not edit.\n\n")
	for _, c := range cookies {
		b.WriteString(c.NetscapeLine())
		b.WriteString("\n")
	}

	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		return errors.Wrap(errors.ErrorTypeUnknown, "writing cookie file", err)
	}
	return nil
}

// ParseRawCookieString converts a browser-style "name=value; name2=value2"
// header string into jar cookies scoped to the Instagram domain. Pairs
// without an equals sign are skipped.
func ParseRawCookieString(raw string) []Cookie {
	expiry := time.Now().AddDate(1, 0, 0).Unix()

	var out []Cookie
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		eq := strings.Index(pair, "=")
		if eq <= 0 {
			continue
		}
		out = append(out, Cookie{
			Domain:            ".instagram.com",
			IncludeSubdomains: true,
			Path:              "/",
			Secure:            true,
			Expiry:            expiry,
			Name:              pair[:eq],
			Value:             pair[eq+1:],
		})
	}
	return out
}

// FileFor returns the cookie jar path for a username inside dir.
func FileFor(dir, username string) string {
	return filepath.Join(dir, username+".txt")
}
