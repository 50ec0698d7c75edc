package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the media fetch engine
type Config struct {
	// Account pool settings
	Accounts AccountsConfig `yaml:"accounts" json:"accounts"`

	// Proxy pool settings
	Proxy ProxyConfig `yaml:"proxy" json:"proxy"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Fast-path extraction settings
	FastPath FastPathConfig `yaml:"fast_path" json:"fast_path"`

	// Download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// AccountsConfig holds account pool configuration
type AccountsConfig struct {
	File        string `yaml:"file" json:"file"`
	StateFile   string `yaml:"state_file" json:"state_file"`
	SessionsDir string `yaml:"sessions_dir" json:"sessions_dir"`
	CookiesDir  string `yaml:"cookies_dir" json:"cookies_dir"`
}

// ProxyConfig holds proxy pool configuration. List entries accept the
// forms host:port, host:port:user:pass and user:pass@host:port. The
// single Host/Port pair is the legacy fallback used when no list is
// configured.
type ProxyConfig struct {
	List     []string `yaml:"list" json:"list"`
	Host     string   `yaml:"host" json:"host"`
	Port     int      `yaml:"port" json:"port"`
	Username string   `yaml:"username" json:"username"`
	Password string   `yaml:"password" json:"password"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	MinDelay          time.Duration `yaml:"min_delay" json:"min_delay"`
	Jitter            time.Duration `yaml:"jitter" json:"jitter"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay" json:"retry_delay"`
}

// FastPathConfig controls the unauthenticated extraction chain
type FastPathConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	OutputDir      string        `yaml:"output_dir" json:"output_dir"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Accounts: AccountsConfig{
			File:        "accounts.txt",
			StateFile:   "accounts_state.json",
			SessionsDir: "sessions",
			CookiesDir:  "cookies",
		},
		RateLimit: RateLimitConfig{
			MinDelay:          2 * time.Second,
			Jitter:            500 * time.Millisecond,
			RequestsPerMinute: 60,
			MaxRetries:        3,
			RetryDelay:        5 * time.Second,
		},
		FastPath: FastPathConfig{
			Enabled: true,
		},
		Download: DownloadConfig{
			OutputDir:      "./downloads",
			ConnectTimeout: 10 * time.Second,
			ReadTimeout:    45 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if file := os.Getenv("IGFETCH_ACCOUNTS_FILE"); file != "" {
		c.Accounts.File = file
	}
	if file := os.Getenv("IGFETCH_STATE_FILE"); file != "" {
		c.Accounts.StateFile = file
	}
	if dir := os.Getenv("IGFETCH_SESSIONS_DIR"); dir != "" {
		c.Accounts.SessionsDir = dir
	}
	if dir := os.Getenv("IGFETCH_COOKIES_DIR"); dir != "" {
		c.Accounts.CookiesDir = dir
	}

	// Proxy pool: newline-separated list, then numbered entries, then the
	// legacy single proxy definition.
	if list := os.Getenv("PROXY_LIST"); list != "" {
		for _, line := range strings.Split(list, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			c.Proxy.List = append(c.Proxy.List, line)
		}
	}
	for i := 1; i <= 20; i++ {
		if entry := os.Getenv(fmt.Sprintf("PROXY_%d", i)); entry != "" {
			c.Proxy.List = append(c.Proxy.List, entry)
		}
	}
	if host := os.Getenv("PROXY_HOST"); host != "" {
		c.Proxy.Host = host
		var port int
		fmt.Sscanf(os.Getenv("PROXY_PORT"), "%d", &port)
		c.Proxy.Port = port
		c.Proxy.Username = os.Getenv("PROXY_USERNAME")
		c.Proxy.Password = os.Getenv("PROXY_PASSWORD")
	}

	if rpm := os.Getenv("IGFETCH_REQUESTS_PER_MINUTE"); rpm != "" {
		var val int
		fmt.Sscanf(rpm, "%d", &val)
		if val > 0 {
			c.RateLimit.RequestsPerMinute = val
		}
	}
	if enabled := os.Getenv("IGFETCH_FAST_PATH"); enabled != "" {
		c.FastPath.Enabled = strings.ToLower(enabled) == "true"
	}
	if outputDir := os.Getenv("IGFETCH_OUTPUT_DIR"); outputDir != "" {
		c.Download.OutputDir = outputDir
	}
	if logLevel := os.Getenv("IGFETCH_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".igfetch.yaml",
		".igfetch.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "igfetch", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".igfetch.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Accounts.File == "" {
		errs = append(errs, errors.New("accounts file path is required"))
	}
	if c.Accounts.StateFile == "" {
		errs = append(errs, errors.New("account state file path is required"))
	}

	if c.RateLimit.MinDelay < 0 {
		errs = append(errs, errors.New("minimum delay cannot be negative"))
	}
	if c.RateLimit.Jitter < 0 {
		errs = append(errs, errors.New("jitter cannot be negative"))
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.RateLimit.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}

	if c.Download.OutputDir == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if c.Download.ConnectTimeout <= 0 || c.Download.ReadTimeout <= 0 {
		errs = append(errs, errors.New("download timeouts must be positive"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if accountsFile, ok := flags["accounts"].(string); ok && accountsFile != "" {
		c.Accounts.File = accountsFile
	}
	if outputDir, ok := flags["output"].(string); ok && outputDir != "" {
		c.Download.OutputDir = outputDir
	}
	if fastPath, ok := flags["fast-path"].(bool); ok {
		c.FastPath.Enabled = fastPath
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".igfetch.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
