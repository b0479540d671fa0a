package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Defaults applied when neither config.toml nor the environment set a value.
const (
	DefaultRequestTimeout = 10 * time.Second
)

// Config represents the global ~/.leaguechat/config.toml.
type Config struct {
	DefaultProfile   string `toml:"default_profile"`
	APIBaseURL       string `toml:"api_base_url"`
	SocketURL        string `toml:"socket_url"`
	UserID           string `toml:"user_id"`
	AuthToken        string `toml:"auth_token"`
	RequestTimeoutMS int    `toml:"request_timeout_ms"`
	HistoryCache     bool   `toml:"history_cache"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// ApplyEnv overlays LEAGUECHAT_* environment variables on cfg. A .env
// file in the working directory is loaded first if present.
func ApplyEnv(cfg *Config) {
	_ = godotenv.Load()

	if v, ok := os.LookupEnv("LEAGUECHAT_API_URL"); ok {
		cfg.APIBaseURL = v
	}
	if v, ok := os.LookupEnv("LEAGUECHAT_SOCKET_URL"); ok {
		cfg.SocketURL = v
	}
	if v, ok := os.LookupEnv("LEAGUECHAT_USER_ID"); ok {
		cfg.UserID = v
	}
	if v, ok := os.LookupEnv("LEAGUECHAT_AUTH_TOKEN"); ok {
		cfg.AuthToken = v
	}
	if v, ok := os.LookupEnv("LEAGUECHAT_REQUEST_TIMEOUT_MS"); ok {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.RequestTimeoutMS = ms
		}
	}
	if v, ok := os.LookupEnv("LEAGUECHAT_HISTORY_CACHE"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.HistoryCache = b
		}
	}
}

// RequestTimeout returns the configured REST timeout, or the default.
func (c *Config) RequestTimeout() time.Duration {
	if c.RequestTimeoutMS <= 0 {
		return DefaultRequestTimeout
	}
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}
