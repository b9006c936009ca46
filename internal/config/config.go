package config

import (
	"encoding/json"
	"errors"
	"os"
	"strconv"
)

const (
	// DefaultSplitSize matches the destination's document size ceiling.
	DefaultSplitSize = 2 * 1024 * 1024 * 1024

	// DefaultChunkSize is the read size used while streaming downloads.
	DefaultChunkSize = 256 * 1024
)

type Config struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
	APIBase  string `json:"api_base"`

	ListenPort int    `json:"listen_port"`
	TempDir    string `json:"temp_dir"`
	DataDir    string `json:"data_dir"`

	ChunkSize     int64 `json:"chunk_size"`
	SplitSize     int64 `json:"split_size"`
	MaxConcurrent int64 `json:"max_concurrent"`

	// Retry bounds for transient network failures during download.
	MaxRetries          int `json:"max_retries"`
	RetryBackoffSeconds int `json:"retry_backoff_seconds"`

	// Rate-limit absorption for the destination sink.
	RateLimitRetries    int `json:"rate_limit_retries"`
	RateLimitCapSeconds int `json:"rate_limit_cap_seconds"`

	RequestTimeoutSeconds int `json:"request_timeout_seconds"`

	// Progress notification throttling.
	ProgressMaxUpdates      int     `json:"progress_max_updates"`
	ProgressIntervalSeconds int     `json:"progress_interval_seconds"`
	ProgressDeltaPercent    float64 `json:"progress_delta_percent"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

// Default returns the built-in configuration. Values mirror the
// destination's published limits where those exist.
func Default() Config {
	return Config{
		APIBase:                 "https://api.telegram.org",
		ListenPort:              8000,
		TempDir:                 "./downloads",
		DataDir:                 "./data",
		ChunkSize:               DefaultChunkSize,
		SplitSize:               DefaultSplitSize,
		MaxConcurrent:           3,
		MaxRetries:              3,
		RetryBackoffSeconds:     1,
		RateLimitRetries:        3,
		RateLimitCapSeconds:     60,
		RequestTimeoutSeconds:   60,
		ProgressMaxUpdates:      8,
		ProgressIntervalSeconds: 60,
		ProgressDeltaPercent:    20,
		LogLevel:                "info",
		LogFormat:               "text",
	}
}

// Load reads the config file at path on top of the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BOT_TOKEN"); v != "" {
		c.BotToken = v
	}
	if v := os.Getenv("LEECH_DUMP_CHAT"); v != "" {
		c.ChatID = v
	}
	if v := os.Getenv("LEECH_SPLIT_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.SplitSize = n
		}
	}
	if v := os.Getenv("MAX_CONCURRENT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.MaxConcurrent = n
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.ListenPort = n
		}
	}
	if v := os.Getenv("TEMP_DIR"); v != "" {
		c.TempDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks the fields every transfer depends on.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return errors.New("config: bot_token is required")
	}
	if c.ChatID == "" {
		return errors.New("config: chat_id is required")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: chunk_size must be positive")
	}
	if c.SplitSize <= 0 {
		return errors.New("config: split_size must be positive")
	}
	if c.MaxConcurrent <= 0 {
		return errors.New("config: max_concurrent must be positive")
	}
	return nil
}
