// Package config provides configuration for the gateway.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds the gateway configuration.
type Config struct {
	// Server settings
	HTTPPort int
	WSPort   int

	// Database
	DatabaseURL string

	// Defaults for exchanges
	DefaultModel     string
	MaxContextTokens int
	Temperature      float64
	MaxOutputTokens  int

	// Cost accounting
	CostPrecision int // decimal places for estimated cost rounding

	// Credential sealing
	MasterSecret string

	// Timeouts
	LLMTimeout     time.Duration
	RequestTimeout time.Duration

	// WebSocket settings
	APIKey         string // static key checked in the hello handshake
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Logging
	LogLevel string
}

// fileConfig is the optional TOML overlay. Set LLMGATE_CONFIG to its path;
// values present in the file override the environment defaults.
type fileConfig struct {
	HTTPPort         *int     `toml:"http_port"`
	WSPort           *int     `toml:"ws_port"`
	DatabaseURL      *string  `toml:"database_url"`
	DefaultModel     *string  `toml:"default_model"`
	MaxContextTokens *int     `toml:"max_context_tokens"`
	Temperature      *float64 `toml:"temperature"`
	MaxOutputTokens  *int     `toml:"max_output_tokens"`
	CostPrecision    *int     `toml:"cost_precision"`
	MasterSecret     *string  `toml:"master_secret"`
	LLMTimeoutMs     *int     `toml:"llm_timeout_ms"`
	RequestTimeoutMs *int     `toml:"request_timeout_ms"`
	APIKey           *string  `toml:"api_key"`
	LogLevel         *string  `toml:"log_level"`
}

// Load loads configuration from environment variables, then applies the
// optional TOML file named by LLMGATE_CONFIG.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:         getEnvInt("HTTP_PORT", 8080),
		WSPort:           getEnvInt("WS_PORT", 8090),
		DatabaseURL:      getEnv("DATABASE_URL", "file:llmgate.db?cache=shared&mode=rwc"),
		DefaultModel:     getEnv("DEFAULT_MODEL", "gpt-4o-mini"),
		MaxContextTokens: getEnvInt("MAX_CONTEXT_TOKENS", 8000),
		Temperature:      getEnvFloat("TEMPERATURE", 0.7),
		MaxOutputTokens:  getEnvInt("MAX_OUTPUT_TOKENS", 1024),
		CostPrecision:    getEnvInt("COST_PRECISION", 6),
		MasterSecret:     getEnv("MASTER_SECRET", ""),
		LLMTimeout:       time.Duration(getEnvInt("LLM_TIMEOUT_MS", 120000)) * time.Millisecond,
		RequestTimeout:   time.Duration(getEnvInt("REQUEST_TIMEOUT_MS", 300000)) * time.Millisecond,
		APIKey:           getEnv("API_KEY", ""),
		PingInterval:     time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:     time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:      time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:   int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}

	if path := os.Getenv("LLMGATE_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fc.HTTPPort != nil {
		c.HTTPPort = *fc.HTTPPort
	}
	if fc.WSPort != nil {
		c.WSPort = *fc.WSPort
	}
	if fc.DatabaseURL != nil {
		c.DatabaseURL = *fc.DatabaseURL
	}
	if fc.DefaultModel != nil {
		c.DefaultModel = *fc.DefaultModel
	}
	if fc.MaxContextTokens != nil {
		c.MaxContextTokens = *fc.MaxContextTokens
	}
	if fc.Temperature != nil {
		c.Temperature = *fc.Temperature
	}
	if fc.MaxOutputTokens != nil {
		c.MaxOutputTokens = *fc.MaxOutputTokens
	}
	if fc.CostPrecision != nil {
		c.CostPrecision = *fc.CostPrecision
	}
	if fc.MasterSecret != nil {
		c.MasterSecret = *fc.MasterSecret
	}
	if fc.LLMTimeoutMs != nil {
		c.LLMTimeout = time.Duration(*fc.LLMTimeoutMs) * time.Millisecond
	}
	if fc.RequestTimeoutMs != nil {
		c.RequestTimeout = time.Duration(*fc.RequestTimeoutMs) * time.Millisecond
	}
	if fc.APIKey != nil {
		c.APIKey = *fc.APIKey
	}
	if fc.LogLevel != nil {
		c.LogLevel = *fc.LogLevel
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
