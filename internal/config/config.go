// Package config provides configuration management for the wallet inspector.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	RPC       RPCConfig
	Explorer  ExplorerConfig
	Inspector InspectorConfig
	Server    ServerConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Logging   LoggingConfig
}

// RPCConfig holds JSON-RPC endpoint configuration
type RPCConfig struct {
	URL             string
	SecondaryURL    string
	CallTimeout     time.Duration
	ConnectAttempts int
	ThrottleDelay   time.Duration // Delay after every log chunk request
	LogsMaxRPS      float64       // Process-wide cap on log queries, 0 disables
}

// ExplorerConfig holds block explorer API configuration
type ExplorerConfig struct {
	APIKey            string
	BaseURL           string
	RequestsPerSecond float64
}

// InspectorConfig holds inspection defaults
type InspectorConfig struct {
	LookbackBlocks uint64
	MaxEvents      int
	ChunkSize      uint64
	VaultAddresses []string // lowercased hex
	DecodeWorkers  int
	MaxConcurrent  int
	QueueTimeout   time.Duration
	OutputDir      string
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port      string
	Host      string
	ClientRPS int
}

// RedisConfig holds Redis configuration. An empty Host disables caching.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	TTL time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional, environment variables can be set directly
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	config := &Config{
		RPC: RPCConfig{
			URL:             getEnv("RPC_URL", ""),
			SecondaryURL:    getEnv("RPC_SECONDARY_URL", ""),
			CallTimeout:     getEnvAsDuration("RPC_CALL_TIMEOUT", 20*time.Second),
			ConnectAttempts: getEnvAsInt("RPC_CONNECT_ATTEMPTS", 3),
			ThrottleDelay:   getEnvAsSeconds("RPC_THROTTLE_SECONDS", 250*time.Millisecond),
			LogsMaxRPS:      getEnvAsFloat("RPC_LOGS_MAX_RPS", 0),
		},
		Explorer: ExplorerConfig{
			APIKey:            getEnv("ETHERSCAN_API_KEY", ""),
			BaseURL:           getEnv("EXPLORER_BASE_URL", "https://api.etherscan.io/v2/api"),
			RequestsPerSecond: getEnvAsFloat("EXPLORER_RPS", 3),
		},
		Inspector: InspectorConfig{
			LookbackBlocks: getEnvAsUint64("LOG_LOOKBACK_BLOCKS", 20000),
			MaxEvents:      getEnvAsInt("MAX_EVENTS", 200),
			ChunkSize:      getEnvAsUint64("LOG_CHUNK_SIZE", 2000),
			VaultAddresses: ParseAddressList(getEnv("VAULT_ADDRESSES", "")),
			DecodeWorkers:  getEnvAsInt("DECODE_WORKERS", 8),
			MaxConcurrent:  getEnvAsInt("INSPECT_MAX_CONCURRENT", 4),
			QueueTimeout:   getEnvAsDuration("INSPECT_QUEUE_TIMEOUT", 30*time.Second),
			OutputDir:      getEnv("OUTPUT_DIR", "output"),
		},
		Server: ServerConfig{
			Port:      getEnv("SERVER_PORT", "8080"),
			Host:      getEnv("SERVER_HOST", "0.0.0.0"),
			ClientRPS: getEnvAsInt("API_RPS", 5),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			TTL: getEnvAsDuration("CACHE_TTL", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// Validate checks the settings an inspection cannot run without
func (c *Config) Validate() error {
	if c.RPC.URL == "" {
		return fmt.Errorf("RPC_URL is not set")
	}
	if c.Inspector.ChunkSize == 0 {
		return fmt.Errorf("LOG_CHUNK_SIZE must be positive")
	}
	if c.Inspector.MaxEvents < 0 {
		return fmt.Errorf("MAX_EVENTS cannot be negative")
	}
	if c.RPC.ThrottleDelay < 0 {
		return fmt.Errorf("RPC_THROTTLE_SECONDS cannot be negative")
	}
	for _, vault := range c.Inspector.VaultAddresses {
		if !common.IsHexAddress(vault) {
			return fmt.Errorf("VAULT_ADDRESSES contains an invalid address: %s", vault)
		}
	}
	return nil
}

// ParseAddressList splits a comma separated list into lowercased, de-duplicated,
// sorted entries. Blank entries are dropped.
func ParseAddressList(raw string) []string {
	seen := make(map[string]struct{})
	addresses := []string{}
	for _, part := range strings.Split(raw, ",") {
		addr := strings.ToLower(strings.TrimSpace(part))
		if addr == "" {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)
	return addresses
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsUint64 gets an environment variable as an unsigned integer with a default value
func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSeconds reads fractional seconds ("0.25") into a duration
func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	seconds, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return time.Duration(seconds * float64(time.Second))
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
