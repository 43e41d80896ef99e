package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents the application configuration
type Config struct {
	// Redis configuration (notifier stream)
	RedisAddr            string
	RedisDB              int
	RedisStream          string
	RedisStreamMaxLength int

	// Memcache configuration (fetch block cache)
	MemcacheAddr string

	// Scheduler configuration
	TickInterval        time.Duration
	MaxConcurrentCrawls int

	// Paths
	StoresFile      string
	DatabasePath    string
	UserAgentsFile  string
	AgentCursorFile string

	// Environment
	Environment string
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	streamMaxLen, _ := strconv.Atoi(getEnv("REDIS_STREAM_MAXLEN", "500"))
	tickInterval, _ := strconv.Atoi(getEnv("TICK_INTERVAL_SECONDS", "60"))
	maxCrawls, _ := strconv.Atoi(getEnv("MAX_CONCURRENT_CRAWLS", "3"))

	return Config{
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:              redisDB,
		RedisStream:          getEnv("REDIS_STREAM", "storewatcher"),
		RedisStreamMaxLength: streamMaxLen,
		MemcacheAddr:         getEnv("MEMCACHE_ADDR", "localhost:11211"),
		TickInterval:         time.Duration(tickInterval) * time.Second,
		MaxConcurrentCrawls:  maxCrawls,
		StoresFile:           getEnv("STORES_FILE", "config/stores.yaml"),
		DatabasePath:         getEnv("DB_PATH", "data/store_db.sqlite"),
		UserAgentsFile:       getEnv("USER_AGENTS_FILE", ""),
		AgentCursorFile:      getEnv("AGENT_CURSOR_FILE", "data/last_user_agent_index"),
		Environment:          getEnv("STOREWATCHER_ENVIRONMENT", "development"),
	}
}

// Validate checks the configuration for obvious mistakes
func (c Config) Validate() error {
	if c.TickInterval < time.Second {
		return fmt.Errorf("tick interval too small: %v", c.TickInterval)
	}
	if c.MaxConcurrentCrawls < 1 {
		return fmt.Errorf("max concurrent crawls must be at least 1, got %d", c.MaxConcurrentCrawls)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path must not be empty")
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
