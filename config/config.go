package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	NodeURL         string
	ServerPort      int
	RequestTimeout  time.Duration
	MaxRetries      int
	CacheTTL        time.Duration
	RefreshInterval time.Duration
	MaxCacheEntries int
	LogLevel        string
}

func Load() *Config {
	return &Config{
		NodeURL:         getEnv("NODE_URL", "http://127.0.0.1:8545"),
		ServerPort:      parseInt(getEnv("SERVER_PORT", "8080")),
		RequestTimeout:  parseDurationMs(getEnv("REQUEST_TIMEOUT_MS", "30000")),
		MaxRetries:      parseInt(getEnv("MAX_RETRIES", "3")),
		CacheTTL:        parseDurationMs(getEnv("CACHE_TTL_MS", "600000")),
		RefreshInterval: parseDurationMs(getEnv("CACHE_REFRESH_INTERVAL_MS", "300000")),
		MaxCacheEntries: parseInt(getEnv("CACHE_MAX_ENTRIES", "1000")),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func parseInt(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}

func parseDurationMs(s string) time.Duration {
	ms, _ := strconv.Atoi(s)
	return time.Duration(ms) * time.Millisecond
}
