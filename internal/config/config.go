// Package config collects runtime configuration from the environment.
// A .env file in the working directory is loaded first when present.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the settings shared across the marketsync roles. Each role
// reads the subset it needs; unset values fall back to defaults suitable
// for a single-host deployment.
type Config struct {
	DatabaseURL    string
	FeedURL        string
	RedisAddrs     []string // candidate addresses, priority order
	Port           string
	DumpBaseURL    string
	DumpCacheDir   string
	CheckpointPath string
	AdapterBin     string // command the daemon spawns when no adapter announces itself
	FlushInterval  time.Duration
}

// Load reads configuration from the environment, honoring a .env file.
func Load() *Config {
	// Missing .env is fine; env vars may come from the process environment.
	_ = godotenv.Load()

	return &Config{
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		FeedURL:        getEnv("FEED_URL", "wss://feed.galnet.dev/listen"),
		RedisAddrs:     splitList(getEnv("REDIS_URL", "localhost:6379")),
		Port:           getEnv("PORT", "8090"),
		DumpBaseURL:    getEnv("DUMP_BASE_URL", "https://dumps.galnet.dev/stations"),
		DumpCacheDir:   getEnv("DUMP_CACHE_DIR", "./dumps"),
		CheckpointPath: getEnv("CHECKPOINT_PATH", "./import-checkpoint.json"),
		AdapterBin:     getEnv("ADAPTER_BIN", os.Args[0]+" adapter"),
		FlushInterval:  getDuration("FLUSH_INTERVAL", 10*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
