// Package config loads node configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for a meshchat node.
type Config struct {
	NodeID      uint8  // mesh origin identifier, 1..255
	DisplayName string // default display name for originated messages
	DataDir     string // identity database location

	PeerListen string // TCP listen address for peer links
	HTTPListen string // client-facing HTTP address

	MaxHop        uint8 // TTL budget stamped on originated packets
	LogCapacity   int   // message log retention
	CacheCapacity int   // duplicate suppression window

	JitterMin time.Duration // rebroadcast jitter window
	JitterMax time.Duration

	Env string
}

// Load reads configuration from environment variables, consulting a .env
// file if present. NodeID is the only required value.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DisplayName:   getEnv("MESHCHAT_NAME", ""),
		DataDir:       getEnv("MESHCHAT_DATA", defaultDataDir()),
		PeerListen:    getEnv("MESHCHAT_PEER_LISTEN", "0.0.0.0:4545"),
		HTTPListen:    getEnv("MESHCHAT_HTTP_LISTEN", "127.0.0.1:8080"),
		LogCapacity:   getEnvInt("MESHCHAT_LOG_CAPACITY", 50),
		CacheCapacity: getEnvInt("MESHCHAT_CACHE_CAPACITY", 40),
		JitterMin:     getEnvDuration("MESHCHAT_JITTER_MIN", 20*time.Millisecond),
		JitterMax:     getEnvDuration("MESHCHAT_JITTER_MAX", 150*time.Millisecond),
		Env:           getEnv("MESHCHAT_ENV", "development"),
	}

	id := getEnvInt("MESHCHAT_NODE_ID", 0)
	if id < 1 || id > 255 {
		return nil, fmt.Errorf("config: MESHCHAT_NODE_ID must be 1..255, got %d", id)
	}
	cfg.NodeID = uint8(id)

	hop := getEnvInt("MESHCHAT_MAX_HOP", 3)
	if hop < 0 || hop > 255 {
		return nil, fmt.Errorf("config: MESHCHAT_MAX_HOP must be 0..255, got %d", hop)
	}
	cfg.MaxHop = uint8(hop)

	if cfg.JitterMax < cfg.JitterMin {
		return nil, fmt.Errorf("config: jitter window inverted (%s > %s)", cfg.JitterMin, cfg.JitterMax)
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func defaultDataDir() string {
	home, _ := os.UserHomeDir()
	return home + "/.meshchat"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
