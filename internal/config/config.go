package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ListenAddr        string
	DBDriver          string
	DBPath            string
	DBDSN             string
	PhotoPath         string
	PhotoMaxDimension uint
	LogLevel          string
	LogFile           string
	LogFormat         string
	CacheTTL          time.Duration
	CacheLimit        int
	SearchDebounce    time.Duration
	RemoteTimeout     time.Duration
	RedisAddr         string
	PushChannel       string
}

func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  getEnv("LISTEN_ADDR", ":8080"),
		DBDriver:    getEnv("DB_DRIVER", "sqlite"),
		DBPath:      getEnv("DB_PATH", "/data/storagesync.db"),
		DBDSN:       getEnv("DB_DSN", ""),
		PhotoPath:   getEnv("PHOTO_LOCAL_PATH", "/data/photos"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     getEnv("LOG_FILE", ""),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
		RedisAddr:   getEnv("REDIS_ADDR", ""),
		PushChannel: getEnv("PUSH_CHANNEL", "storagesync:push"),
	}

	var err error
	if cfg.CacheTTL, err = getDuration("CACHE_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.SearchDebounce, err = getDuration("SEARCH_DEBOUNCE", 200*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.RemoteTimeout, err = getDuration("REMOTE_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.CacheLimit, err = getInt("CACHE_LIMIT", 500); err != nil {
		return nil, err
	}
	maxDim, err := getInt("PHOTO_MAX_DIMENSION", 1600)
	if err != nil {
		return nil, err
	}
	cfg.PhotoMaxDimension = uint(maxDim)

	switch cfg.DBDriver {
	case "sqlite":
		if cfg.DBDSN == "" {
			cfg.DBDSN = cfg.DBPath
		}
	case "mysql":
		if cfg.DBDSN == "" {
			return nil, fmt.Errorf("DB_DSN is required when DB_DRIVER=mysql")
		}
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	return cfg, nil
}

// PushEnabled reports whether remote push delivery over Redis is configured.
func (c *Config) PushEnabled() bool {
	return c.RedisAddr != ""
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val, exists := os.LookupEnv(key)
	if !exists || val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func getInt(key string, defaultVal int) (int, error) {
	val, exists := os.LookupEnv(key)
	if !exists || val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return n, nil
}
