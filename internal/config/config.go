// Package config loads the relay's runtime settings from the environment,
// falling back to defaults for anything unset or unparsable.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds the server configuration.
type Config struct {
	Addr           string
	Store          string
	DSN            string
	RedisAddr      string
	AllowedOrigins []string
	HistoryLimit   int
	RateBurst      int
	RateInterval   time.Duration
}

func Default() Config {
	return Config{
		Addr:         ":8080",
		Store:        StorePostgres,
		HistoryLimit: 50,
		RateBurst:    5,
		RateInterval: time.Second,
	}
}

// FromEnv reads DB_DSN, REDIS_ADDR, STORE, ADDR (or PORT), ALLOWED_ORIGINS,
// HISTORY_LIMIT, RATE_LIMIT_BURST and RATE_LIMIT_INTERVAL.
func FromEnv() Config {
	cfg := Default()

	if addr := os.Getenv("ADDR"); addr != "" {
		cfg.Addr = addr
	} else if port := os.Getenv("PORT"); port != "" {
		cfg.Addr = ":" + strings.TrimPrefix(port, ":")
	}
	if store := os.Getenv("STORE"); store != "" {
		cfg.Store = strings.ToLower(strings.TrimSpace(store))
	}
	cfg.DSN = os.Getenv("DB_DSN")
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = ParseList(origins)
	}
	cfg.HistoryLimit = parseInt(os.Getenv("HISTORY_LIMIT"), cfg.HistoryLimit)
	cfg.RateBurst = parseInt(os.Getenv("RATE_LIMIT_BURST"), cfg.RateBurst)
	cfg.RateInterval = parseDuration(os.Getenv("RATE_LIMIT_INTERVAL"), cfg.RateInterval)

	return cfg
}

func (c Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DSN == "" {
			return fmt.Errorf("DB_DSN is not set")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	return nil
}

func ParseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInt(value string, def int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && n > 0 {
		return n
	}
	return def
}

// parseDuration accepts Go durations ("500ms") or whole seconds ("2").
func parseDuration(value string, def time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return def
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return def
}
