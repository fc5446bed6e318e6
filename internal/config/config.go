package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dustin/go-humanize"
)

type Config struct {
	// HTTP
	Addr        string
	CORSOrigins []string
	RateLimit   int // requests per minute per client IP

	// Storage chain; see storage.Open for the accepted forms.
	Durable      string
	SessionStore string
	DurableQuota uint64 // bytes, 0 for unlimited

	// Cross-tab transport; see broadcast.Open.
	Broadcast string
	Channel   string

	// Cache
	CachePrefix      string
	CacheCleanupCron string

	// Tab coordination
	HeartbeatInterval time.Duration
	AuthCheckInterval time.Duration
	WatchInterval     time.Duration
	StaleAfter        time.Duration

	// Dev login endpoint
	DevTokens     bool
	DevSigningKey string
	DevTokenTTL   time.Duration

	Environment string
	LogLevel    string
}

func Load() Config {
	return Config{
		Addr:        getenv("SHELL_ADDR", ":8090"),
		CORSOrigins: getlist("CORS_ORIGINS", []string{"*"}),
		RateLimit:   getint("SHELL_RATE_LIMIT", 300),

		Durable:      getenv("SHELL_DURABLE", "pebble://./data/shell"),
		SessionStore: getenv("SHELL_SESSION_STORE", "memory"),
		DurableQuota: getbytes("SHELL_DURABLE_QUOTA", 5*humanize.MByte),

		Broadcast: getenv("SHELL_BROADCAST", "hub"),
		Channel:   getenv("SHELL_CHANNEL", "sg_tabs"),

		CachePrefix:      getenv("SHELL_CACHE_PREFIX", "sg_cache_"),
		CacheCleanupCron: getcron("SHELL_CACHE_CLEANUP_CRON", "*/5 * * * *"),

		HeartbeatInterval: getdur("SHELL_HEARTBEAT_INTERVAL", 5*time.Second),
		AuthCheckInterval: getdur("SHELL_AUTH_CHECK_INTERVAL", 30*time.Second),
		WatchInterval:     getdur("SHELL_WATCH_INTERVAL", time.Second),
		StaleAfter:        getdur("SHELL_STALE_AFTER", 30*time.Second),

		DevTokens:     getbool("SHELL_DEV_TOKENS", false),
		DevSigningKey: getenv("SHELL_DEV_SIGNING_KEY", ""),
		DevTokenTTL:   getdur("SHELL_DEV_TOKEN_TTL", time.Hour),

		Environment: getenv("ENVIRONMENT", "dev"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		slog.Warn("invalid bool, using default", "key", k, "value", v, "default", def)
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		slog.Warn("invalid int, using default", "key", k, "value", v, "default", def)
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		slog.Warn("invalid duration, using default", "key", k, "value", v, "default", def)
	}
	return def
}

// getbytes accepts sizes like "5MB", "512 KiB" or a plain byte count.
func getbytes(k string, def uint64) uint64 {
	if v := os.Getenv(k); v != "" {
		if n, err := humanize.ParseBytes(v); err == nil {
			return n
		}
		slog.Warn("invalid size, using default", "key", k, "value", v, "default", humanize.Bytes(def))
	}
	return def
}

func getcron(k, def string) string {
	if v := os.Getenv(k); v != "" {
		if gronx.New().IsValid(v) {
			return v
		}
		slog.Warn("invalid cron expression, using default", "key", k, "value", v, "default", def)
	}
	return def
}

func getlist(k string, def []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
