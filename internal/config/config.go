// Package config loads the typed Config recognized by the crawl engine
// (spec §6) from environment variables. Helper style grounded on
// codepr-webcrawler's env.GetEnv/GetEnvAsInt.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// QueueBackend selects the URL Queue implementation.
type QueueBackend string

const (
	BackendMemory  QueueBackend = "memory"
	BackendDurable QueueBackend = "durable"
)

// Config is every setting the core accepts (spec §6).
type Config struct {
	MaxDepth               int
	MaxPages               int
	ConcurrentWorkers      int
	RateLimitDelay         time.Duration
	RequestTimeout         time.Duration
	MaxRetries             int
	UserAgent              string
	MaxConnections         int
	MaxConnectionsPerHost  int
	DNSCacheTTL            time.Duration
	AllowedDomains         []string
	BlockedDomains         []string
	AllowedContentTypes    []string
	MaxPageSize            int64
	MinTextLength          int
	MaxWordsPerPage        int
	QueueBackend           QueueBackend
	QueueLeaseDuration     time.Duration
	QueueRecoveryInterval  time.Duration
	QueueRetention         time.Duration
	RobotsCacheTTL         time.Duration
	RobotsCrawlDelayFloor  time.Duration
	MemoryLimitMB          int64
	LogLevel               string

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
}

// FromEnv loads Config from environment variables, applying the defaults
// below for anything unset.
func FromEnv() Config {
	return Config{
		MaxDepth:              getEnvAsInt("CRAWLER_MAX_DEPTH", 5),
		MaxPages:              getEnvAsInt("CRAWLER_MAX_PAGES", 0),
		ConcurrentWorkers:     getEnvAsInt("CRAWLER_CONCURRENT_WORKERS", 10),
		RateLimitDelay:        getEnvAsDuration("CRAWLER_RATE_LIMIT_DELAY", 500*time.Millisecond),
		RequestTimeout:        getEnvAsDuration("CRAWLER_REQUEST_TIMEOUT", 10*time.Second),
		MaxRetries:            getEnvAsInt("CRAWLER_MAX_RETRIES", 3),
		UserAgent:             getEnv("CRAWLER_USER_AGENT", "crawler/1.0"),
		MaxConnections:        getEnvAsInt("CRAWLER_MAX_CONNECTIONS", 100),
		MaxConnectionsPerHost: getEnvAsInt("CRAWLER_MAX_CONNECTIONS_PER_HOST", 4),
		DNSCacheTTL:           getEnvAsDuration("CRAWLER_DNS_CACHE_TTL", 5*time.Minute),
		AllowedDomains:        getEnvAsList("CRAWLER_ALLOWED_DOMAINS", nil),
		BlockedDomains:        getEnvAsList("CRAWLER_BLOCKED_DOMAINS", nil),
		AllowedContentTypes:   getEnvAsList("CRAWLER_ALLOWED_CONTENT_TYPES", []string{"text/html", "application/xhtml+xml"}),
		MaxPageSize:           getEnvAsInt64("CRAWLER_MAX_PAGE_SIZE", 10<<20),
		MinTextLength:         getEnvAsInt("CRAWLER_MIN_TEXT_LENGTH", 0),
		MaxWordsPerPage:       getEnvAsInt("CRAWLER_MAX_WORDS_PER_PAGE", 0),
		QueueBackend:          QueueBackend(getEnv("CRAWLER_QUEUE_BACKEND", string(BackendMemory))),
		QueueLeaseDuration:    getEnvAsDuration("CRAWLER_QUEUE_LEASE_DURATION", 5*time.Minute),
		QueueRecoveryInterval: getEnvAsDuration("CRAWLER_QUEUE_RECOVERY_INTERVAL", time.Minute),
		QueueRetention:        getEnvAsDuration("CRAWLER_QUEUE_RETENTION", 24*time.Hour),
		RobotsCacheTTL:        getEnvAsDuration("CRAWLER_ROBOTS_CACHE_TTL", time.Hour),
		RobotsCrawlDelayFloor: getEnvAsDuration("CRAWLER_ROBOTS_CRAWL_DELAY_FLOOR", 0),
		MemoryLimitMB:         getEnvAsInt64("CRAWLER_MEMORY_LIMIT_MB", 0),
		LogLevel:              getEnv("LOG_LEVEL", "info"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvAsInt("DB_PORT", 5432),
		DBName:     getEnv("DB_NAME", "crawler"),
		DBUser:     getEnv("DB_USER", "crawler"),
		DBPassword: getEnv("DB_PASSWORD", ""),
	}
}

// DSN builds a libpq-style connection string for pgxpool.
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword)
}

func getEnv(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if v, err := strconv.ParseInt(getEnv(key, ""), 10, 64); err == nil {
		return v
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return defaultVal
}

func getEnvAsList(key string, defaultVal []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultVal
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
