package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr                string
	PlatformBaseURL         string
	PlatformToken           string
	PlatformTimeout         time.Duration
	JWTSecret               string
	JWTIssuer               string
	RedisAddr               string
	RedisPassword           string
	RosterCacheTTL          time.Duration
	ReportPollInterval      time.Duration
	ReportMaxPolls          int
	SessionCloseJobEnabled  bool
	SessionCloseJobInterval time.Duration
	SessionCloseJobTimeout  time.Duration
	SessionCloseAfter       time.Duration
}

func Load() Config {
	return Config{
		HTTPAddr:                getenv("HTTP_ADDR", ":8084"),
		PlatformBaseURL:         getenv("PLATFORM_BASE_URL", "http://127.0.0.1:8000/api"),
		PlatformToken:           getenv("PLATFORM_TOKEN", ""),
		PlatformTimeout:         getenvDuration("PLATFORM_TIMEOUT", 10*time.Second),
		JWTSecret:               getenv("JWT_SECRET", "dev-secret"),
		JWTIssuer:               getenv("JWT_ISSUER", "campus-auth"),
		RedisAddr:               getenv("REDIS_ADDR", ""),
		RedisPassword:           getenv("REDIS_PASSWORD", ""),
		RosterCacheTTL:          getenvDuration("ROSTER_CACHE_TTL", 5*time.Minute),
		ReportPollInterval:      getenvDuration("REPORT_POLL_INTERVAL", time.Second),
		ReportMaxPolls:          getenvInt("REPORT_MAX_POLLS", 300),
		SessionCloseJobEnabled:  getenvBool("SESSION_CLOSE_JOB_ENABLED", false),
		SessionCloseJobInterval: getenvDuration("SESSION_CLOSE_JOB_INTERVAL", time.Hour),
		SessionCloseJobTimeout:  getenvDuration("SESSION_CLOSE_JOB_TIMEOUT", 30*time.Second),
		SessionCloseAfter:       getenvDuration("SESSION_CLOSE_AFTER", 7*24*time.Hour),
	}
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}
