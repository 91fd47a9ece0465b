// Package config consolidates every environment knob the two nodes read.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is loaded once at startup and passed down by value.
type Config struct {
	// Shared
	RedisURL  string
	LogLevel  string
	LogFile   string
	JWTSecret []byte
	TokenTTL  time.Duration

	// API node
	BindHost string
	APIPort  string

	// Fanout node
	FanoutPort    string
	FlushInterval time.Duration

	// Policy defaults (sites may override some via settings)
	MaxCommentLen  int
	AllowLocalhost bool
	TrustedProxies []string

	// Rate limits (per minute unless noted)
	RateLimitIP      int
	RateLimitAPIKey  int
	RateLimitUser    int
	RateLimitWindow  time.Duration

	// Collaborators
	TurnstileSecret    string
	SESRegion          string
	SESFromAddress     string
	S3Region           string
	S3Bucket           string
	CDNBaseURL         string
	OTLPEndpoint       string
	GoogleClientID     string
	GoogleClientSecret string
	GitHubClientID     string
	GitHubClientSecret string
	DiscordClientID    string
	DiscordClientSecret string
	OAuthBaseURL       string
}

// Load reads the environment. Callers run godotenv.Load first so a .env
// file can supply values in development.
func Load() Config {
	return Config{
		RedisURL:  getEnv("REDIS_URL", "redis://localhost:6379/0"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFile:   getEnv("LOG_FILE", ""),
		JWTSecret: []byte(os.Getenv("JWT_SECRET")),
		TokenTTL:  getDuration("TOKEN_TTL", 24*time.Hour),

		BindHost: getEnv("BIND_HOST", ""),
		APIPort:  getEnv("PORT", "8080"),

		FanoutPort:    getEnv("FANOUT_PORT", "8081"),
		FlushInterval: getDuration("FLUSH_INTERVAL", 20*time.Millisecond),

		MaxCommentLen:  getInt("MAX_COMMENT_LEN", 10000),
		AllowLocalhost: getBool("ALLOW_LOCALHOST_ORIGIN", false),
		TrustedProxies: getList("TRUSTED_PROXIES"),

		RateLimitIP:     getInt("RATE_LIMIT_IP", 300),
		RateLimitAPIKey: getInt("RATE_LIMIT_APIKEY", 1200),
		RateLimitUser:   getInt("RATE_LIMIT_USER", 60),
		RateLimitWindow: getDuration("RATE_LIMIT_WINDOW", time.Minute),

		TurnstileSecret:     os.Getenv("TURNSTILE_SECRET"),
		SESRegion:           getEnv("AWS_REGION", "us-east-1"),
		SESFromAddress:      getEnv("SES_FROM", "no-reply@threadkit.dev"),
		S3Region:            getEnv("AWS_REGION", "us-east-1"),
		S3Bucket:            os.Getenv("AWS_BUCKET"),
		CDNBaseURL:          os.Getenv("CDN_BASE_URL"),
		OTLPEndpoint:        os.Getenv("OTLP_ENDPOINT"),
		GoogleClientID:      os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret:  os.Getenv("GOOGLE_CLIENT_SECRET"),
		GitHubClientID:      os.Getenv("GITHUB_CLIENT_ID"),
		GitHubClientSecret:  os.Getenv("GITHUB_CLIENT_SECRET"),
		DiscordClientID:     os.Getenv("DISCORD_CLIENT_ID"),
		DiscordClientSecret: os.Getenv("DISCORD_CLIENT_SECRET"),
		OAuthBaseURL:        getEnv("API_BASE_URL", "http://localhost:8080"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
