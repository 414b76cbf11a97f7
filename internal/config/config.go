package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ストレージバックエンド。
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Storage
	StorageBackend string
	SQLitePath     string
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	// Session
	AutoMockLogin bool
	MockLoginID   string
	MockPassword  string

	// Meetup
	NearbyRadiusKm float64
	SeedMeetups    bool

	// Password reset
	ResetCodeTTL         time.Duration
	ResetCleanupInterval time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitReset   int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 設定に問題がある場合は全ての問題をまとめてエラーとして返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.StorageBackend = strings.ToLower(getEnvString("STORAGE_BACKEND", BackendSQLite))
	cfg.SQLitePath = getEnvString("SQLITE_PATH", "meetup.db")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)

	cfg.AutoMockLogin = getEnvBool("AUTO_MOCK_LOGIN", false)
	cfg.MockLoginID = getEnvString("MOCK_LOGIN_ID", "demo@meetup.local")
	cfg.MockPassword = getEnvString("MOCK_PASSWORD", "password1234")

	cfg.NearbyRadiusKm = getEnvFloat("NEARBY_RADIUS_KM", 3.0)
	cfg.SeedMeetups = getEnvBool("SEED_MEETUPS", true)

	cfg.ResetCodeTTL = getEnvDuration("RESET_CODE_TTL", 10*time.Minute)
	cfg.ResetCleanupInterval = getEnvDuration("RESET_CLEANUP_INTERVAL", time.Hour)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitReset = getEnvInt("RATE_LIMIT_RESET", 5)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:8081")
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))

	if problems := cfg.validate(); len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration: %v", problems)
	}
	return cfg, nil
}

// validate は設定値の問題を列挙する。
func (c *Config) validate() []string {
	var problems []string

	switch c.StorageBackend {
	case BackendMemory:
	case BackendSQLite:
		if c.SQLitePath == "" {
			problems = append(problems, "SQLITE_PATH")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL")
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			problems = append(problems, "REDIS_ADDR")
		}
	default:
		problems = append(problems, fmt.Sprintf("STORAGE_BACKEND=%q", c.StorageBackend))
	}

	if c.AutoMockLogin && c.MockLoginID == "" {
		problems = append(problems, "MOCK_LOGIN_ID")
	}
	if c.NearbyRadiusKm <= 0 {
		problems = append(problems, "NEARBY_RADIUS_KM")
	}
	if c.ResetCodeTTL <= 0 {
		problems = append(problems, "RESET_CODE_TTL")
	}
	if c.ResetCleanupInterval <= 0 {
		problems = append(problems, "RESET_CLEANUP_INTERVAL")
	}
	if c.RateLimitGeneral <= 0 {
		problems = append(problems, "RATE_LIMIT_GENERAL")
	}
	if c.RateLimitReset <= 0 {
		problems = append(problems, "RATE_LIMIT_RESET")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("LOG_LEVEL=%q", c.LogLevel))
	}
	return problems
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
