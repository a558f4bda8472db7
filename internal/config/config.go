// Package config loads the server's environment configuration (§6). Every
// variable except CLIPSHARE_SERVER_SALT is optional; unset variables fall
// back to the documented default. Load fails if the salt is unset or the
// bcrypt cost is below 12.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	BindAddr string

	UploadDir string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	BcryptCost int

	LogLevel string

	CORSAllowedOrigins []string

	// ServerSalt is mixed into the deterministic user-id derivation
	// (fingerprint, roomKey, salt) -> uuid. Required: without it, user-ids
	// would be derivable by anyone who knows a fingerprint.
	ServerSalt string

	RedisAddr string

	BaseURL string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		BindAddr:           getEnv("CLIPSHARE_BIND_ADDR", ":8080"),
		UploadDir:          getEnv("CLIPSHARE_UPLOAD_DIR", "./uploads"),
		ReadTimeout:        getEnvAsDuration("CLIPSHARE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:       getEnvAsDuration("CLIPSHARE_WRITE_TIMEOUT", 15*time.Second),
		BcryptCost:         getEnvAsInt("CLIPSHARE_BCRYPT_COST", 12),
		LogLevel:           getEnv("CLIPSHARE_LOG_LEVEL", "info"),
		CORSAllowedOrigins: getEnvAsSlice("CLIPSHARE_CORS_ORIGINS", []string{"*"}),
		ServerSalt:         getEnv("CLIPSHARE_SERVER_SALT", ""),
		RedisAddr:          getEnv("CLIPSHARE_REDIS_ADDR", "localhost:6379"),
		BaseURL:            strings.TrimSuffix(getEnv("CLIPSHARE_BASE_URL", "http://localhost:8080"), "/"),
	}

	if cfg.ServerSalt == "" {
		return nil, fmt.Errorf("CLIPSHARE_SERVER_SALT is required")
	}
	if cfg.BcryptCost < 12 {
		return nil, fmt.Errorf("CLIPSHARE_BCRYPT_COST must be >= 12")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
