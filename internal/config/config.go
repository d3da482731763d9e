// Package config は環境変数からのアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Encryption
	EncryptionKey string

	// Issuing Provider
	IssuingAPIKey  string
	IssuingBaseURL string
	IssuingTimeout time.Duration
	FallbackBIN    string

	// Identity Provider
	IdPBaseURL string
	IdPAPIKey  string
	IdPTimeout time.Duration

	// Request Processing
	ProcessTimeout time.Duration
	PendingMaxAge  time.Duration
	SweepInterval  time.Duration

	// Notification
	PushTimeout time.Duration

	// Rate Limit
	RateLimitGeneral    int
	RateLimitCardCreate int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// ENCRYPTION_KEYは必須としない: 欠落時は暗号化モジュールが
// フェイルクローズドで全発行を失敗させる設計のため、ここでは起動を止めない。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.IssuingAPIKey = os.Getenv("ISSUING_API_KEY")
	if cfg.IssuingAPIKey == "" {
		missing = append(missing, "ISSUING_API_KEY")
	}

	cfg.IdPBaseURL = os.Getenv("IDP_BASE_URL")
	if cfg.IdPBaseURL == "" {
		missing = append(missing, "IDP_BASE_URL")
	}

	cfg.IdPAPIKey = os.Getenv("IDP_API_KEY")
	if cfg.IdPAPIKey == "" {
		missing = append(missing, "IDP_API_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.EncryptionKey = os.Getenv("ENCRYPTION_KEY")
	cfg.IssuingBaseURL = getEnvString("ISSUING_BASE_URL", "https://api.stripe.com")
	cfg.IssuingTimeout = getEnvDuration("ISSUING_TIMEOUT", 30*time.Second)
	cfg.FallbackBIN = getEnvString("FALLBACK_BIN", "5555")
	cfg.IdPTimeout = getEnvDuration("IDP_TIMEOUT", 10*time.Second)
	cfg.ProcessTimeout = getEnvDuration("PROCESS_TIMEOUT", 2*time.Minute)
	cfg.PendingMaxAge = getEnvDuration("PENDING_MAX_AGE", 24*time.Hour)
	cfg.SweepInterval = getEnvDuration("SWEEP_INTERVAL", 10*time.Minute)
	cfg.PushTimeout = getEnvDuration("PUSH_TIMEOUT", 5*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitCardCreate = getEnvInt("RATE_LIMIT_CARD_CREATE", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "chrome-extension://*")

	if !isDigits(cfg.FallbackBIN) || len(cfg.FallbackBIN) > 8 {
		return nil, fmt.Errorf("FALLBACK_BIN must be 1-8 digits: %q", cfg.FallbackBIN)
	}

	return cfg, nil
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

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) < 0
}
