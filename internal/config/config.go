package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port                  string
	DatabaseDriver        string
	DatabaseDSN           string
	JWTSecret             string
	Env                   string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int
	RedisURL              string
	AllowedOrigins        []string

	AI AIConfig
}

// AIConfig 描述 AI 回复使用的 chat-completions 上游。
type AIConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
	MaxTokens    int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, ""))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func Load() Config {
	// .env 仅用于本地开发，缺失时忽略。
	_ = godotenv.Load()

	var origins []string
	for _, o := range strings.Split(getenv("ALLOWED_ORIGINS", ""), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		DatabaseDriver:        getenv("DATABASE_DRIVER", "postgres"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=chatnest port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:             getenv("JWT_SECRET", defaultJWTSecret),
		Env:                   getenv("APP_ENV", "dev"),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTLDays:   getenvInt("REFRESH_TOKEN_TTL_DAYS", 7),
		RedisURL:              os.Getenv("REDIS_URL"),
		AllowedOrigins:        origins,
		AI: AIConfig{
			BaseURL:      getenv("AI_BASE_URL", "https://openrouter.ai/api/v1"),
			APIKey:       os.Getenv("OPENROUTER_API_KEY"),
			Model:        getenv("AI_MODEL", "openai/gpt-4o"),
			SystemPrompt: getenv("AI_SYSTEM_PROMPT", "You are a helpful AI assistant."),
			MaxTokens:    getenvInt("AI_MAX_TOKENS", 800),
		},
	}
}

// Validate 检查启动所需的关键配置，非 dev 环境禁止使用默认 JWT 密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required")
	}
	switch cfg.DatabaseDriver {
	case "", "postgres", "mysql", "sqlite":
	default:
		return errors.New("DATABASE_DRIVER must be one of postgres, mysql, sqlite")
	}
	if cfg.Env != "dev" && (cfg.JWTSecret == "" || cfg.JWTSecret == defaultJWTSecret) {
		return errors.New("JWT_SECRET must be set outside dev")
	}
	return nil
}
