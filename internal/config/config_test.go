package config

import (
	"testing"
)

var configKeys = []string{
	"APP_PORT", "DATABASE_DRIVER", "DATABASE_DSN", "JWT_SECRET", "APP_ENV",
	"ACCESS_TOKEN_TTL_MINUTES", "REFRESH_TOKEN_TTL_DAYS", "REDIS_URL", "ALLOWED_ORIGINS",
	"AI_BASE_URL", "OPENROUTER_API_KEY", "AI_MODEL", "AI_SYSTEM_PROMPT", "AI_MAX_TOKENS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Load() Port = %v, want 8080", cfg.Port)
	}
	if cfg.Env != "dev" {
		t.Errorf("Load() Env = %v, want dev", cfg.Env)
	}
	if cfg.DatabaseDriver != "postgres" {
		t.Errorf("Load() DatabaseDriver = %v, want postgres", cfg.DatabaseDriver)
	}
	if cfg.AccessTokenTTLMinutes != 15 {
		t.Errorf("Load() AccessTokenTTLMinutes = %v, want 15", cfg.AccessTokenTTLMinutes)
	}
	if cfg.RefreshTokenTTLDays != 7 {
		t.Errorf("Load() RefreshTokenTTLDays = %v, want 7", cfg.RefreshTokenTTLDays)
	}
	if cfg.AI.MaxTokens != 800 {
		t.Errorf("Load() AI.MaxTokens = %v, want 800", cfg.AI.MaxTokens)
	}
	if cfg.AI.Model != "openai/gpt-4o" {
		t.Errorf("Load() AI.Model = %v, want openai/gpt-4o", cfg.AI.Model)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Errorf("Load() AllowedOrigins = %v, want empty", cfg.AllowedOrigins)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_PORT", "9090")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_DSN", "file:chat.db")
	t.Setenv("JWT_SECRET", "my-secret")
	t.Setenv("APP_ENV", "prod")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "30")
	t.Setenv("REFRESH_TOKEN_TTL_DAYS", "14")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test ,")
	t.Setenv("AI_MODEL", "mistralai/mistral-7b-instruct")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("Load() Port = %v, want 9090", cfg.Port)
	}
	if cfg.DatabaseDriver != "sqlite" {
		t.Errorf("Load() DatabaseDriver = %v, want sqlite", cfg.DatabaseDriver)
	}
	if cfg.DatabaseDSN != "file:chat.db" {
		t.Errorf("Load() DatabaseDSN = %v, want file:chat.db", cfg.DatabaseDSN)
	}
	if cfg.JWTSecret != "my-secret" {
		t.Errorf("Load() JWTSecret = %v, want my-secret", cfg.JWTSecret)
	}
	if cfg.Env != "prod" {
		t.Errorf("Load() Env = %v, want prod", cfg.Env)
	}
	if cfg.AccessTokenTTLMinutes != 30 {
		t.Errorf("Load() AccessTokenTTLMinutes = %v, want 30", cfg.AccessTokenTTLMinutes)
	}
	if cfg.RefreshTokenTTLDays != 14 {
		t.Errorf("Load() RefreshTokenTTLDays = %v, want 14", cfg.RefreshTokenTTLDays)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("Load() RedisURL = %v", cfg.RedisURL)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.test" {
		t.Errorf("Load() AllowedOrigins = %v, want [http://a.test http://b.test]", cfg.AllowedOrigins)
	}
	if cfg.AI.Model != "mistralai/mistral-7b-instruct" {
		t.Errorf("Load() AI.Model = %v", cfg.AI.Model)
	}
}

func TestLoad_InvalidTTL(t *testing.T) {
	clearEnv(t)
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "invalid")
	t.Setenv("REFRESH_TOKEN_TTL_DAYS", "-5")

	cfg := Load()

	// Should fall back to defaults
	if cfg.AccessTokenTTLMinutes != 15 {
		t.Errorf("Load() AccessTokenTTLMinutes = %v, want 15 (default)", cfg.AccessTokenTTLMinutes)
	}
	if cfg.RefreshTokenTTLDays != 7 {
		t.Errorf("Load() RefreshTokenTTLDays = %v, want 7 (default)", cfg.RefreshTokenTTLDays)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "valid dev config",
			cfg:     Config{Port: "8080", DatabaseDSN: "postgres://localhost/test", JWTSecret: defaultJWTSecret, Env: "dev"},
			wantErr: false,
		},
		{
			name:    "valid prod config",
			cfg:     Config{Port: "8080", DatabaseDSN: "postgres://localhost/test", JWTSecret: "production-secret-key", Env: "prod"},
			wantErr: false,
		},
		{
			name:    "valid sqlite driver",
			cfg:     Config{Port: "8080", DatabaseDriver: "sqlite", DatabaseDSN: "file:chat.db", JWTSecret: "secret", Env: "dev"},
			wantErr: false,
		},
		{
			name:    "unknown driver",
			cfg:     Config{Port: "8080", DatabaseDriver: "oracle", DatabaseDSN: "x", JWTSecret: "secret", Env: "dev"},
			wantErr: true,
		},
		{
			name:    "empty port",
			cfg:     Config{Port: "", DatabaseDSN: "postgres://localhost/test", JWTSecret: "secret", Env: "dev"},
			wantErr: true,
		},
		{
			name:    "empty dsn",
			cfg:     Config{Port: "8080", DatabaseDSN: "", JWTSecret: "secret", Env: "dev"},
			wantErr: true,
		},
		{
			name:    "default secret in prod",
			cfg:     Config{Port: "8080", DatabaseDSN: "postgres://localhost/test", JWTSecret: defaultJWTSecret, Env: "prod"},
			wantErr: true,
		},
		{
			name:    "default secret in test env",
			cfg:     Config{Port: "8080", DatabaseDSN: "postgres://localhost/test", JWTSecret: defaultJWTSecret, Env: "test"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
