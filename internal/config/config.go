package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// JWT
	JWTSecret       string
	StudentTokenTTL time.Duration

	// Gemini AI
	GeminiAPIKey         string
	GeminiModel          string
	GeminiConcurrentReqs int

	// Live sessions
	SessionTTL        time.Duration
	GenerationTimeout time.Duration

	// Quota limits per plan
	QuotaLimits map[string]int

	// Frontend
	FrontendURL string

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, err
		}
	}

	for _, key := range []string{"DATABASE_URL", "REDIS_URL", "JWT_SECRET", "GEMINI_API_KEY"} {
		if v.GetString(key) == "" {
			return nil, fmt.Errorf("required environment variable %s is not set", key)
		}
	}

	cfg := &Config{
		Port:        v.GetString("PORT"),
		Env:         v.GetString("ENV"),
		DatabaseURL: v.GetString("DATABASE_URL"),
		RedisURL:    v.GetString("REDIS_URL"),

		JWTSecret:       v.GetString("JWT_SECRET"),
		StudentTokenTTL: parseDuration(v.GetString("STUDENT_TOKEN_TTL"), 6*time.Hour),

		GeminiAPIKey:         v.GetString("GEMINI_API_KEY"),
		GeminiModel:          v.GetString("GEMINI_MODEL"),
		GeminiConcurrentReqs: v.GetInt("GEMINI_CONCURRENT_REQUESTS"),

		SessionTTL:        parseDuration(v.GetString("SESSION_TTL"), 2*time.Hour),
		GenerationTimeout: parseDuration(v.GetString("GENERATION_TIMEOUT"), 90*time.Second),

		QuotaLimits: map[string]int{
			"free":    v.GetInt("QUOTA_LIMIT_FREE"),
			"starter": v.GetInt("QUOTA_LIMIT_STARTER"),
			"pro":     v.GetInt("QUOTA_LIMIT_PRO"),
		},

		FrontendURL: v.GetString("FRONTEND_URL"),

		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("STUDENT_TOKEN_TTL", "6h")
	v.SetDefault("GEMINI_MODEL", "gemini-3-flash-preview")
	v.SetDefault("GEMINI_CONCURRENT_REQUESTS", 5)
	v.SetDefault("SESSION_TTL", "2h")
	v.SetDefault("GENERATION_TIMEOUT", "90s")
	v.SetDefault("QUOTA_LIMIT_FREE", 50)
	v.SetDefault("QUOTA_LIMIT_STARTER", 500)
	v.SetDefault("QUOTA_LIMIT_PRO", 2000)
	v.SetDefault("FRONTEND_URL", "http://localhost:5173")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
