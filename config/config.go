package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL      string
	RedisAddr        string
	JWTSecret        []byte
	JWTExpireSeconds int64
	Port             string
	CORSOrigins      []string
}

func LoadConfig() (*Config, error) {
	// Load .env if present; missing file is fine in production.
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		JWTSecret:   []byte(os.Getenv("JWT_SECRET")),
		Port:        os.Getenv("PORT"),
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	cfg.JWTExpireSeconds = 86400
	if raw := os.Getenv("JWT_EXPIRE_SECONDS"); raw != "" {
		if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil && seconds > 0 {
			cfg.JWTExpireSeconds = seconds
		}
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = []string{origins}
	} else {
		cfg.CORSOrigins = []string{"*"}
	}
	return cfg, nil
}
