package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	RedisURL string

	ServerPort string

	// Messaging platform bot API
	BotAPIBaseURL string
	BotToken      string
	WebhookSecret string

	// Signing secret for inline-button action tokens
	ActionTokenSecret string

	// Per-sender webhook rate limit (events per minute)
	RateLimitPerMinute int

	WorkerCount int

	// Sweeper cadence
	RefreshIntervalSeconds int
	CleanupIntervalSeconds int

	// R2 bucket for gallery/post HTML exports
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicURL       string
}

func LoadConfig() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading it, relying on environment variables")
	}

	serverPort := os.Getenv("SERVER_PORT")
	if serverPort == "" {
		serverPort = "8080"
	}

	sslMode := os.Getenv("DB_SSLMODE")
	if sslMode == "" {
		sslMode = "require"
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}

	return &Config{
		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     os.Getenv("DB_PORT"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBSSLMode:  sslMode,

		RedisURL: redisURL,

		ServerPort: serverPort,

		BotAPIBaseURL: os.Getenv("BOT_API_BASE_URL"),
		BotToken:      os.Getenv("BOT_TOKEN"),
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),

		ActionTokenSecret: os.Getenv("ACTION_TOKEN_SECRET"),

		RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),

		WorkerCount: envInt("WORKER_COUNT", 2),

		RefreshIntervalSeconds: envInt("REFRESH_INTERVAL_SECONDS", 60),
		CleanupIntervalSeconds: envInt("CLEANUP_INTERVAL_SECONDS", 10),

		R2AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2BucketName:      os.Getenv("R2_BUCKET_NAME"),
		R2PublicURL:       os.Getenv("R2_PUBLIC_URL"),
	}, nil
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
