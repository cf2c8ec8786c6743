package environments

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Gateway  GatewayConfig
	Storage  StorageConfig
	Worker   WorkerConfig
	Bot      BotConfig
	Auth     AuthConfig
	Crypto   CryptoConfig
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type GatewayConfig struct {
	BaseURL         string
	RequestTimeout  time.Duration
	DownloadTimeout time.Duration
}

type StorageConfig struct {
	BaseURL   string
	PublicURL string
	AuthToken string
	Timeout   time.Duration
}

type WorkerConfig struct {
	OutboxBatchSize int
	MediaBatchSize  int
	OutboxSchedule  string
	MediaSchedule   string
	HealthSchedule  string
	DefaultAttempts int
}

type BotConfig struct {
	CallTimeout time.Duration
	MarkerTTL   time.Duration
	DraftTTL    time.Duration
}

type AuthConfig struct {
	MessagesAPIKey string
	CronSecret     string
}

type CryptoConfig struct {
	Key string
}

func Load() *Config {
	// Best effort; env vars win over .env values.
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port: GetEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     GetEnv("DB_HOST", "localhost"),
			Port:     GetEnv("DB_PORT", "3306"),
			User:     GetEnv("DB_USER", "relay"),
			Password: GetEnv("DB_PASSWORD", "relay123"),
			DBName:   GetEnv("DB_NAME", "messaging_relay"),
		},
		Redis: RedisConfig{
			Host:     GetEnv("REDIS_HOST", "localhost"),
			Port:     GetEnv("REDIS_PORT", "6379"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       GetEnvAsInt("REDIS_DB", 0),
		},
		Gateway: GatewayConfig{
			BaseURL:         GetEnv("GATEWAY_BASE_URL", "https://gate.whapi.cloud"),
			RequestTimeout:  time.Duration(GetEnvAsInt("GATEWAY_TIMEOUT_SECONDS", 10)) * time.Second,
			DownloadTimeout: time.Duration(GetEnvAsInt("GATEWAY_DOWNLOAD_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Storage: StorageConfig{
			BaseURL:   GetEnv("STORAGE_BASE_URL", ""),
			PublicURL: GetEnv("STORAGE_PUBLIC_URL", ""),
			AuthToken: GetEnv("STORAGE_AUTH_TOKEN", ""),
			Timeout:   time.Duration(GetEnvAsInt("STORAGE_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Worker: WorkerConfig{
			OutboxBatchSize: GetEnvAsInt("OUTBOX_BATCH_SIZE", 25),
			MediaBatchSize:  GetEnvAsInt("MEDIA_BATCH_SIZE", 10),
			OutboxSchedule:  GetEnv("OUTBOX_SCHEDULE", "* * * * *"),
			MediaSchedule:   GetEnv("MEDIA_SCHEDULE", "* * * * *"),
			HealthSchedule:  GetEnv("HEALTH_SCHEDULE", "*/5 * * * *"),
			DefaultAttempts: GetEnvAsInt("DEFAULT_MAX_ATTEMPTS", 5),
		},
		Bot: BotConfig{
			CallTimeout: time.Duration(GetEnvAsInt("BOT_CALL_TIMEOUT_SECONDS", 10)) * time.Second,
			MarkerTTL:   GetEnvAsDuration("BOT_MARKER_TTL", 2*time.Minute),
			DraftTTL:    GetEnvAsDuration("BOT_DRAFT_TTL", 24*time.Hour),
		},
		Auth: AuthConfig{
			MessagesAPIKey: GetEnv("MESSAGES_API_KEY", ""),
			CronSecret:     GetEnv("CRON_SECRET", ""),
		},
		Crypto: CryptoConfig{
			Key: GetEnv("TOKEN_ENCRYPTION_KEY", ""),
		},
	}
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
