package config

import (
	"log"
	"os"
	"strconv"
)

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	MaxRetries  int
	DialTimeout int
	Timeout     int
	Prefix      string
}

type S3Config struct {
	Enabled         bool
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
	Prefix          string
}

type GatewayConfig struct {
	BaseURL       string
	ClientID      string
	APIKey        string
	BankAccount   string
	BankName      string
	AccountHolder string
	Timeout       int
}

// PaymentConfig tunes the reconciliation engine.
type PaymentConfig struct {
	// ExpiryMinutes is how long a pending intent waits for a transfer.
	ExpiryMinutes int
	// SweepSeconds is the period of the durable expiry sweep.
	SweepSeconds int
	// WebhookTimeoutSeconds bounds synchronous callback processing before
	// the work moves to the async retry path.
	WebhookTimeoutSeconds int
}

type AppConfig struct {
	Port     string
	Postgres PostgresConfig
	Redis    RedisConfig
	S3       S3Config
	Gateway  GatewayConfig
	Payment  PaymentConfig

	MediaDir          string
	FilesPublicPrefix string
	ExternalURL       string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func mustAtoi(s string) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int value %q: %v", s, err)
	}
	return i
}

func mustBool(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		log.Fatalf("invalid bool value %q: %v", s, err)
	}
	return b
}

func Load() AppConfig {
	return AppConfig{
		Port: getenv("APP_PORT", "8020"),
		Postgres: PostgresConfig{
			Host:     getenv("PG_HOST", "127.0.0.1"),
			Port:     mustAtoi(getenv("PG_PORT", "5432")),
			User:     getenv("PG_USER", "root"),
			Password: getenv("PG_PASSWORD", ""),
			DBName:   getenv("PG_DB", "tutorpay"),
			SSLMode:  getenv("PG_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:        getenv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:    getenv("REDIS_PASSWORD", ""),
			DB:          mustAtoi(getenv("REDIS_DB", "0")),
			MaxRetries:  mustAtoi(getenv("REDIS_MAX_RETRIES", "5")),
			DialTimeout: mustAtoi(getenv("REDIS_DIAL_TIMEOUT", "10")),
			Timeout:     mustAtoi(getenv("REDIS_TIMEOUT", "5")),
			Prefix:      getenv("REDIS_PREFIX", "tutorpay:"),
		},
		S3: S3Config{
			Enabled:         mustBool(getenv("S3_ENABLED", "false")),
			Endpoint:        getenv("S3_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getenv("S3_ACCESS_KEY", "minio"),
			SecretAccessKey: getenv("S3_SECRET_KEY", "minio123"),
			Bucket:          getenv("S3_BUCKET", "tutorpay-media"),
			Region:          getenv("S3_REGION", "us-east-1"),
			UseSSL:          mustBool(getenv("S3_USE_SSL", "false")),
			Prefix:          getenv("S3_PREFIX", ""),
		},
		Gateway: GatewayConfig{
			BaseURL:       getenv("GATEWAY_BASE_URL", "https://api-sandbox.vietqr.example"),
			ClientID:      getenv("GATEWAY_CLIENT_ID", ""),
			APIKey:        getenv("GATEWAY_API_KEY", ""),
			BankAccount:   getenv("GATEWAY_BANK_ACCOUNT", ""),
			BankName:      getenv("GATEWAY_BANK_NAME", ""),
			AccountHolder: getenv("GATEWAY_ACCOUNT_HOLDER", ""),
			Timeout:       mustAtoi(getenv("GATEWAY_TIMEOUT", "10")),
		},
		Payment: PaymentConfig{
			ExpiryMinutes:         mustAtoi(getenv("PAYMENT_EXPIRY_MINUTES", "15")),
			SweepSeconds:          mustAtoi(getenv("PAYMENT_SWEEP_SECONDS", "60")),
			WebhookTimeoutSeconds: mustAtoi(getenv("PAYMENT_WEBHOOK_TIMEOUT_SECONDS", "10")),
		},
		MediaDir:          getenv("MEDIA_DIR", "./media"),
		FilesPublicPrefix: getenv("FILES_PUBLIC_PREFIX", "/files"),
		ExternalURL:       getenv("EXTERNAL_URL", ""),
	}
}
