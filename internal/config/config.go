package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Stripe      StripeConfig
	Email       EmailConfig
	Fulfillment FulfillmentConfig
}

// StripeConfig configures inbound webhook verification.
type StripeConfig struct {
	WebhookSecret    string        `env:"STRIPE_WEBHOOK_SECRET"`
	WebhookTolerance time.Duration `env:"STRIPE_WEBHOOK_TOLERANCE" envDefault:"5m"`
}

// EmailConfig configures the outbound SMTP relay.
type EmailConfig struct {
	SMTPHost     string        `env:"SMTP_HOST" envDefault:"localhost"`
	SMTPPort     int           `env:"SMTP_PORT" envDefault:"1025"`
	SMTPUsername string        `env:"SMTP_USERNAME"`
	SMTPPassword string        `env:"SMTP_PASSWORD"`
	SMTPTimeout  time.Duration `env:"SMTP_TIMEOUT" envDefault:"10s"`
}

// FulfillmentConfig carries the sender identities and copy used by purchase notifications.
type FulfillmentConfig struct {
	From               string `env:"EMAIL_FROM" envDefault:"Tre Coleman <noreply@trecoleman.com>"`
	AlertFrom          string `env:"ALERT_FROM" envDefault:"System <noreply@trecoleman.com>"`
	AlertTo            string `env:"ALERT_TO" envDefault:"hello@trecoleman.com"`
	LoginURL           string `env:"LOGIN_URL" envDefault:"https://trecoleman.com/login.html"`
	ProductName        string `env:"PRODUCT_NAME" envDefault:"The Catering Profit System"`
	LaunchNote         string `env:"COURSE_LAUNCH_NOTE" envDefault:"Course launches March 30th, 2026."`
	SignOff            string `env:"EMAIL_SIGN_OFF" envDefault:"Tre Coleman"`
	DefaultStudentName string `env:"DEFAULT_STUDENT_NAME" envDefault:"Course Student"`
}

// Load loads configuration from environment variables and .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "courseaccess"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "courseaccess"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
	}

	if err := env.Parse(&cfg.Stripe); err != nil {
		return Config{}, fmt.Errorf("parse stripe config: %w", err)
	}
	if err := env.Parse(&cfg.Email); err != nil {
		return Config{}, fmt.Errorf("parse email config: %w", err)
	}
	if err := env.Parse(&cfg.Fulfillment); err != nil {
		return Config{}, fmt.Errorf("parse fulfillment config: %w", err)
	}
	cfg.Stripe.WebhookSecret = strings.TrimSpace(cfg.Stripe.WebhookSecret)

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
