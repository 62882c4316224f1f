package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string
	Database    DatabaseConfig
	Fulfiller   FulfillerConfig
	Payment     PaymentConfig
	API         APIConfig
	Sweep       SweepConfig
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// FulfillerConfig is used to call the print fulfiller and to receive its
// status callbacks. WebhookToken is the secret path segment of the callback
// URL; the fulfiller cannot sign requests, so the URL itself is the
// capability.
type FulfillerConfig struct {
	BaseURL         string // e.g. https://api.printfulfiller.com
	APIKey          string
	CallbackBaseURL string // public base URL of this service, e.g. https://api.vesabooks.com
	WebhookToken    string
	ShippingMethod  string // default shipping method for submissions
}

// PaymentConfig is used to charge the customer's captured payment instrument.
type PaymentConfig struct {
	BaseURL  string // e.g. https://api.payprocessor.com
	APIKey   string
	Currency string // ISO 4217 lowercase, e.g. "usd"
}

type APIConfig struct {
	ServiceKey string // X-Service-Key for the internal order/query endpoints
}

// SweepConfig controls the reconciliation sweep that polls the fulfiller for
// print orders stuck waiting on a webhook that never arrived.
type SweepConfig struct {
	Interval       time.Duration
	StuckThreshold time.Duration
}

func Load() (*Config, error) {
	viper.SetConfigType("env")
	viper.SetConfigName(".env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")

	// Set defaults
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("LOG_LEVEL", "info")

	// Read from environment variables
	viper.AutomaticEnv()

	// Try to read .env file (optional)
	if err := viper.ReadInConfig(); err != nil {
		// It's okay if .env doesn't exist, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	sweepInterval, err := time.ParseDuration(getEnvOrViper("SWEEP_INTERVAL", "10m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SWEEP_INTERVAL: %w", err)
	}
	stuckThreshold, err := time.ParseDuration(getEnvOrViper("SWEEP_STUCK_THRESHOLD", "30m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SWEEP_STUCK_THRESHOLD: %w", err)
	}

	cfg := &Config{
		Port:        getEnvOrViper("PORT", "8080"),
		Environment: getEnvOrViper("ENVIRONMENT", "development"),
		LogLevel:    getEnvOrViper("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			Host:     getEnvOrViper("DB_HOST", "localhost"),
			Port:     getEnvOrViper("DB_PORT", "5432"),
			User:     getEnvOrViper("DB_USER", "postgres"),
			Password: getEnvOrViper("DB_PASSWORD", "postgres"),
			DBName:   getEnvOrViper("DB_NAME", "printapi"),
			SSLMode:  getEnvOrViper("DB_SSLMODE", "disable"),
		},
		Fulfiller: FulfillerConfig{
			BaseURL:         strings.TrimSpace(getEnvOrViper("FULFILLER_BASE_URL", "")),
			APIKey:          strings.TrimSpace(getEnvOrViper("FULFILLER_API_KEY", "")),
			CallbackBaseURL: strings.TrimSpace(getEnvOrViper("FULFILLER_CALLBACK_BASE_URL", "")),
			WebhookToken:    strings.TrimSpace(getEnvOrViper("FULFILLER_WEBHOOK_TOKEN", "")),
			ShippingMethod:  getEnvOrViper("FULFILLER_SHIPPING_METHOD", "Standard"),
		},
		Payment: PaymentConfig{
			BaseURL:  strings.TrimSpace(getEnvOrViper("PAYMENT_BASE_URL", "")),
			APIKey:   strings.TrimSpace(getEnvOrViper("PAYMENT_API_KEY", "")),
			Currency: strings.ToLower(getEnvOrViper("PAYMENT_CURRENCY", "usd")),
		},
		API: APIConfig{
			ServiceKey: strings.TrimSpace(getEnvOrViper("API_SERVICE_KEY", "")),
		},
		Sweep: SweepConfig{
			Interval:       sweepInterval,
			StuckThreshold: stuckThreshold,
		},
	}

	// Validate required fields
	if cfg.Fulfiller.BaseURL == "" {
		return nil, fmt.Errorf("FULFILLER_BASE_URL is required")
	}
	if cfg.Payment.BaseURL == "" {
		return nil, fmt.Errorf("PAYMENT_BASE_URL is required")
	}

	// The webhook token and API keys must be explicit startup configuration.
	// A generated ephemeral token would rotate the callback URL on every
	// restart and silently orphan in-flight fulfiller orders.
	if cfg.Environment == "production" {
		if cfg.Fulfiller.WebhookToken == "" {
			return nil, fmt.Errorf("FULFILLER_WEBHOOK_TOKEN is required in production")
		}
		if cfg.Fulfiller.APIKey == "" {
			return nil, fmt.Errorf("FULFILLER_API_KEY is required in production")
		}
		if cfg.Payment.APIKey == "" {
			return nil, fmt.Errorf("PAYMENT_API_KEY is required in production")
		}
		if cfg.API.ServiceKey == "" {
			return nil, fmt.Errorf("API_SERVICE_KEY is required in production")
		}
	} else if cfg.Fulfiller.WebhookToken == "" {
		cfg.Fulfiller.WebhookToken = "dev-webhook-token"
	}

	return cfg, nil
}

func getEnvOrViper(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if viper.IsSet(key) {
		return viper.GetString(key)
	}
	return defaultValue
}
