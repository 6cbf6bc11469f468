// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Env            string `mapstructure:"APP_ENV"`
	Port           string `mapstructure:"PORT"`
	WorkerPort     string `mapstructure:"WORKER_PORT"`
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	DevAdminEmail  string `mapstructure:"DEV_ADMIN_EMAIL"`
	FeatureFlags   string `mapstructure:"FEATURE_FLAGS"`

	DBHost                        string `mapstructure:"DB_HOST"`
	DBPort                        string `mapstructure:"DB_PORT"`
	DBUser                        string `mapstructure:"DB_USER"`
	DBPassword                    string `mapstructure:"DB_PASSWORD"`
	DBName                        string `mapstructure:"DB_NAME"`
	DBSSLMode                     string `mapstructure:"DB_SSLMODE"`
	DBMaxOpenConns                int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns                int    `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeMinutes      int    `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`
	DBSchemaMode                  string `mapstructure:"DB_SCHEMA_MODE"`
	DBAutoMigrateAllowDestructive bool   `mapstructure:"DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE"`

	RedisURL            string `mapstructure:"REDIS_URL"`
	QueuePrefix         string `mapstructure:"QUEUE_PREFIX"`
	QueuePollIntervalMS int    `mapstructure:"QUEUE_POLL_INTERVAL_MS"`

	ChainRPCURL                 string  `mapstructure:"CHAIN_RPC_URL"`
	ChainID                     int64   `mapstructure:"CHAIN_ID"`
	ChainRPCRatePerSec          float64 `mapstructure:"CHAIN_RPC_RATE_PER_SEC"`
	ChainCallTimeoutSeconds     int     `mapstructure:"CHAIN_CALL_TIMEOUT_SECONDS"`
	RelayURL                    string  `mapstructure:"RELAY_URL"`
	RelayAPIKey                 string  `mapstructure:"RELAY_API_KEY"`
	RelayForwarderAddress       string  `mapstructure:"RELAY_FORWARDER_ADDRESS"`
	LegacyFactoryManagerAddress string  `mapstructure:"LEGACY_FACTORY_MANAGER_ADDRESS"`
	FactoryManagerV2Address     string  `mapstructure:"FACTORY_MANAGER_V2_ADDRESS"`
	CollectionManagerAddress    string  `mapstructure:"COLLECTION_MANAGER_ADDRESS"`
	ManagerSignerKey            string  `mapstructure:"MANAGER_SIGNER_KEY"`
	MaxGasPriceGwei             int64   `mapstructure:"MAX_GAS_PRICE_GWEI"`

	StripeSecretKey     string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`

	SalesforceHost         string `mapstructure:"SALESFORCE_HOST"`
	SalesforceClientID     string `mapstructure:"SALESFORCE_CLIENT_ID"`
	SalesforceClientSecret string `mapstructure:"SALESFORCE_CLIENT_SECRET"`
	SalesforceUser         string `mapstructure:"SALESFORCE_USER"`
	SalesforcePassword     string `mapstructure:"SALESFORCE_PASSWORD"`

	SendgridAPIKey string `mapstructure:"SENDGRID_API_KEY"`
	MailFrom       string `mapstructure:"MAIL_FROM"`

	AWSRegion         string `mapstructure:"AWS_REGION"`
	NotificationTable string `mapstructure:"NOTIFICATION_TABLE"`

	SweepSchedule              string `mapstructure:"SWEEP_SCHEDULE"`
	CRMRollupSchedule          string `mapstructure:"CRM_ROLLUP_SCHEDULE"`
	StalePurchaseGraceMinutes  int    `mapstructure:"STALE_PURCHASE_GRACE_MINUTES"`
	StuckMintAgeMinutes        int    `mapstructure:"STUCK_MINT_AGE_MINUTES"`
	UnmintedSweepBatch         int    `mapstructure:"UNMINTED_SWEEP_BATCH"`
	CollectionSweepBatch       int    `mapstructure:"COLLECTION_SWEEP_BATCH"`
	MintClaimLeaseMinutes      int    `mapstructure:"MINT_CLAIM_LEASE_MINUTES"`
	PaymentCallTimeoutSeconds  int    `mapstructure:"PAYMENT_CALL_TIMEOUT_SECONDS"`
	InboxNotificationPageLimit int    `mapstructure:"INBOX_NOTIFICATION_PAGE_LIMIT"`

	TracingEnabled      bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter     string  `mapstructure:"TRACING_EXPORTER"`
	TracingOTLPEndpoint string  `mapstructure:"TRACING_OTLP_ENDPOINT"`
	TracingSampleRatio  float64 `mapstructure:"TRACING_SAMPLE_RATIO"`
}

const defaultJWTSecret = "your-secret-key-change-in-production"

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base file is optional; env vars and defaults are enough for local runs.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.DBSSLMode = strings.ToLower(strings.TrimSpace(config.DBSSLMode))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("PORT", "8375")
	viper.SetDefault("WORKER_PORT", "8376")
	viper.SetDefault("JWT_SECRET", defaultJWTSecret)
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")

	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "editions")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MAX_IDLE_CONNS", 5)
	viper.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 5)
	viper.SetDefault("DB_SCHEMA_MODE", "hybrid")
	viper.SetDefault("DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE", false)

	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("QUEUE_PREFIX", "q")
	viper.SetDefault("QUEUE_POLL_INTERVAL_MS", 500)

	viper.SetDefault("CHAIN_RPC_URL", "https://polygon-rpc.com/")
	viper.SetDefault("CHAIN_ID", 137)
	viper.SetDefault("CHAIN_RPC_RATE_PER_SEC", 10)
	viper.SetDefault("CHAIN_CALL_TIMEOUT_SECONDS", 20)
	viper.SetDefault("MAX_GAS_PRICE_GWEI", 200)

	// Unmarshal only sees env vars for keys viper already knows about.
	for _, key := range []string{
		"RELAY_URL", "RELAY_API_KEY", "RELAY_FORWARDER_ADDRESS",
		"LEGACY_FACTORY_MANAGER_ADDRESS", "FACTORY_MANAGER_V2_ADDRESS", "COLLECTION_MANAGER_ADDRESS",
		"MANAGER_SIGNER_KEY", "STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET",
		"SALESFORCE_HOST", "SALESFORCE_CLIENT_ID", "SALESFORCE_CLIENT_SECRET",
		"SALESFORCE_USER", "SALESFORCE_PASSWORD", "SENDGRID_API_KEY", "TRACING_OTLP_ENDPOINT",
		"DEV_ADMIN_EMAIL", "FEATURE_FLAGS",
	} {
		viper.SetDefault(key, "")
	}

	viper.SetDefault("SWEEP_SCHEDULE", "*/30 * * * * *")
	viper.SetDefault("CRM_ROLLUP_SCHEDULE", "0 0 0 * * *")
	viper.SetDefault("STALE_PURCHASE_GRACE_MINUTES", 10)
	viper.SetDefault("STUCK_MINT_AGE_MINUTES", 60)
	viper.SetDefault("UNMINTED_SWEEP_BATCH", 500)
	viper.SetDefault("COLLECTION_SWEEP_BATCH", 100)
	viper.SetDefault("MINT_CLAIM_LEASE_MINUTES", 10)
	viper.SetDefault("PAYMENT_CALL_TIMEOUT_SECONDS", 15)
	viper.SetDefault("INBOX_NOTIFICATION_PAGE_LIMIT", 25)

	viper.SetDefault("MAIL_FROM", "no-reply@editions.local")
	viper.SetDefault("AWS_REGION", "us-east-1")
	viper.SetDefault("NOTIFICATION_TABLE", "inbox_notifications")

	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("TRACING_SAMPLE_RATIO", 1.0)
}

// IsProduction reports whether the config targets a production environment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	if c.MaxGasPriceGwei <= 0 {
		return errors.New("MAX_GAS_PRICE_GWEI must be positive")
	}
	if c.StalePurchaseGraceMinutes <= 0 {
		return errors.New("STALE_PURCHASE_GRACE_MINUTES must be positive")
	}

	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			return errors.New("DB_SSLMODE must not be disabled in production")
		}
		if c.StripeWebhookSecret == "" {
			return errors.New("STRIPE_WEBHOOK_SECRET is required in production")
		}
		if c.ManagerSignerKey == "" || c.RelayURL == "" {
			return errors.New("MANAGER_SIGNER_KEY and RELAY_URL are required in production")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}
