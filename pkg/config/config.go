package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Billing      BillingConfig
	Stripe       StripeConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CASHIER_APP_ENV" required:"true"`
	Port         string `envconfig:"CASHIER_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CASHIER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CASHIER_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CASHIER_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CASHIER_DB_DSN"`
	Driver string `envconfig:"CASHIER_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CASHIER_DB_HOST"`
	LegacyPort     int    `envconfig:"CASHIER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CASHIER_DB_USER"`
	LegacyPassword string `envconfig:"CASHIER_DB_PASSWORD"`
	LegacyName     string `envconfig:"CASHIER_DB_NAME"`
	LegacySSLMode  string `envconfig:"CASHIER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CASHIER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CASHIER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CASHIER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CASHIER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// ensureDSN assembles a postgres DSN from the legacy host/user fields when an
// explicit DSN is not provided.
func (d *DBConfig) ensureDSN() error {
	if d.DSN != "" {
		return nil
	}
	if d.LegacyHost == "" || d.LegacyUser == "" || d.LegacyName == "" {
		return fmt.Errorf("either CASHIER_DB_DSN or host/user/name settings are required")
	}
	d.DSN = fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.LegacyUser),
		url.QueryEscape(d.LegacyPassword),
		d.LegacyHost,
		d.LegacyPort,
		d.LegacyName,
		d.LegacySSLMode,
	)
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"CASHIER_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CASHIER_REDIS_ADDR"`
	Password     string        `envconfig:"CASHIER_REDIS_PASSWORD"`
	DB           int           `envconfig:"CASHIER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CASHIER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CASHIER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CASHIER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CASHIER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CASHIER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"CASHIER_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CASHIER_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"CASHIER_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CASHIER_AUTO_MIGRATE" default:"false"`
}

type BillingConfig struct {
	Currency          string        `envconfig:"CASHIER_CURRENCY" default:"usd"`
	InvoiceNumPrefix  string        `envconfig:"CASHIER_INVOICE_PREFIX" default:"INV-"`
	InvoiceDueIn      time.Duration `envconfig:"CASHIER_INVOICE_DUE_IN" default:"168h"`
	WebhookEventTTL   time.Duration `envconfig:"CASHIER_WEBHOOK_EVENT_TTL" default:"720h"`
	IdempotencyTTL    time.Duration `envconfig:"CASHIER_IDEMPOTENCY_TTL" default:"24h"`
	ExpiryCheckWindow time.Duration `envconfig:"CASHIER_EXPIRY_CHECK_WINDOW" default:"24h"`
}

type StripeConfig struct {
	APIKey         string `envconfig:"CASHIER_STRIPE_API_KEY"`
	PublishableKey string `envconfig:"CASHIER_STRIPE_PUBLISHABLE_KEY"`
	Secret         string `envconfig:"CASHIER_STRIPE_WEBHOOK_SECRET"`
	Env            string `envconfig:"CASHIER_STRIPE_ENV" default:"test"`
}

// Environment returns the configured stripe environment string.
func (s StripeConfig) Environment() string {
	return s.Env
}

type GCPConfig struct {
	ProjectID string `envconfig:"CASHIER_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	BillingTopic             string `envconfig:"CASHIER_PUBSUB_BILLING_TOPIC" default:"cashier-billing-events"`
	BillingSubscription      string `envconfig:"CASHIER_PUBSUB_BILLING_SUBSCRIPTION"`
	NotificationTopic        string `envconfig:"CASHIER_PUBSUB_NOTIFICATION_TOPIC" default:"cashier-notification-events"`
	NotificationSubscription string `envconfig:"CASHIER_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CASHIER_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CASHIER_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CASHIER_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"CASHIER_CRON_INTERVAL" default:"1h"`
	LockTTL  time.Duration `envconfig:"CASHIER_CRON_LOCK_TTL" default:"55m"`
}
