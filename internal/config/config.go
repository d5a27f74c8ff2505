package config

import (
	"fmt"
	"strings"
	"time"

	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Configuration struct {
	Deployment  DeploymentConfig  `mapstructure:"deployment" validate:"required"`
	Server      ServerConfig      `mapstructure:"server" validate:"required"`
	Logging     LoggingConfig     `mapstructure:"logging" validate:"required"`
	Postgres    PostgresConfig    `mapstructure:"postgres" validate:"required"`
	Billing     BillingConfig     `mapstructure:"billing" validate:"required"`
	MercadoPago MercadoPagoConfig `mapstructure:"mercadopago"`
	Stripe      StripeConfig      `mapstructure:"stripe"`
	Email       EmailConfig       `mapstructure:"email"`
	Auth        AuthConfig        `mapstructure:"auth" validate:"required"`
	Platform    PlatformConfig    `mapstructure:"platform"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Temporal    TemporalConfig    `mapstructure:"temporal"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Sentry      SentryConfig      `mapstructure:"sentry"`
}

type DeploymentMode string

const (
	ModeLocal       DeploymentMode = "local"
	ModeDevelopment DeploymentMode = "development"
	ModeProduction  DeploymentMode = "production"
)

type DeploymentConfig struct {
	Mode DeploymentMode `mapstructure:"mode" validate:"required"`
}

type ServerConfig struct {
	Address string `mapstructure:"address" validate:"required"`
}

type LoggingConfig struct {
	Level          types.LogLevel `mapstructure:"level" validate:"required"`
	DBLevel        types.LogLevel `mapstructure:"db_level"`
	FluentdEnabled bool           `mapstructure:"fluentd_enabled"`
	FluentdHost    string         `mapstructure:"fluentd_host"`
	FluentdPort    int            `mapstructure:"fluentd_port"`
	// PIISalt salts the hashes of identifiers written to logs.
	PIISalt string `mapstructure:"pii_salt"`
}

type PostgresConfig struct {
	// Driver is postgres in deployments and sqlite for local runs.
	Driver          types.DBDialect `mapstructure:"driver" validate:"required"`
	Host            string          `mapstructure:"host"`
	Port            int             `mapstructure:"port"`
	User            string          `mapstructure:"user"`
	Password        string          `mapstructure:"password"`
	DBName          string          `mapstructure:"dbname"`
	SSLMode         string          `mapstructure:"sslmode"`
	SQLitePath      string          `mapstructure:"sqlite_path"`
	MaxOpenConns    int             `mapstructure:"max_open_conns"`
	MaxIdleConns    int             `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration   `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool            `mapstructure:"auto_migrate"`
}

type BillingConfig struct {
	Provider types.BillingProvider `mapstructure:"provider" validate:"required"`
	// WebhookSecret is the shared secret of the fake provider.
	WebhookSecret   string        `mapstructure:"webhook_secret"`
	PublicAppURL    string        `mapstructure:"public_app_url" validate:"required"`
	PublicAPIURL    string        `mapstructure:"public_api_url"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
}

type MercadoPagoConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	AccessToken   string `mapstructure:"access_token"`
	CardToken     string `mapstructure:"card_access_token"`
	PixToken      string `mapstructure:"pix_access_token"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	// RequestsPerSecond bounds outbound API calls.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	RetryMax          int     `mapstructure:"retry_max"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	// PriceIDs maps plan codes to Stripe price ids.
	PriceIDs map[string]string `mapstructure:"price_ids"`
}

type EmailConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	APIKey      string `mapstructure:"resend_api_key"`
	FromAddress string `mapstructure:"from_address"`
	ReplyTo     string `mapstructure:"reply_to"`
	Workers     int    `mapstructure:"workers"`
	QueueSize   int    `mapstructure:"queue_size"`
	MaxRetries  int    `mapstructure:"max_retries"`
}

type AuthConfig struct {
	Secret string `mapstructure:"secret" validate:"required"`
}

type PlatformConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// MaintenanceCron is a robfig/cron spec.
	MaintenanceCron string `mapstructure:"maintenance_cron"`
}

type TemporalConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
	// ScheduleCron drives the maintenance workflow schedule.
	ScheduleCron string `mapstructure:"schedule_cron"`
}

// KafkaConfig configures the export request publisher. When disabled, export
// requests are only logged.
type KafkaConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Brokers       []string `mapstructure:"brokers"`
	ClientID      string   `mapstructure:"client_id"`
	TLS           bool     `mapstructure:"tls"`
	UseSASL       bool     `mapstructure:"use_sasl"`
	SASLMechanism string   `mapstructure:"sasl_mechanism"`
	SASLUser      string   `mapstructure:"sasl_user"`
	SASLPassword  string   `mapstructure:"sasl_password"`
	ExportTopic   string   `mapstructure:"export_topic"`
}

type CacheConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// NewConfig loads .env (when present), then config.yaml (when present), then
// BILLING_* environment variables.
func NewConfig() (*Configuration, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("BILLING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, ierr.WithError(err).
				WithHint("Failed to read config file").
				Mark(ierr.ErrValidation)
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to decode configuration").
			Mark(ierr.ErrValidation)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("deployment.mode", ModeLocal)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("logging.level", types.LogLevelInfo)
	v.SetDefault("logging.db_level", types.LogLevelError)
	v.SetDefault("postgres.driver", types.DBDialectPostgres)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.dbname", "elementojuris")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.sqlite_path", "billing.db")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime", time.Hour)
	v.SetDefault("postgres.auto_migrate", true)
	v.SetDefault("billing.provider", types.BillingProviderFake)
	v.SetDefault("billing.public_app_url", "http://localhost:5173")
	v.SetDefault("billing.public_api_url", "http://localhost:8080")
	v.SetDefault("billing.provider_timeout", 20*time.Second)
	v.SetDefault("mercadopago.base_url", "https://api.mercadopago.com")
	v.SetDefault("mercadopago.requests_per_second", 5)
	v.SetDefault("mercadopago.retry_max", 2)
	v.SetDefault("email.workers", 4)
	v.SetDefault("email.queue_size", 100)
	v.SetDefault("email.max_retries", 3)
	v.SetDefault("email.from_address", "no-reply@elementojuris.com.br")
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.maintenance_cron", "0 6 * * *")
	v.SetDefault("temporal.address", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "billing")
	v.SetDefault("temporal.schedule_cron", "0 6 * * *")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.client_id", "billing")
	v.SetDefault("kafka.sasl_mechanism", "SCRAM-SHA-512")
	v.SetDefault("kafka.export_topic", "tenant_export_requests")
	v.SetDefault("sentry.sample_rate", 1.0)

	// keys without a meaningful default still need registering so that
	// AutomaticEnv picks them up during Unmarshal
	for _, key := range []string{
		"logging.fluentd_enabled", "logging.fluentd_host", "logging.fluentd_port", "logging.pii_salt",
		"postgres.password",
		"billing.webhook_secret",
		"mercadopago.access_token", "mercadopago.card_access_token", "mercadopago.pix_access_token", "mercadopago.webhook_secret",
		"stripe.secret_key", "stripe.webhook_secret",
		"email.enabled", "email.resend_api_key", "email.reply_to",
		"auth.secret", "platform.api_key",
		"temporal.enabled",
		"kafka.enabled", "kafka.tls", "kafka.use_sasl", "kafka.sasl_user", "kafka.sasl_password",
		"sentry.enabled", "sentry.dsn", "sentry.environment",
	} {
		if !v.IsSet(key) {
			v.SetDefault(key, "")
		}
	}
}

// Validate checks required sections and provider specific credentials.
func (c *Configuration) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return ierr.WithError(err).
			WithHint("Invalid configuration").
			Mark(ierr.ErrValidation)
	}
	if err := c.Billing.Provider.Validate(); err != nil {
		return err
	}

	switch c.Billing.Provider {
	case types.BillingProviderMercadoPago:
		if c.MercadoPago.AccessToken == "" && c.MercadoPago.CardToken == "" && c.MercadoPago.PixToken == "" {
			return ierr.NewError("mercadopago access token is required").
				WithHint("Set BILLING_MERCADOPAGO_ACCESS_TOKEN").
				Mark(ierr.ErrValidation)
		}
	case types.BillingProviderStripe:
		if c.Stripe.SecretKey == "" {
			return ierr.NewError("stripe secret key is required").
				WithHint("Set BILLING_STRIPE_SECRET_KEY").
				Mark(ierr.ErrValidation)
		}
	}

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.ExportTopic == "") {
		return ierr.NewError("kafka brokers and export topic are required").
			WithHint("Set BILLING_KAFKA_BROKERS and BILLING_KAFKA_EXPORT_TOPIC").
			Mark(ierr.ErrValidation)
	}

	if c.Deployment.Mode == ModeProduction && c.Billing.Provider == types.BillingProviderFake {
		return ierr.NewError("fake billing provider is not allowed in production").
			WithHint("Configure a real billing provider").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// IsProduction reports whether internal error details must be hidden.
func (c *Configuration) IsProduction() bool {
	return c.Deployment.Mode == ModeProduction
}

// DSN returns the postgres connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// GetDefaultConfig returns a configuration usable without any file or
// environment, used to bootstrap the global logger and by tests.
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: ModeLocal},
		Server:     ServerConfig{Address: ":8080"},
		Logging: LoggingConfig{
			Level:   types.LogLevelInfo,
			DBLevel: types.LogLevelError,
		},
		Postgres: PostgresConfig{
			Driver:     types.DBDialectSQLite,
			SQLitePath: "file::memory:?cache=shared",
		},
		Billing: BillingConfig{
			Provider:        types.BillingProviderFake,
			WebhookSecret:   "test-webhook-secret",
			PublicAppURL:    "http://localhost:5173",
			PublicAPIURL:    "http://localhost:8080",
			ProviderTimeout: 20 * time.Second,
		},
		MercadoPago: MercadoPagoConfig{
			BaseURL:           "https://api.mercadopago.com",
			RequestsPerSecond: 5,
			RetryMax:          2,
		},
		Email:     EmailConfig{Workers: 1, QueueSize: 16, MaxRetries: 1},
		Auth:      AuthConfig{Secret: "local-auth-secret"},
		Platform:  PlatformConfig{APIKey: "local-platform-key"},
		Scheduler: SchedulerConfig{MaintenanceCron: "0 6 * * *"},
		Temporal:  TemporalConfig{TaskQueue: "billing", ScheduleCron: "0 6 * * *"},
		Cache:     CacheConfig{Enabled: true},
		Kafka:     KafkaConfig{ClientID: "billing", ExportTopic: "tenant_export_requests"},
	}
}
