// Package config loads storefront configuration: defaults, then an optional
// YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AKPAING3147/Foood/internal/payment"
	"github.com/AKPAING3147/Foood/pkg/contracts"
)

type Config struct {
	Server   ServerConfig        `yaml:"server"`
	Notify   NotifyConfig        `yaml:"notify"`
	Log      LogConfig           `yaml:"log"`
	Database DatabaseConfig      `yaml:"database"`
	Redis    RedisConfig         `yaml:"redis"`
	Kafka    KafkaConfig         `yaml:"kafka"`
	Outbox   OutboxConfig        `yaml:"outbox"`
	Auth     AuthConfig          `yaml:"auth"`
	Stripe   StripeConfig        `yaml:"stripe"`
	Bank     payment.BankAccount `yaml:"bank"`
	Evidence EvidenceConfig      `yaml:"evidence"`
}

type ServerConfig struct {
	Port           string        `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// ShutdownTimeout bounds graceful shutdown after SIGINT/SIGTERM.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// NotifyConfig is read by the notification service only.
type NotifyConfig struct {
	Port string `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig enables the read-through cache when Addr is set.
type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	ProductTTL time.Duration `yaml:"product_ttl"`
	OrderTTL   time.Duration `yaml:"order_ttl"`
}

type KafkaConfig struct {
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
	GroupID string `yaml:"group_id"`
}

type OutboxConfig struct {
	BatchSize int           `yaml:"batch_size"`
	Interval  time.Duration `yaml:"interval"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type StripeConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	Currency      string `yaml:"currency"`
	APIURL        string `yaml:"api_url"`
}

// EvidenceConfig enables slip uploads when Bucket is set.
type EvidenceConfig struct {
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	Prefix        string `yaml:"prefix"`
	Endpoint      string `yaml:"endpoint"`
	PublicBaseURL string `yaml:"public_base_url"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Notify: NotifyConfig{Port: "8081"},
		Log:    LogConfig{Level: "info"},
		Redis: RedisConfig{
			ProductTTL: 5 * time.Minute,
			OrderTTL:   time.Minute,
		},
		Kafka: KafkaConfig{
			Topic:   contracts.DefaultTopic,
			GroupID: "notification-service",
		},
		Outbox: OutboxConfig{BatchSize: 100, Interval: time.Second},
		Auth:   AuthConfig{TokenTTL: 72 * time.Hour},
		Stripe: StripeConfig{Currency: "usd"},
		Evidence: EvidenceConfig{
			Region: "us-east-1",
			Prefix: "payment-slips",
		},
	}
}

// Load reads path (if non-empty) over the defaults and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Port, "PORT")
	setString(&c.Notify.Port, "NOTIFY_PORT")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Kafka.Brokers, "KAFKA_BROKERS")
	setString(&c.Kafka.Topic, "KAFKA_TOPIC")
	setString(&c.Kafka.GroupID, "KAFKA_GROUP_ID")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Stripe.SecretKey, "STRIPE_SECRET_KEY")
	setString(&c.Stripe.WebhookSecret, "STRIPE_WEBHOOK_SECRET")
	setString(&c.Stripe.Currency, "STRIPE_CURRENCY")
	setString(&c.Bank.BankName, "BANK_NAME")
	setString(&c.Bank.AccountName, "BANK_ACCOUNT_NAME")
	setString(&c.Bank.AccountNumber, "BANK_ACCOUNT_NUMBER")
	setString(&c.Evidence.Bucket, "EVIDENCE_BUCKET")
	setString(&c.Evidence.Region, "AWS_REGION")
	setString(&c.Evidence.Endpoint, "EVIDENCE_ENDPOINT")
	setString(&c.Evidence.PublicBaseURL, "EVIDENCE_PUBLIC_BASE_URL")

	var errs []error
	errs = append(errs,
		setInt(&c.Redis.DB, "REDIS_DB"),
		setInt(&c.Outbox.BatchSize, "OUTBOX_BATCH_SIZE"),
		setDurationMS(&c.Server.RequestTimeout, "REQUEST_TIMEOUT_MS"),
		setDurationMS(&c.Outbox.Interval, "OUTBOX_INTERVAL_MS"),
	)
	return errors.Join(errs...)
}

// Validate checks what the HTTP server needs. Other commands check only the
// settings they use.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url (DATABASE_URL) is required"))
	}
	if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("auth.jwt_secret (JWT_SECRET) must be at least 16 characters"))
	}
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Stripe.SecretKey != "" && c.Stripe.WebhookSecret == "" {
		errs = append(errs, errors.New("stripe.webhook_secret is required when stripe.secret_key is set"))
	}
	if len(c.Stripe.Currency) != 3 {
		errs = append(errs, fmt.Errorf("stripe.currency %q must be a three-letter code", c.Stripe.Currency))
	}
	if c.Outbox.BatchSize <= 0 {
		errs = append(errs, errors.New("outbox.batch_size must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) CardPaymentsEnabled() bool { return c.Stripe.SecretKey != "" }

func getenv(k string) string {
	return strings.TrimSpace(os.Getenv(k))
}

func setString(dst *string, key string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDurationMS(dst *time.Duration, key string) error {
	var ms int
	if err := setInt(&ms, key); err != nil || getenv(key) == "" {
		return err
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}
