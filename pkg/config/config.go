package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"github.com/Cheertaboi/reviewcard-checkout/pkg/db"
)

type PayPalConfig struct {
	ClientID     string `envconfig:"PAYPAL_CLIENT_ID"`
	ClientSecret string `envconfig:"PAYPAL_CLIENT_SECRET"`
	Mode         string `envconfig:"PAYPAL_MODE" default:"sandbox"`
	Currency     string `envconfig:"PAYPAL_CURRENCY" default:"USD"`
}

type WebPayConfig struct {
	CommerceCode string `envconfig:"WEBPAY_COMMERCE_CODE"`
	APIKey       string `envconfig:"WEBPAY_API_KEY"`
	Mode         string `envconfig:"WEBPAY_MODE" default:"integration"`
}

type MercadoPagoConfig struct {
	AccessToken string `envconfig:"MERCADOPAGO_ACCESS_TOKEN"`
	Currency    string `envconfig:"MERCADOPAGO_CURRENCY" default:"USD"`
}

type Config struct {
	HTTPAddr       string `envconfig:"HTTP_ADDR" default:":8080"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	ClientURL      string `envconfig:"CLIENT_URL" default:"http://localhost:3000"`
	APIBaseURL     string `envconfig:"API_BASE_URL" default:"http://localhost:8080"`
	JWTSecret      string `envconfig:"JWT_SECRET"`
	CommissionRate string `envconfig:"COMMISSION_RATE" default:"0.10"`
	PlansFile      string `envconfig:"PLANS_FILE"`

	RedisAddr      string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword  string        `envconfig:"REDIS_PASSWORD"`
	PromoCacheTTL  time.Duration `envconfig:"PROMO_CACHE_TTL" default:"30s"`
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`

	KafkaBrokers string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	NotifyTopic  string `envconfig:"NOTIFY_TOPIC" default:"checkout.notifications"`

	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	ProviderTimeout time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"15s"`
	RateLimitRPS    float64       `envconfig:"RATE_LIMIT_RPS" default:"5"`
	RateLimitBurst  int           `envconfig:"RATE_LIMIT_BURST" default:"10"`

	// Embedded so envconfig does not prefix their keys with the field name.
	PayPalConfig
	WebPayConfig
	MercadoPagoConfig
	db.PostgresConfig
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	rate, err := c.Commission()
	if err != nil {
		return err
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("COMMISSION_RATE must be within [0,1], got %s", c.CommissionRate)
	}
	return nil
}

// Commission is the single commission rate applied to referred orders.
func (c *Config) Commission() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.CommissionRate))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid COMMISSION_RATE %q: %w", c.CommissionRate, err)
	}
	return rate, nil
}

func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
