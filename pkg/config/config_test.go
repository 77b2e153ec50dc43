package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "sandbox", cfg.PayPalConfig.Mode)
	assert.Equal(t, "integration", cfg.WebPayConfig.Mode)
	assert.Equal(t, 30*time.Second, cfg.PromoCacheTTL)
	assert.Equal(t, "checkout", cfg.PostgresConfig.DBName)

	rate, err := cfg.Commission()
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("0.1")))
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PAYPAL_CLIENT_ID", "pp-id")
	t.Setenv("PAYPAL_MODE", "live")
	t.Setenv("WEBPAY_COMMERCE_CODE", "597055555532")
	t.Setenv("MERCADOPAGO_ACCESS_TOKEN", "TEST-123")
	t.Setenv("COMMISSION_RATE", "0.2")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("DB_HOST", "pg")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "pp-id", cfg.PayPalConfig.ClientID)
	assert.Equal(t, "live", cfg.PayPalConfig.Mode)
	assert.Equal(t, "597055555532", cfg.WebPayConfig.CommerceCode)
	assert.Equal(t, "TEST-123", cfg.MercadoPagoConfig.AccessToken)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers())
	assert.Equal(t, "pg", cfg.PostgresConfig.Host)
}

func TestValidate(t *testing.T) {
	cfg := Config{CommissionRate: "0.1"}
	assert.Error(t, cfg.Validate(), "missing secret")

	cfg.JWTSecret = "x"
	assert.NoError(t, cfg.Validate())

	for _, bad := range []string{"1.5", "-0.1", "ten"} {
		cfg.CommissionRate = bad
		assert.Error(t, cfg.Validate(), bad)
	}
}
