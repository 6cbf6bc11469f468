package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:                       "development",
		Port:                      "8080",
		JWTSecret:                 "secure-secret-at-least-32-chars-long",
		DBPassword:                "secure-password",
		DBSSLMode:                 "require",
		RedisURL:                  "redis://localhost:6379",
		MaxGasPriceGwei:           200,
		StalePurchaseGraceMinutes: 10,
		StripeWebhookSecret:       "whsec_test",
		ManagerSignerKey:          "abcd",
		RelayURL:                  "https://relay.local",
	}
}

func TestConfig_ValidateSSLMode(t *testing.T) {
	tests := []struct {
		name        string
		env         string
		sslMode     string
		expectError bool
	}{
		{"Production with empty SSL mode", "production", "", true},
		{"Production with disable SSL mode", "production", "disable", true},
		{"Production with require SSL mode", "production", "require", false},
		{"Prod with verify-full SSL mode", "prod", "verify-full", false},
		{"Development with disable SSL mode", "development", "disable", false},
		{"Test with empty SSL mode", "test", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			c.Env = tt.env
			c.DBSSLMode = tt.sslMode

			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateRequiredSettlementValues(t *testing.T) {
	c := validConfig()
	c.MaxGasPriceGwei = 0
	assert.ErrorContains(t, c.Validate(), "MAX_GAS_PRICE_GWEI")

	c = validConfig()
	c.Env = "production"
	c.StripeWebhookSecret = ""
	assert.ErrorContains(t, c.Validate(), "STRIPE_WEBHOOK_SECRET")

	c = validConfig()
	c.Env = "production"
	c.ManagerSignerKey = ""
	assert.ErrorContains(t, c.Validate(), "MANAGER_SIGNER_KEY")

	c = validConfig()
	c.Env = "production"
	c.JWTSecret = defaultJWTSecret
	assert.ErrorContains(t, c.Validate(), "JWT_SECRET")
}

func TestLoadConfig_Defaults(t *testing.T) {
	defer viper.Reset()
	defer os.Unsetenv("APP_ENV")
	defer os.Unsetenv("DB_SSLMODE")

	os.Setenv("APP_ENV", "test")
	os.Setenv("DB_SSLMODE", "  DISABLE  ")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "disable", c.DBSSLMode)
	assert.Equal(t, int64(200), c.MaxGasPriceGwei)
	assert.Equal(t, "*/30 * * * * *", c.SweepSchedule)
	assert.Equal(t, 10, c.StalePurchaseGraceMinutes)
	assert.Equal(t, 60, c.StuckMintAgeMinutes)
	assert.Equal(t, 500, c.UnmintedSweepBatch)
}
