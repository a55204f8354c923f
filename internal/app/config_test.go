package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("BOUTIQUE_DATABASE_URL", "postgres://localhost/boutique")
	t.Setenv("BOUTIQUE_API_KEY_PEPPER", "pepper")

	cfg, err := loadConfig(true)
	require.NoError(t, err)

	assert.Equal(t, defaultAddr, cfg.Addr)
	assert.Equal(t, "CMD", cfg.OrderPrefix)
	assert.True(t, cfg.Migrate.Enabled)
	assert.False(t, cfg.Cancel.Restock)
	assert.False(t, cfg.Cancel.ReleaseDiscount)
	assert.Equal(t, "order.events", cfg.Kafka.Topic)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 10, cfg.Outbox.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Outbox.Interval)
	assert.Equal(t, time.Second, cfg.Outbox.Backoff)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL)
	assert.Equal(t, 15*time.Second, cfg.Graceful.ShutdownTimeout)
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("BOUTIQUE_DATABASE_URL", "postgres://localhost/boutique")
	t.Setenv("BOUTIQUE_API_KEY_PEPPER", "pepper")
	t.Setenv("BOUTIQUE_CANCEL_RESTOCK", "true")
	t.Setenv("BOUTIQUE_CANCEL_RELEASE_DISCOUNT", "true")
	t.Setenv("BOUTIQUE_KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("BOUTIQUE_ORDER_PREFIX", "ORD")

	cfg, err := loadConfig(true)
	require.NoError(t, err)

	assert.True(t, cfg.Cancel.Restock)
	assert.True(t, cfg.Cancel.ReleaseDiscount)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "ORD", cfg.OrderPrefix)
}

func TestLoadConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("REDIS_URL", "redis://platform:6379/0")
	t.Setenv("PORT", "9000")
	t.Setenv("BOUTIQUE_API_KEY_PEPPER", "pepper")

	cfg, err := loadConfig(true)
	require.NoError(t, err)

	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "redis://platform:6379/0", cfg.Redis.URL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "missing database",
			env:  map[string]string{"BOUTIQUE_API_KEY_PEPPER": "pepper"},
			want: "database URL is required",
		},
		{
			name: "missing pepper",
			env:  map[string]string{"BOUTIQUE_DATABASE_URL": "postgres://localhost/db"},
			want: "API key pepper is required",
		},
		{
			name: "bad prefix",
			env: map[string]string{
				"BOUTIQUE_DATABASE_URL":   "postgres://localhost/db",
				"BOUTIQUE_API_KEY_PEPPER": "pepper",
				"BOUTIQUE_ORDER_PREFIX":   "A-B",
			},
			want: "invalid order prefix",
		},
		{
			name: "zero outbox backoff",
			env: map[string]string{
				"BOUTIQUE_DATABASE_URL":   "postgres://localhost/db",
				"BOUTIQUE_API_KEY_PEPPER": "pepper",
				"BOUTIQUE_OUTBOX_BACKOFF": "0s",
			},
			want: "outbox backoff must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := loadConfig(true)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
