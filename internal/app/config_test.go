package app

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("UNIT_CONVERSIONS", "")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 30*time.Second, cfg.OpnameLockTTL)
	require.True(t, decimal.RequireFromString("0.01").Equal(cfg.TransferTolerance))
	require.Equal(t, 72*time.Hour, cfg.IdempotencyRetention)

	rule, err := cfg.UnitConversions.Lookup("kg")
	require.NoError(t, err)
	require.Equal(t, "g", rule.PrepUnit)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigUnitConversions(t *testing.T) {
	t.Setenv("UNIT_CONVERSIONS", "crate=pcs*24")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 1, cfg.UnitConversions.Len())

	rule, err := cfg.UnitConversions.Lookup("crate")
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(24).Equal(rule.Factor))

	_, err = cfg.UnitConversions.Lookup("kg")
	require.Error(t, err)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("UNIT_CONVERSIONS", "kg=g")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("UNIT_CONVERSIONS", "")
	t.Setenv("TRANSFER_TOLERANCE", "0")
	_, err = LoadConfig()
	require.Error(t, err)

	t.Setenv("TRANSFER_TOLERANCE", "0.01")
	t.Setenv("REVALUATION_TOLERANCE", "abc")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestIsProduction(t *testing.T) {
	require.True(t, (&Config{AppEnv: "production"}).IsProduction())
	require.False(t, (*Config)(nil).IsProduction())
}

func TestLoadConfigInfraOptions(t *testing.T) {
	t.Setenv("UNIT_CONVERSIONS", "")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("PG_MAX_CONNS", "25")
	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, "stockroom.inventory", cfg.KafkaTopic)
	require.EqualValues(t, 25, cfg.PoolOptions().MaxConns)

	redis := cfg.RedisOptions()
	require.Equal(t, "redis:6380", redis.Addr)
	require.Equal(t, 2, redis.DB)
	require.Equal(t, 2, redis.AsynqOpt().DB)
}
