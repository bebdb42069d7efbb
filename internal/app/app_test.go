package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmehdipour/cvpay/internal/claim"
	"github.com/jmehdipour/cvpay/internal/config"
	"github.com/jmehdipour/cvpay/internal/notify"
	"github.com/jmehdipour/cvpay/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func memoryConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Driver = "memory"
	return cfg
}

func TestSetup_ReturnsConfiguredLogger(t *testing.T) {
	t.Setenv("CVPAY_LOG_LEVEL", "warn")

	cfg, log, err := Setup("")
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.False(t, log.Core().Enabled(zap.InfoLevel))
	assert.True(t, log.Core().Enabled(zap.WarnLevel))
}

func TestNew_Memory(t *testing.T) {
	a, err := New(memoryConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.IsType(t, &repository.MemoryStore{}, a.Queue)
	assert.Equal(t, claim.Nop{}, a.Claimer)
	assert.Equal(t, notify.Nop{}, a.Notifier)
	assert.Nil(t, a.Reports)
	assert.NoError(t, a.Ping(context.Background()))

	r := a.Retrier("cli")
	assert.Equal(t, 10, r.BatchSize)
	assert.Equal(t, 0.01, r.CleanupChance)
	assert.Equal(t, "cli", r.Trigger)

	j := a.Janitor()
	assert.Equal(t, 30, j.Days)
	assert.Equal(t, 24*time.Hour, j.Interval)
}

func TestNew_RedisClaimer(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()

	a, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.IsType(t, &claim.Guarded{}, a.Claimer)
	ok, err := a.Claimer.Claim(context.Background(), "item", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNew_UnknownDriver(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Storage.Driver = "sqlite"
	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestNew_KafkaNeedsTopic(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Kafka.Enabled = true
	cfg.Kafka.DeadLetterTopic = ""
	_, err := New(cfg, nil)
	assert.Error(t, err)
}
