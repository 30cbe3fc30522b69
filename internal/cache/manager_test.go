package cache

import (
	"context"
	"crypto/tls"
	"testing"
	"time"

	"github.com/BaSui01/docintake/config"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.HealthCheckInterval = 0

	manager, err := NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	return mr, manager
}

func TestNewManager(t *testing.T) {
	_, manager := setupTestRedis(t)

	assert.NotNil(t, manager.Client())
	assert.NoError(t, manager.Ping(context.Background()))
}

func TestNewManager_Unreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.DialTimeout = 100 * time.Millisecond
	cfg.MaxRetries = 0

	_, err := NewManager(cfg, nil)
	assert.Error(t, err)
}

func TestManager_SetAndGet(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "k", []byte("v"), 0))

	value, err := manager.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
}

func TestManager_GetMissing(t *testing.T) {
	_, manager := setupTestRedis(t)

	value, err := manager.Get(context.Background(), "missing")
	assert.True(t, IsCacheMiss(err))
	assert.Nil(t, value)
}

func TestManager_SetWithTTL(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "ttl-key", []byte("v"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := manager.Get(ctx, "ttl-key")
	assert.True(t, IsCacheMiss(err), "过期后应未命中")
}

func TestManager_Delete(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, manager.Delete(ctx, "a"))
	require.NoError(t, manager.Delete(ctx))

	_, err := manager.Get(ctx, "a")
	assert.True(t, IsCacheMiss(err))
}

func TestManager_Closed(t *testing.T) {
	_, manager := setupTestRedis(t)
	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close(), "重复关闭应安全")

	_, err := manager.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, manager.Set(context.Background(), "k", nil, 0), ErrClosed)
	assert.ErrorIs(t, manager.Ping(context.Background()), ErrClosed)
}

func TestManager_RedisFailure(t *testing.T) {
	mr, manager := setupTestRedis(t)
	mr.SetError("boom")

	_, err := manager.Get(context.Background(), "k")
	require.Error(t, err)
	assert.False(t, IsCacheMiss(err), "后端错误不是未命中")
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.RedisConfig{Addr: "r:6379", Password: "p", DB: 2, PoolSize: 20})
	assert.Equal(t, "r:6379", cfg.Addr)
	assert.Equal(t, "p", cfg.Password)
	assert.Equal(t, 2, cfg.DB)
	assert.Equal(t, 20, cfg.PoolSize)
	assert.Equal(t, 2, cfg.MinIdleConns, "未设置时保留默认值")
}

func TestRedisOptions_TLS(t *testing.T) {
	cfg := ConfigFrom(config.RedisConfig{Addr: "r:6380"})
	opts, err := redisOptions(cfg)
	require.NoError(t, err)
	assert.Nil(t, opts.TLSConfig, "未启用时为明文连接")

	cfg = ConfigFrom(config.RedisConfig{
		Addr: "r:6380",
		TLS:  config.TLSConfig{Enabled: true, MinVersion: "1.3", ServerName: "cache.internal"},
	})
	opts, err = redisOptions(cfg)
	require.NoError(t, err)
	require.NotNil(t, opts.TLSConfig)
	assert.Equal(t, uint16(tls.VersionTLS13), opts.TLSConfig.MinVersion)
	assert.Equal(t, "cache.internal", opts.TLSConfig.ServerName)
}

func TestNewManager_InvalidTLS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TLS = config.TLSConfig{Enabled: true, MinVersion: "1.0"}

	_, err := NewManager(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis tls")
}
