package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BaSui01/docintake/config"
	internalcache "github.com/BaSui01/docintake/internal/cache"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedisManager(t *testing.T) (*miniredis.Miniredis, *internalcache.Manager) {
	mr := miniredis.RunT(t)
	cfg := internalcache.DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.HealthCheckInterval = 0
	m, err := internalcache.NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return mr, m
}

// 所有后端共享的行为
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, StageClassification, "k1")
	assert.True(t, IsMiss(err))

	require.NoError(t, s.Set(ctx, StageClassification, "k1", []byte(`"invoice"`)))
	got, err := s.Get(ctx, StageClassification, "k1")
	require.NoError(t, err)
	assert.Equal(t, `"invoice"`, string(got))

	_, err = s.Get(ctx, StageExtraction, "k1")
	assert.True(t, IsMiss(err), "命名空间之间相互隔离")

	require.NoError(t, s.Set(ctx, StageClassification, "k1", []byte(`"claim"`)))
	got, err = s.Get(ctx, StageClassification, "k1")
	require.NoError(t, err)
	assert.Equal(t, `"claim"`, string(got))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(10, 0))
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestRedisStore(t *testing.T) {
	mr, m := newRedisManager(t)
	s := NewRedisStore(m, "test:", 0)
	exerciseStore(t, s)
	assert.True(t, mr.Exists("test:classification:k1"))
}

func TestMultiLevelStore(t *testing.T) {
	_, m := newRedisManager(t)
	exerciseStore(t, NewMultiLevelStore(NewMemoryStore(10, 0), NewRedisStore(m, "", 0), nil))
}

func TestMemoryStore_Eviction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2, 0)

	require.NoError(t, s.Set(ctx, StagePrompt, "a", []byte("1")))
	require.NoError(t, s.Set(ctx, StagePrompt, "b", []byte("2")))
	_, err := s.Get(ctx, StagePrompt, "a") // a 变为最近使用
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, StagePrompt, "c", []byte("3")))

	_, err = s.Get(ctx, StagePrompt, "b")
	assert.True(t, IsMiss(err), "b 应被淘汰")
	_, err = s.Get(ctx, StagePrompt, "a")
	assert.NoError(t, err)
	assert.Equal(t, 2, s.Len())
}

func TestMemoryStore_TTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10, time.Minute)
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, StagePrompt, "a", []byte("1")))
	now = now.Add(2 * time.Minute)

	_, err := s.Get(ctx, StagePrompt, "a")
	assert.True(t, IsMiss(err))
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10, 0)
	require.NoError(t, s.Set(ctx, StagePrompt, "a", []byte("abc")))

	got, _ := s.Get(ctx, StagePrompt, "a")
	got[0] = 'z'
	again, _ := s.Get(ctx, StagePrompt, "a")
	assert.Equal(t, "abc", string(again))
}

func TestFileStore_Layout(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Set(context.Background(), StageRepresentation, "abc123", []byte("{}")))
	_, err = os.Stat(filepath.Join(dir, "representation", "abc123.json"))
	assert.NoError(t, err)

	err = s.Set(context.Background(), StageRepresentation, "../escape", []byte("{}"))
	assert.Error(t, err)
}

func TestMultiLevelStore_BackfillsLocal(t *testing.T) {
	ctx := context.Background()
	_, m := newRedisManager(t)
	remote := NewRedisStore(m, "", 0)
	require.NoError(t, remote.Set(ctx, StageExtraction, "k", []byte("v")))

	local := NewMemoryStore(10, 0)
	s := NewMultiLevelStore(local, remote, zap.NewNop())

	got, err := s.Get(ctx, StageExtraction, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	fromLocal, err := local.Get(ctx, StageExtraction, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(fromLocal))
}

func TestNewStore(t *testing.T) {
	_, m := newRedisManager(t)
	cfg := config.DefaultCacheConfig()
	cfg.Dir = t.TempDir()

	tests := []struct {
		backend string
		redis   *internalcache.Manager
		want    any
		wantErr bool
	}{
		{"memory", nil, &MemoryStore{}, false},
		{"redis", m, &RedisStore{}, false},
		{"redis", nil, nil, true},
		{"file", nil, &FileStore{}, false},
		{"multilevel", m, &MultiLevelStore{}, false},
		{"multilevel", nil, &MultiLevelStore{}, false},
		{"bogus", nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg.Backend = tt.backend
			s, err := NewStore(cfg, tt.redis, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, s)
		})
	}
}
