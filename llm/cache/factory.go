package cache

import (
	"fmt"

	"github.com/BaSui01/docintake/config"
	internalcache "github.com/BaSui01/docintake/internal/cache"
	"go.uber.org/zap"
)

// NewStore 按配置构造存储后端。
// multilevel 的 L2 在有 Redis 连接时使用 Redis，否则使用文件存储。
func NewStore(cfg config.CacheConfig, redis *internalcache.Manager, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(cfg.LocalMaxSize, cfg.TTL), nil
	case "redis":
		if redis == nil {
			return nil, fmt.Errorf("cache backend redis requires a redis connection")
		}
		return NewRedisStore(redis, cfg.KeyPrefix, cfg.TTL), nil
	case "file":
		return NewFileStore(cfg.Dir)
	case "multilevel", "":
		var remote Store
		if redis != nil {
			remote = NewRedisStore(redis, cfg.KeyPrefix, cfg.TTL)
		} else {
			fs, err := NewFileStore(cfg.Dir)
			if err != nil {
				return nil, err
			}
			remote = fs
		}
		return NewMultiLevelStore(NewMemoryStore(cfg.LocalMaxSize, cfg.TTL), remote, logger), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
