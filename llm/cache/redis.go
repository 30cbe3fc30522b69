package cache

import (
	"context"
	"errors"
	"time"

	internalcache "github.com/BaSui01/docintake/internal/cache"
)

// RedisStore 基于共享 Redis 连接的存储
// 键格式：<prefix><namespace>:<key>
type RedisStore struct {
	manager *internalcache.Manager
	prefix  string
	ttl     time.Duration
}

// NewRedisStore 创建 Redis 存储，ttl 为 0 时不过期
func NewRedisStore(manager *internalcache.Manager, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{manager: manager, prefix: prefix, ttl: ttl}
}

// Get 读取条目
func (s *RedisStore) Get(ctx context.Context, namespace Stage, key string) ([]byte, error) {
	data, err := s.manager.Get(ctx, s.prefix+nsKey(namespace, key))
	if errors.Is(err, internalcache.ErrCacheMiss) {
		return nil, ErrMiss
	}
	return data, err
}

// Set 写入条目
func (s *RedisStore) Set(ctx context.Context, namespace Stage, key string, value []byte) error {
	return s.manager.Set(ctx, s.prefix+nsKey(namespace, key), value, s.ttl)
}
