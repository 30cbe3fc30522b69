package cache

import (
	"context"

	"go.uber.org/zap"
)

// MultiLevelStore 多级存储：L1 本地 LRU，L2 任意后端
// L2 命中时回填 L1；写入同时落两级，L2 失败时返回错误。
type MultiLevelStore struct {
	local  *MemoryStore
	remote Store
	logger *zap.Logger
}

// NewMultiLevelStore 创建多级存储
func NewMultiLevelStore(local *MemoryStore, remote Store, logger *zap.Logger) *MultiLevelStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MultiLevelStore{local: local, remote: remote, logger: logger}
}

// Get 先查 L1 再查 L2
func (s *MultiLevelStore) Get(ctx context.Context, namespace Stage, key string) ([]byte, error) {
	if data, err := s.local.Get(ctx, namespace, key); err == nil {
		return data, nil
	}
	if s.remote == nil {
		return nil, ErrMiss
	}

	data, err := s.remote.Get(ctx, namespace, key)
	if err != nil {
		return nil, err
	}
	_ = s.local.Set(ctx, namespace, key, data)
	s.logger.Debug("l2 cache hit", zap.String("namespace", string(namespace)))
	return data, nil
}

// Set 写入两级
func (s *MultiLevelStore) Set(ctx context.Context, namespace Stage, key string, value []byte) error {
	_ = s.local.Set(ctx, namespace, key, value)
	if s.remote == nil {
		return nil
	}
	return s.remote.Set(ctx, namespace, key, value)
}
