package cache

import (
	"context"
	"errors"
)

// Stage 缓存命名空间，每个流水线阶段一个
type Stage string

const (
	StageClassification Stage = "classification"
	StageRepresentation Stage = "representation"
	StageExtraction     Stage = "extraction"
	StagePrompt         Stage = "prompt"
)

// Stages 返回全部阶段，顺序固定
func Stages() []Stage {
	return []Stage{StageClassification, StageRepresentation, StageExtraction, StagePrompt}
}

// ErrMiss 键在命名空间中不存在
var ErrMiss = errors.New("cache miss")

// Store 按命名空间隔离的字节级键值存储
type Store interface {
	Get(ctx context.Context, namespace Stage, key string) ([]byte, error)
	Set(ctx context.Context, namespace Stage, key string, value []byte) error
}

// IsMiss 判断是否为未命中
func IsMiss(err error) bool {
	return errors.Is(err, ErrMiss)
}

func nsKey(namespace Stage, key string) string {
	return string(namespace) + ":" + key
}
