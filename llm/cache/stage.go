package cache

import (
	"context"
	"encoding/json"

	"github.com/BaSui01/docintake/config"
	"go.uber.org/zap"
)

// =============================================================================
// 🗂️ 阶段缓存
// =============================================================================

// Observer 接收缓存命中统计，internal/metrics.Collector 实现该接口
type Observer interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
	RecordCacheError(cacheType, op string)
}

// StageCache 在 Store 之上提供按阶段版本化的 JSON 读写。
// 读失败或负载损坏一律视为未命中；写失败只记录日志与计数。
// nil *StageCache 表示关闭缓存，所有方法均可安全调用。
type StageCache struct {
	store    Store
	versions map[Stage]string
	logger   *zap.Logger
	observer Observer
}

// StageOption 阶段缓存选项
type StageOption func(*StageCache)

// WithObserver 设置统计接收方
func WithObserver(o Observer) StageOption {
	return func(c *StageCache) { c.observer = o }
}

// NewStageCache 创建阶段缓存
func NewStageCache(store Store, versions config.StageVersions, logger *zap.Logger, opts ...StageOption) *StageCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &StageCache{
		store: store,
		versions: map[Stage]string{
			StageClassification: versions.Classification,
			StageRepresentation: versions.Representation,
			StageExtraction:     versions.Extraction,
			StagePrompt:         versions.Prompt,
		},
		logger: logger.With(zap.String("component", "stage_cache")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Version 返回阶段的逻辑版本
func (c *StageCache) Version(stage Stage) string {
	if c == nil {
		return ""
	}
	return c.versions[stage]
}

// Key 计算阶段键；参数无法序列化时返回空串，调用方随之跳过缓存
func (c *StageCache) Key(stage Stage, content []byte, params any) string {
	if c == nil {
		return ""
	}
	key, err := DeriveKey(stage, c.versions[stage], content, params)
	if err != nil {
		c.logger.Debug("cache key derivation failed", zap.String("stage", string(stage)), zap.Error(err))
		return ""
	}
	return key
}

// Lookup 读取并解码到 out，命中返回 true
func (c *StageCache) Lookup(ctx context.Context, stage Stage, key string, out any) bool {
	if c == nil || c.store == nil || key == "" {
		return false
	}

	data, err := c.store.Get(ctx, stage, key)
	if err != nil {
		if !IsMiss(err) {
			c.logger.Debug("cache read failed", zap.String("stage", string(stage)), zap.Error(err))
			c.recordError(stage, "get")
		}
		c.recordMiss(stage)
		return false
	}

	if err := json.Unmarshal(data, out); err != nil {
		c.logger.Debug("cache payload corrupt", zap.String("stage", string(stage)), zap.Error(err))
		c.recordMiss(stage)
		return false
	}

	c.recordHit(stage)
	return true
}

// Put 编码并写入，失败不返回错误
func (c *StageCache) Put(ctx context.Context, stage Stage, key string, v any) {
	if c == nil || c.store == nil || key == "" {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("cache encode failed", zap.String("stage", string(stage)), zap.Error(err))
		c.recordError(stage, "encode")
		return
	}
	if err := c.store.Set(ctx, stage, key, data); err != nil {
		c.logger.Warn("cache write failed", zap.String("stage", string(stage)), zap.Error(err))
		c.recordError(stage, "set")
	}
}

func (c *StageCache) recordHit(stage Stage) {
	if c.observer != nil {
		c.observer.RecordCacheHit(string(stage))
	}
}

func (c *StageCache) recordMiss(stage Stage) {
	if c.observer != nil {
		c.observer.RecordCacheMiss(string(stage))
	}
}

func (c *StageCache) recordError(stage Stage, op string) {
	if c.observer != nil {
		c.observer.RecordCacheError(string(stage), op)
	}
}
