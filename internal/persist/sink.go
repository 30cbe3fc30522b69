package persist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/docintake/config"
	"github.com/BaSui01/docintake/internal/pool"
	"github.com/BaSui01/docintake/llm/batch"
	"github.com/BaSui01/docintake/llm/retry"
)

// Observer 持久化指标
type Observer interface {
	RecordPersist(writer, status string)
}

// 指标中的写入状态
const (
	StatusWritten = "written"
	StatusFailed  = "failed"
	StatusDropped = "dropped"
)

// SinkStats 计数快照
type SinkStats struct {
	Enqueued int64 `json:"enqueued"`
	Written  int64 `json:"written"`
	Failed   int64 `json:"failed"`
	Dropped  int64 `json:"dropped"`
}

// DeferredSink 延迟持久化
type DeferredSink struct {
	writers []Writer
	pool    *pool.GoroutinePool
	retryer *retry.Retryer
	timeout time.Duration

	retryAttempts int
	observer      Observer
	logger        *zap.Logger

	enqueued atomic.Int64
	written  atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64
}

// SinkOption 可选参数
type SinkOption func(*DeferredSink)

// WithObserver 设置指标观察者
func WithObserver(o Observer) SinkOption {
	return func(s *DeferredSink) { s.observer = o }
}

// WithRetryDelay 覆盖重试的初始延迟，测试中用于缩短等待
func WithRetryDelay(d time.Duration) SinkOption {
	return func(s *DeferredSink) { s.retryer = newWriteRetryer(s.retryAttempts, d, s.logger) }
}

// NewDeferredSink 创建延迟持久化
func NewDeferredSink(writers []Writer, cfg config.PersistenceConfig, logger *zap.Logger, opts ...SinkOption) *DeferredSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := config.DefaultPersistenceConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}

	logger = logger.With(zap.String("component", "persist"))
	s := &DeferredSink{
		writers: writers,
		pool: pool.NewGoroutinePool(pool.GoroutinePoolConfig{
			Name:        "persist",
			MaxWorkers:  cfg.Workers,
			QueueSize:   cfg.QueueSize,
			IdleTimeout: time.Minute,
		}, logger),
		timeout: cfg.WriteTimeout,
		logger:  logger,
	}
	s.retryAttempts = cfg.MaxAttempts
	s.retryer = newWriteRetryer(cfg.MaxAttempts, 200*time.Millisecond, logger)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newWriteRetryer(attempts int, initial time.Duration, logger *zap.Logger) *retry.Retryer {
	return retry.New(retry.Policy{
		MaxRetries:   attempts - 1,
		InitialDelay: initial,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}, logger)
}

// =============================================================================
// 🎯 batch.Sink
// =============================================================================

// Enqueue 构造任务并投递，不等待写入
func (s *DeferredSink) Enqueue(ctx context.Context, result *batch.Result, meta batch.Meta) {
	if result == nil || len(s.writers) == 0 {
		return
	}
	job := NewJob(result, meta)
	s.enqueued.Add(1)

	err := s.pool.Submit(context.WithoutCancel(ctx), func(ctx context.Context) error {
		return s.run(ctx, job)
	})
	if err == nil {
		return
	}

	s.dropped.Add(1)
	for _, w := range s.writers {
		s.record(w.Name(), StatusDropped)
	}
	s.logger.Warn("persistence job dropped",
		zap.String("batch_id", job.Meta.BatchID),
		zap.Int("entries", len(job.Entries)),
		zap.Error(err),
	)
}

func (s *DeferredSink) run(ctx context.Context, job *Job) error {
	var errs []error
	for _, w := range s.writers {
		err := s.retryer.Do(ctx, func(ctx context.Context) error {
			return s.writeOnce(ctx, w, job)
		})
		if err != nil {
			s.failed.Add(1)
			s.record(w.Name(), StatusFailed)
			s.logger.Error("persistence write failed",
				zap.String("writer", w.Name()),
				zap.String("batch_id", job.Meta.BatchID),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", w.Name(), err))
			continue
		}
		s.written.Add(1)
		s.record(w.Name(), StatusWritten)
		s.logger.Debug("persistence write completed",
			zap.String("writer", w.Name()),
			zap.String("batch_id", job.Meta.BatchID),
		)
	}
	return errors.Join(errs...)
}

// writeOnce 单次写入。超时被转换为普通错误，使重试器继续下一次尝试。
func (s *DeferredSink) writeOnce(ctx context.Context, w Writer, job *Job) error {
	wctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := w.Write(wctx, job)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("write timed out after %s: %v", s.timeout, err)
	}
	return err
}

func (s *DeferredSink) record(writer, status string) {
	if s.observer != nil {
		s.observer.RecordPersist(writer, status)
	}
}

// Stats 返回计数快照
func (s *DeferredSink) Stats() SinkStats {
	return SinkStats{
		Enqueued: s.enqueued.Load(),
		Written:  s.written.Load(),
		Failed:   s.failed.Load(),
		Dropped:  s.dropped.Load(),
	}
}

// Close 等待队列排空后关闭实现了 io.Closer 的写入方
func (s *DeferredSink) Close(ctx context.Context) error {
	err := s.pool.Close(ctx)
	if err != nil {
		s.logger.Warn("persistence drain interrupted", zap.Error(err))
	}
	for _, w := range s.writers {
		if c, ok := w.(io.Closer); ok {
			if cerr := c.Close(); cerr != nil {
				err = errors.Join(err, fmt.Errorf("close %s: %w", w.Name(), cerr))
			}
		}
	}
	return err
}
