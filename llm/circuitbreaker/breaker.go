package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/docintake/types"
)

// State 熔断器状态
type State int

const (
	// StateClosed 正常放行
	StateClosed State = iota
	// StateOpen 熔断中，直接拒绝
	StateOpen
	// StateHalfOpen 试探性恢复
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// Threshold 连续上游失败次数阈值
	Threshold int
	// ResetTimeout 从 Open 进入 HalfOpen 的等待时间
	ResetTimeout time.Duration
	// HalfOpenMaxCalls 半开状态下允许的并发试探数
	HalfOpenMaxCalls int
	// OnStateChange 状态变更回调，在锁外异步调用
	OnStateChange func(from, to State)
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Threshold:        5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// ErrCircuitOpen 熔断打开时的底层原因，可用 errors.Is 判断
var ErrCircuitOpen = errors.New("circuit open")

// Breaker 保护模型上游的熔断器。
// 只有上游故障（超时、5xx、限流）计入失败；请求本身的问题与调用方取消不计入。
type Breaker struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	halfOpenCalls int
}

// New 创建熔断器，非法参数回落到默认值
func New(cfg Config, logger *zap.Logger) *Breaker {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "circuit_breaker")),
		now:    time.Now,
	}
}

// Do 经熔断器执行 fn
func Do[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if b == nil {
		return fn(ctx)
	}
	if err := b.allow(); err != nil {
		return zero, err
	}
	v, err := fn(ctx)
	b.record(ctx, err)
	if err != nil {
		return zero, err
	}
	return v, nil
}

// State 当前状态
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset 手动恢复为关闭状态
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state, b.failures, b.halfOpenCalls = StateClosed, 0, 0
	b.mu.Unlock()

	b.logger.Info("circuit breaker reset", zap.Stringer("from", from))
	b.notify(from, StateClosed)
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return openError()
		}
		b.transition(StateHalfOpen)
		b.halfOpenCalls = 1
		b.logger.Info("circuit breaker half-open, probing upstream")
		return nil
	case StateHalfOpen:
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			return openError()
		}
		b.halfOpenCalls++
		return nil
	default:
		return nil
	}
}

func (b *Breaker) record(ctx context.Context, err error) {
	// 调用方取消不代表上游故障
	if err != nil && ctx.Err() != nil {
		b.mu.Lock()
		if b.state == StateHalfOpen && b.halfOpenCalls > 0 {
			b.halfOpenCalls--
		}
		b.mu.Unlock()
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !IsUpstreamFailure(err) {
		if b.state == StateHalfOpen {
			b.logger.Info("circuit breaker closed, upstream recovered")
			b.transition(StateClosed)
		}
		b.failures, b.halfOpenCalls = 0, 0
		return
	}

	b.failures++
	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.Threshold {
			b.logger.Warn("circuit breaker opened",
				zap.Int("consecutive_failures", b.failures),
				zap.Duration("reset_timeout", b.cfg.ResetTimeout),
				zap.Error(err),
			)
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.logger.Warn("circuit breaker trial call failed, reopening", zap.Error(err))
		b.openedAt = b.now()
		b.halfOpenCalls = 0
		b.transition(StateOpen)
	}
}

// transition 需持有锁
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.notify(from, to)
}

func (b *Breaker) notify(from, to State) {
	if b.cfg.OnStateChange != nil {
		go b.cfg.OnStateChange(from, to)
	}
}

// IsUpstreamFailure 判断错误是否说明上游不可用
func IsUpstreamFailure(err error) bool {
	if err == nil {
		return false
	}
	switch types.GetErrorCode(err) {
	case types.ErrUpstreamError, types.ErrUpstreamTimeout, types.ErrRateLimit, types.ErrServiceUnavailable:
		return true
	case "":
		return errors.Is(err, context.DeadlineExceeded)
	default:
		return false
	}
}

func openError() error {
	return types.NewError(types.ErrServiceUnavailable, "llm upstream unavailable, circuit open").WithCause(ErrCircuitOpen)
}
