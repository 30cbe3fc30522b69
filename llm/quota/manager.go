package quota

import (
	"context"
	"math"
	"time"

	"github.com/BaSui01/docintake/config"
	"github.com/BaSui01/docintake/types"
	"go.uber.org/zap"
)

// =============================================================================
// 📒 配额管理器
// =============================================================================

// Observer 接收配额决策统计
type Observer interface {
	RecordQuotaDecision(result string)
}

// 决策结果标签
const (
	ResultGranted  = "granted"
	ResultDenied   = "denied"
	ResultFailOpen = "fail_open"
)

// Reservation 一次批处理的页数预留。
// Accounted 为 false 表示后端不可用时放行，未实际计入账本，退还为空操作。
// 同一 Reservation 不应被并发退还。
type Reservation struct {
	Account   Account
	Pages     int
	Accounted bool

	refunded int
}

// Remaining 尚可退还的页数
func (r *Reservation) Remaining() int {
	if r == nil {
		return 0
	}
	return r.Pages - r.refunded
}

// Manager 在 Ledger 之上提供月度上限、调用超时与故障放行
type Manager struct {
	ledger   Ledger
	limit    int
	timeout  time.Duration
	logger   *zap.Logger
	observer Observer
	now      func() time.Time
}

// Option 管理器选项
type Option func(*Manager)

// WithObserver 设置统计接收方
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithClock 替换时钟，测试使用
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager 创建配额管理器，limit <= 0 表示不设上限但仍计数
func NewManager(ledger Ledger, cfg config.QuotaConfig, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	m := &Manager{
		ledger:  ledger,
		limit:   cfg.MonthlyPageLimit,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "quota")),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Limit 月度页数上限
func (m *Manager) Limit() int {
	return m.limit
}

func (m *Manager) effectiveLimit() int {
	if m.limit <= 0 {
		return math.MaxInt32
	}
	return m.limit
}

// Reserve 为用户预留页数。
// 超额返回 QUOTA_EXCEEDED；后端错误时放行并返回未计账的预留。
func (m *Manager) Reserve(ctx context.Context, userID string, pages int) (*Reservation, error) {
	acct := AccountFor(userID, m.now())
	if pages <= 0 {
		return &Reservation{Account: acct, Accounted: false}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	ok, err := m.ledger.Reserve(callCtx, acct, pages, m.effectiveLimit())
	if err != nil {
		m.logger.Warn("quota backend unavailable, allowing batch",
			zap.String("user_id", userID),
			zap.Int("pages", pages),
			zap.Error(err),
		)
		m.record(ResultFailOpen)
		return &Reservation{Account: acct, Pages: pages, Accounted: false}, nil
	}
	if !ok {
		m.record(ResultDenied)
		return nil, types.Errorf(types.ErrQuotaExceeded,
			"monthly page quota exceeded: requested %d pages, limit %d", pages, m.limit)
	}

	m.record(ResultGranted)
	return &Reservation{Account: acct, Pages: pages, Accounted: true}, nil
}

// Refund 退还页数，数量被限制在预留剩余额度内。失败只记录日志。
func (m *Manager) Refund(ctx context.Context, r *Reservation, pages int) {
	if r == nil || !r.Accounted || pages <= 0 {
		return
	}
	if rem := r.Remaining(); pages > rem {
		pages = rem
	}
	if pages <= 0 {
		return
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	if err := m.ledger.Refund(callCtx, r.Account, pages); err != nil {
		m.logger.Warn("quota refund failed",
			zap.String("user_id", r.Account.UserID),
			zap.Int("pages", pages),
			zap.Error(err),
		)
		return
	}
	r.refunded += pages
}

// Usage 查询用户当前周期用量
func (m *Manager) Usage(ctx context.Context, userID string) (int, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.ledger.Usage(callCtx, AccountFor(userID, m.now()))
}

func (m *Manager) record(result string) {
	if m.observer != nil {
		m.observer.RecordQuotaDecision(result)
	}
}
