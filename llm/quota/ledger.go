package quota

import (
	"context"
	"sync"
	"time"
)

// Account 配额账户：用户 + 计费周期起点
type Account struct {
	UserID      string
	PeriodStart time.Time
}

// PeriodStart 返回 t 所在自然月的第一天（UTC 零点）
func PeriodStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// AccountFor 构造用户在 t 时刻所属周期的账户
func AccountFor(userID string, t time.Time) Account {
	return Account{UserID: userID, PeriodStart: PeriodStart(t)}
}

// Period 周期标识，形如 2024-05
func (a Account) Period() string {
	return a.PeriodStart.Format("2006-01")
}

// Ledger 页数计数器后端。
//
// Reserve 为原子的封顶加法：若 used+pages 将超过 limit 则返回 false 且不做任何修改。
// Refund 为原子减法，结果不低于 0。
type Ledger interface {
	Reserve(ctx context.Context, acct Account, pages, limit int) (bool, error)
	Refund(ctx context.Context, acct Account, pages int) error
	Usage(ctx context.Context, acct Account) (int, error)
}

// =============================================================================
// 🧠 内存账本
// =============================================================================

// MemoryLedger 进程内账本，用于测试与单机部署
type MemoryLedger struct {
	mu     sync.Mutex
	counts map[Account]int
}

// NewMemoryLedger 创建内存账本
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{counts: make(map[Account]int)}
}

func (l *MemoryLedger) Reserve(_ context.Context, acct Account, pages, limit int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.counts[acct]+pages > limit {
		return false, nil
	}
	l.counts[acct] += pages
	return true, nil
}

func (l *MemoryLedger) Refund(_ context.Context, acct Account, pages int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.counts[acct] - pages
	if n < 0 {
		n = 0
	}
	l.counts[acct] = n
	return nil
}

func (l *MemoryLedger) Usage(_ context.Context, acct Account) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[acct], nil
}
