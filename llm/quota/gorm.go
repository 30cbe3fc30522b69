package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UsageCounter usage_counters 表
type UsageCounter struct {
	UserID      string    `gorm:"primaryKey;size:128"`
	PeriodStart time.Time `gorm:"primaryKey"`
	PagesUsed   int       `gorm:"not null;default:0"`
	UpdatedAt   time.Time
}

// TableName 表名
func (UsageCounter) TableName() string {
	return "usage_counters"
}

// GormLedger 关系库账本。
// 先确保计数行存在，再以带条件的 UPDATE 完成封顶加法，依据 RowsAffected 判断是否成功。
type GormLedger struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormLedger 创建关系库账本
func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db, now: time.Now}
}

func (l *GormLedger) ensureRow(tx *gorm.DB, acct Account) error {
	row := UsageCounter{UserID: acct.UserID, PeriodStart: acct.PeriodStart, UpdatedAt: l.now().UTC()}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func (l *GormLedger) Reserve(ctx context.Context, acct Account, pages, limit int) (bool, error) {
	var granted bool
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.ensureRow(tx, acct); err != nil {
			return err
		}
		res := tx.Model(&UsageCounter{}).
			Where("user_id = ? AND period_start = ? AND pages_used + ? <= ?", acct.UserID, acct.PeriodStart, pages, limit).
			Updates(map[string]any{
				"pages_used": gorm.Expr("pages_used + ?", pages),
				"updated_at": l.now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		granted = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("quota reserve: %w", err)
	}
	return granted, nil
}

func (l *GormLedger) Refund(ctx context.Context, acct Account, pages int) error {
	err := l.db.WithContext(ctx).Model(&UsageCounter{}).
		Where("user_id = ? AND period_start = ?", acct.UserID, acct.PeriodStart).
		Updates(map[string]any{
			"pages_used": gorm.Expr("CASE WHEN pages_used > ? THEN pages_used - ? ELSE 0 END", pages, pages),
			"updated_at": l.now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("quota refund: %w", err)
	}
	return nil
}

func (l *GormLedger) Usage(ctx context.Context, acct Account) (int, error) {
	var row UsageCounter
	err := l.db.WithContext(ctx).
		Where("user_id = ? AND period_start = ?", acct.UserID, acct.PeriodStart).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota usage: %w", err)
	}
	return row.PagesUsed, nil
}
