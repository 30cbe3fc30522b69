package quota

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// NewLedger 按后端名称构造账本；none 返回 nil，调用方据此跳过配额
func NewLedger(backend, keyPrefix string, rdb *redis.Client, db *gorm.DB) (Ledger, error) {
	switch backend {
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("quota backend redis requires a redis connection")
		}
		return NewRedisLedger(rdb, keyPrefix), nil
	case "database":
		if db == nil {
			return nil, fmt.Errorf("quota backend database requires a database connection")
		}
		return NewGormLedger(db), nil
	case "memory":
		return NewMemoryLedger(), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown quota backend %q", backend)
	}
}
