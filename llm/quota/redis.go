package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 计数键保留 40 天，覆盖整个自然月后自动过期
const counterTTL = 40 * 24 * time.Hour

// KEYS[1]=计数键 ARGV[1]=页数 ARGV[2]=上限 ARGV[3]=TTL 秒
var reserveScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local pages = tonumber(ARGV[1])
if cur + pages > tonumber(ARGV[2]) then
	return 0
end
redis.call('INCRBY', KEYS[1], pages)
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[3]))
return 1
`)

// KEYS[1]=计数键 ARGV[1]=页数 ARGV[2]=TTL 秒
var refundScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
	return 0
end
local n = tonumber(raw) - tonumber(ARGV[1])
if n < 0 then
	n = 0
end
redis.call('SET', KEYS[1], n, 'EX', tonumber(ARGV[2]))
return n
`)

// RedisLedger 基于 Lua 脚本的原子计数账本
type RedisLedger struct {
	client *redis.Client
	prefix string
}

// NewRedisLedger 创建 Redis 账本，键格式 <prefix><user>:<yyyy-mm>
func NewRedisLedger(client *redis.Client, prefix string) *RedisLedger {
	return &RedisLedger{client: client, prefix: prefix}
}

func (l *RedisLedger) key(acct Account) string {
	return l.prefix + acct.UserID + ":" + acct.Period()
}

func (l *RedisLedger) Reserve(ctx context.Context, acct Account, pages, limit int) (bool, error) {
	res, err := reserveScript.Run(ctx, l.client, []string{l.key(acct)}, pages, limit, int(counterTTL.Seconds())).Int()
	if err != nil {
		return false, fmt.Errorf("quota reserve: %w", err)
	}
	return res == 1, nil
}

func (l *RedisLedger) Refund(ctx context.Context, acct Account, pages int) error {
	if err := refundScript.Run(ctx, l.client, []string{l.key(acct)}, pages, int(counterTTL.Seconds())).Err(); err != nil {
		return fmt.Errorf("quota refund: %w", err)
	}
	return nil
}

func (l *RedisLedger) Usage(ctx context.Context, acct Account) (int, error) {
	n, err := l.client.Get(ctx, l.key(acct)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota usage: %w", err)
	}
	return n, nil
}
