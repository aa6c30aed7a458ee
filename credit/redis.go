package credit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// luaReserve atomically checks and deducts a balance, then records the
// transaction in a capped list.
//
// KEYS[1] = balance key (integer string)
// KEYS[2] = transactions list key
// ARGV[1] = cost
// ARGV[2] = transaction JSON
// ARGV[3] = max transactions kept
//
// Returns: new balance, or -1 when the balance is insufficient.
const luaReserve = `
local bal = tonumber(redis.call('GET', KEYS[1]) or '0')
local cost = tonumber(ARGV[1])
if bal < cost then
  return -1
end
local nb = redis.call('DECRBY', KEYS[1], cost)
redis.call('LPUSH', KEYS[2], ARGV[2])
redis.call('LTRIM', KEYS[2], 0, tonumber(ARGV[3]) - 1)
return nb
`

// luaReset refills the balance to the monthly allowance, provided no other
// caller has reset since last_reset_at was read.
//
// KEYS[1] = balance key
// KEYS[2] = allowance hash (monthly, last_reset_at)
// KEYS[3] = transactions list key
// ARGV[1] = last_reset_at observed by the caller
// ARGV[2] = new last_reset_at
// ARGV[3] = transaction reason
// ARGV[4] = max transactions kept
//
// Returns: the refilled balance, or -1 when the reset was already applied.
const luaReset = `
local last = redis.call('HGET', KEYS[2], 'last_reset_at') or ''
if last ~= ARGV[1] then
  return -1
end
local monthly = tonumber(redis.call('HGET', KEYS[2], 'monthly') or '0')
local old = tonumber(redis.call('GET', KEYS[1]) or '0')
redis.call('SET', KEYS[1], monthly)
redis.call('HSET', KEYS[2], 'last_reset_at', ARGV[2])
redis.call('LPUSH', KEYS[3], cjson.encode({change_amount = monthly - old, reason = ARGV[3], at = ARGV[2]}))
redis.call('LTRIM', KEYS[3], 0, tonumber(ARGV[4]) - 1)
return monthly
`

// RedisConfig configures the Redis-backed ledger.
type RedisConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	Prefix       string
	Account      string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MaxTransactions bounds the transaction log; 0 means 500.
	MaxTransactions int
	// FreeTrial records reservations as ReasonFreeTrialUse.
	FreeTrial bool
}

// RedisLedger stores one account's balance and transaction log in Redis.
type RedisLedger struct {
	rdb        redis.UniversalClient
	prefix     string
	account    string
	maxTx      int
	reserveSHA string
	freeTrial  bool
	ownsClient bool
}

var _ AllowanceLedger = (*RedisLedger)(nil)

// NewRedisLedger dials Redis and verifies the connection.
func NewRedisLedger(cfg RedisConfig) (*RedisLedger, error) {
	if cfg.Account == "" {
		return nil, fmt.Errorf("redis ledger: account is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l, err := NewRedisLedgerFromClient(ctx, rdb, cfg.Prefix, cfg.Account, cfg.MaxTransactions)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	l.freeTrial = cfg.FreeTrial
	l.ownsClient = true
	return l, nil
}

// NewRedisLedgerFromClient uses a caller-managed client; Close will not close it.
func NewRedisLedgerFromClient(ctx context.Context, rdb redis.UniversalClient, prefix, account string, maxTx int) (*RedisLedger, error) {
	if prefix == "" {
		prefix = "advisor"
	}
	if maxTx <= 0 {
		maxTx = 500
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	l := &RedisLedger{rdb: rdb, prefix: prefix, account: account, maxTx: maxTx}
	// Best-effort: fall back to EVAL if the script cannot be cached.
	if sha, err := rdb.ScriptLoad(ctx, luaReserve).Result(); err == nil {
		l.reserveSHA = sha
	}
	return l, nil
}

// Close closes the underlying client if the ledger created it.
func (l *RedisLedger) Close() error {
	if l.ownsClient {
		return l.rdb.Close()
	}
	return nil
}

func (l *RedisLedger) balanceKey() string { return fmt.Sprintf("%s:credits:%s:balance", l.prefix, l.account) }
func (l *RedisLedger) txKey() string      { return fmt.Sprintf("%s:credits:%s:tx", l.prefix, l.account) }
func (l *RedisLedger) allowanceKey() string {
	return fmt.Sprintf("%s:credits:%s:allowance", l.prefix, l.account)
}

// SetBalance overwrites the account balance, for seeding and admin grants.
func (l *RedisLedger) SetBalance(ctx context.Context, balance int) error {
	if balance < 0 {
		return fmt.Errorf("negative balance %d", balance)
	}
	if err := l.rdb.Set(ctx, l.balanceKey(), balance, 0).Err(); err != nil {
		return fmt.Errorf("redis set balance: %w", err)
	}
	return nil
}

func (l *RedisLedger) Balance(ctx context.Context) (int, error) {
	v, err := l.rdb.Get(ctx, l.balanceKey()).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("redis get balance: %w", err)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse balance %q: %w", v, err)
	}
	return n, nil
}

func (l *RedisLedger) Reserve(ctx context.Context, req ReserveRequest) (ReserveResult, error) {
	if req.Cost < 0 {
		return ReserveResult{}, fmt.Errorf("negative cost %d", req.Cost)
	}
	tx, err := json.Marshal(Transaction{ChangeAmount: -req.Cost, Reason: useReason(l.freeTrial), Mode: req.Mode, At: time.Now().UTC()})
	if err != nil {
		return ReserveResult{}, fmt.Errorf("marshal transaction: %w", err)
	}
	keys := []string{l.balanceKey(), l.txKey()}
	args := []interface{}{req.Cost, string(tx), l.maxTx}

	var res int64
	evalNeeded := l.reserveSHA == ""
	if !evalNeeded {
		res, err = l.rdb.EvalSha(ctx, l.reserveSHA, keys, args...).Int64()
		if err != nil {
			// Only a missing script is safe to re-run; any other error may
			// have deducted already.
			if !redis.HasErrorPrefix(err, "NOSCRIPT") {
				return ReserveResult{}, fmt.Errorf("redis evalsha reserve: %w", err)
			}
			evalNeeded = true
		}
	}
	if evalNeeded {
		res, err = l.rdb.Eval(ctx, luaReserve, keys, args...).Int64()
		if err != nil {
			return ReserveResult{}, fmt.Errorf("redis eval reserve: %w", err)
		}
	}
	if res < 0 {
		bal, _ := l.Balance(ctx)
		return ReserveResult{Balance: bal}, ErrInsufficientCredit
	}
	return ReserveResult{Balance: int(res)}, nil
}

func (l *RedisLedger) Transactions(ctx context.Context, limit int) ([]Transaction, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	vals, err := l.rdb.LRange(ctx, l.txKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange transactions: %w", err)
	}
	out := make([]Transaction, 0, len(vals))
	for _, v := range vals {
		var tx Transaction
		if json.Unmarshal([]byte(v), &tx) == nil {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (l *RedisLedger) Allowance(ctx context.Context) (Allowance, error) {
	a, _, err := l.allowance(ctx)
	return a, err
}

// allowance also returns last_reset_at exactly as stored, for the reset script.
func (l *RedisLedger) allowance(ctx context.Context) (Allowance, string, error) {
	vals, err := l.rdb.HGetAll(ctx, l.allowanceKey()).Result()
	if err != nil {
		return Allowance{}, "", fmt.Errorf("redis get allowance: %w", err)
	}
	var a Allowance
	if v, ok := vals["monthly"]; ok {
		if a.Monthly, err = strconv.Atoi(v); err != nil {
			return Allowance{}, "", fmt.Errorf("parse allowance %q: %w", v, err)
		}
	}
	raw := vals["last_reset_at"]
	if raw != "" {
		if a.LastResetAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return Allowance{}, "", fmt.Errorf("parse last reset %q: %w", raw, err)
		}
	}
	return a, raw, nil
}

func (l *RedisLedger) SetAllowance(ctx context.Context, monthly int) error {
	if monthly < 0 {
		return fmt.Errorf("negative allowance %d", monthly)
	}
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, l.allowanceKey(), "monthly", monthly)
		pipe.HSetNX(ctx, l.allowanceKey(), "last_reset_at", time.Now().UTC().Format(time.RFC3339Nano))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set allowance: %w", err)
	}
	return nil
}

func (l *RedisLedger) ResetIfDue(ctx context.Context, now time.Time) (bool, error) {
	a, raw, err := l.allowance(ctx)
	if err != nil {
		return false, err
	}
	if !a.Due(now) {
		return false, nil
	}
	keys := []string{l.balanceKey(), l.allowanceKey(), l.txKey()}
	args := []interface{}{
		raw,
		now.UTC().Format(time.RFC3339Nano),
		ReasonMonthlyReset,
		l.maxTx,
	}
	res, err := l.rdb.Eval(ctx, luaReset, keys, args...).Int64()
	if err != nil {
		return false, fmt.Errorf("redis eval reset: %w", err)
	}
	return res >= 0, nil
}
