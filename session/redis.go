package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures RedisStore.
type RedisConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	Prefix       string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	// TTL expires idle sessions; 0 keeps them forever.
	TTL time.Duration
}

// RedisStore keeps each record as a JSON string and indexes ids by update
// time in a sorted set.
type RedisStore struct {
	rdb        redis.UniversalClient
	prefix     string
	ttl        time.Duration
	ownsClient bool
}

var (
	_ Store   = (*RedisStore)(nil)
	_ History = (*RedisStore)(nil)
)

// NewRedisStore dials Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := NewRedisStoreFromClient(ctx, rdb, cfg.Prefix)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	s.ttl = cfg.TTL
	s.ownsClient = true
	return s, nil
}

// NewRedisStoreFromClient uses a caller-managed client; Close will not close it.
func NewRedisStoreFromClient(ctx context.Context, rdb redis.UniversalClient, prefix string) (*RedisStore, error) {
	if prefix == "" {
		prefix = "advisor"
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb, prefix: prefix}, nil
}

// Close closes the underlying client if the store created it.
func (s *RedisStore) Close() error {
	if s.ownsClient {
		return s.rdb.Close()
	}
	return nil
}

func (s *RedisStore) recordKey(id string) string { return fmt.Sprintf("%s:session:%s", s.prefix, id) }
func (s *RedisStore) recentKey() string          { return fmt.Sprintf("%s:sessions:recent", s.prefix) }

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, rec *Record) (string, error) {
	cp := cloneRecord(rec)
	if cp.ID == "" {
		cp.ID = newID()
	}
	now := time.Now().UTC()
	cp.UpdatedAt = now

	prev, err := s.Get(ctx, cp.ID)
	switch {
	case err == nil:
		cp.StartedAt = prev.StartedAt
		if cp.EndedAt == nil {
			cp.EndedAt = prev.EndedAt
		}
	case err == ErrNotFound:
		if cp.StartedAt.IsZero() {
			cp.StartedAt = now
		}
	default:
		return "", err
	}

	b, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(cp.ID), b, s.ttl)
		pipe.ZAdd(ctx, s.recentKey(), redis.Z{Score: float64(now.UnixNano()), Member: cp.ID})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("redis save session: %w", err)
	}
	return cp.ID, nil
}

// Get implements History.
func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	v, err := s.rdb.Get(ctx, s.recordKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	var r Record
	if err := json.Unmarshal(v, &r); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &r, nil
}

// List implements History. Ids whose record has expired are skipped and
// pruned from the index.
func (s *RedisStore) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	ids, err := s.rdb.ZRevRange(ctx, s.recentKey(), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget sessions: %w", err)
	}
	out := make([]*Record, 0, len(vals))
	var stale []interface{}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var r Record
		if json.Unmarshal([]byte(str), &r) == nil {
			out = append(out, &r)
		}
	}
	if len(stale) > 0 {
		_ = s.rdb.ZRem(ctx, s.recentKey(), stale...).Err()
	}
	return out, nil
}

// End implements History. The record's remaining TTL is kept.
func (s *RedisStore) End(ctx context.Context, id string) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.EndedAt != nil {
		return nil
	}
	now := time.Now().UTC()
	r.EndedAt = &now
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.rdb.SetArgs(ctx, s.recordKey(id), b, redis.SetArgs{KeepTTL: true, Mode: "XX"}).Err(); err != nil {
		if err == redis.Nil {
			return ErrNotFound
		}
		return fmt.Errorf("redis end session: %w", err)
	}
	return nil
}
