package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// UpdateNotifier tracks when competition data last changed so polling
// clients know to refresh.
type UpdateNotifier interface {
	MarkChanged(ctx context.Context) error
	LastChanged(ctx context.Context) (time.Time, error)
}

const updatesKey = "competitions:updated_at"

type RedisUpdateNotifier struct {
	rdb *redis.Client
}

func NewRedisUpdateNotifier(addr, password string) (*RedisUpdateNotifier, error) {
	opts := &redis.Options{
		Addr:        addr,
		Password:    password,
		DialTimeout: 5 * time.Second,
		ReadTimeout: 3 * time.Second,
	}
	if parsed, err := redis.ParseURL(addr); err == nil {
		opts = parsed
		if opts.Password == "" {
			opts.Password = password
		}
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisUpdateNotifier{rdb: rdb}, nil
}

func (n *RedisUpdateNotifier) MarkChanged(ctx context.Context) error {
	return n.rdb.Set(ctx, updatesKey, time.Now().UnixMilli(), 0).Err()
}

func (n *RedisUpdateNotifier) LastChanged(ctx context.Context) (time.Time, error) {
	raw, err := n.rdb.Get(ctx, updatesKey).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt %s value %q: %w", updatesKey, raw, err)
	}
	return time.UnixMilli(ms), nil
}

func (n *RedisUpdateNotifier) Close() error {
	return n.rdb.Close()
}

// LocalUpdateNotifier keeps the flag in process memory for single-instance
// deployments without redis.
type LocalUpdateNotifier struct {
	mu sync.Mutex
	at time.Time
}

func NewLocalUpdateNotifier() *LocalUpdateNotifier {
	return &LocalUpdateNotifier{}
}

func (n *LocalUpdateNotifier) MarkChanged(ctx context.Context) error {
	n.mu.Lock()
	n.at = time.Now()
	n.mu.Unlock()
	return nil
}

func (n *LocalUpdateNotifier) LastChanged(ctx context.Context) (time.Time, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.at, nil
}
