package cart

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	// Addr is host:port or a redis:// URL.
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string
}

// RedisStore keeps each cart as a quantity hash plus an insertion-order list.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	var ropts *redis.Options
	if strings.HasPrefix(opts.Addr, "redis://") || strings.HasPrefix(opts.Addr, "rediss://") {
		parsed, err := redis.ParseURL(opts.Addr)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		ropts = parsed
	} else {
		ropts = &redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}
	}
	ropts.DialTimeout = 5 * time.Second
	ropts.ReadTimeout = 3 * time.Second
	ropts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStoreWithClient(client, opts.TTL, opts.Prefix), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "voicedesk:cart"
	}
	return &RedisStore{client: client, ttl: ttl, prefix: prefix}
}

func (r *RedisStore) keys(session string) (string, string) {
	base := r.prefix + ":" + session
	return base, base + ":order"
}

func (r *RedisStore) Add(ctx context.Context, session, itemID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}
	qtyKey, orderKey := r.keys(session)

	total, err := r.client.HIncrBy(ctx, qtyKey, itemID, int64(qty)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to add to cart: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if total == int64(qty) {
			pipe.RPush(ctx, orderKey, itemID)
		}
		if r.ttl > 0 {
			pipe.Expire(ctx, qtyKey, r.ttl)
			pipe.Expire(ctx, orderKey, r.ttl)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to update cart order: %w", err)
	}
	return int(total), nil
}

func (r *RedisStore) Remove(ctx context.Context, session, itemID string) (bool, error) {
	qtyKey, orderKey := r.keys(session)

	var removed *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.HDel(ctx, qtyKey, itemID)
		pipe.LRem(ctx, orderKey, 0, itemID)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to remove from cart: %w", err)
	}
	return removed.Val() > 0, nil
}

func (r *RedisStore) Items(ctx context.Context, session string) ([]Item, error) {
	qtyKey, orderKey := r.keys(session)

	order, err := r.client.LRange(ctx, orderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cart order: %w", err)
	}
	quantities, err := r.client.HGetAll(ctx, qtyKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cart: %w", err)
	}

	items := make([]Item, 0, len(order))
	for _, id := range order {
		raw, ok := quantities[id]
		if !ok {
			continue
		}
		qty, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		items = append(items, Item{ID: id, Qty: qty})
	}
	return items, nil
}

func (r *RedisStore) Clear(ctx context.Context, session string) error {
	qtyKey, orderKey := r.keys(session)
	if err := r.client.Del(ctx, qtyKey, orderKey).Err(); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
