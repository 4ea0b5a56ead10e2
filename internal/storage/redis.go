package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	appLog "coachcal/internal/log"
)

// Redis stores each collection as one string key "<prefix><name>" holding a
// JSON array.
type Redis struct {
	client *redis.Client
	prefix string
}

// OpenRedis parses a redis:// URL, connects and pings the server.
func OpenRedis(ctx context.Context, url, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	appLog.Info("redis storage ready", "addr", opts.Addr, "prefix", prefix)
	return NewRedis(client, prefix), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(name string) string {
	return r.prefix + name
}

func (r *Redis) LoadCollection(ctx context.Context, name string) ([]Record, error) {
	if name == "" {
		return nil, ErrInvalidCollection
	}
	val, err := r.client.Get(ctx, r.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis storage: load %s: %w", name, err)
	}
	return unmarshalCollection(val)
}

func (r *Redis) SaveCollection(ctx context.Context, name string, records []Record) error {
	if name == "" {
		return ErrInvalidCollection
	}
	payload, err := marshalCollection(records)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(name), payload, 0).Err(); err != nil {
		return fmt.Errorf("redis storage: save %s: %w", name, err)
	}
	return nil
}

func (r *Redis) DeleteCollections(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	keys := make([]string, 0, len(names))
	for _, n := range names {
		keys = append(keys, r.key(n))
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis storage: delete: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
