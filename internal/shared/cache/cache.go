package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func ConnectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return rdb, nil
}

// JSONCache guarda valores serializados em JSON sob um prefixo de chave, com TTL.
type JSONCache struct {
	R      *redis.Client
	Prefix string
}

func NewJSON(r *redis.Client, prefix string) *JSONCache { return &JSONCache{R: r, Prefix: prefix} }

func (c *JSONCache) key(k string) string { return c.Prefix + k }

// Get devolve false quando a chave não existe (ou expirou).
func (c *JSONCache) Get(ctx context.Context, k string, dst any) (bool, error) {
	b, err := c.R.Get(ctx, c.key(k)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(b, dst)
}

func (c *JSONCache) Set(ctx context.Context, k string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.R.Set(ctx, c.key(k), b, ttl).Err()
}

func (c *JSONCache) Delete(ctx context.Context, k string) error {
	return c.R.Del(ctx, c.key(k)).Err()
}
