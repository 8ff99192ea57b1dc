package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dshills/foldtext/internal/server/store"
)

// recordScript raises a hash field without ever lowering it.
var recordScript = redis.NewScript(`
local cur = tonumber(redis.call("HGET", KEYS[1], ARGV[1]) or "0")
local want = tonumber(ARGV[2])
if want > cur then
	redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
	return want
end
return cur
`)

// Redis is a Ledger stored as one hash per document, keyed by client id.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// OpenRedis connects to the server at url ("redis://host:6379/0").
func OpenRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(rdb), nil
}

// NewRedis wraps an existing client.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb, prefix: "foldtext:ledger:"}
}

func (r *Redis) hashKey(key store.Key) string {
	return r.prefix + key.String()
}

// LastBatch implements Ledger.
func (r *Redis) LastBatch(ctx context.Context, key store.Key, client string) (uint64, error) {
	n, err := r.rdb.HGet(ctx, r.hashKey(key), client).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger %s: %w", key, err)
	}
	return n, nil
}

// Record implements Ledger.
func (r *Redis) Record(ctx context.Context, key store.Key, client string, batch uint64) error {
	if err := recordScript.Run(ctx, r.rdb, []string{r.hashKey(key)}, client, batch).Err(); err != nil {
		return fmt.Errorf("ledger %s: %w", key, err)
	}
	return nil
}

// Close implements Ledger.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
