// Package redisstore keeps short-lived coordination keys in Redis.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Connect dials Redis and checks the connection. With an empty address it
// starts an in-process server instead, good for a single instance only.
// The returned stop func releases either.
func Connect(ctx context.Context, cfg Config) (*redis.Client, func(), error) {
	addr := cfg.Addr
	var embedded *miniredis.Miniredis
	if addr == "" {
		var err error
		embedded, err = miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("redisstore: start embedded server: %w", err)
		}
		addr = embedded.Addr()
		log.Warn().Str("module", "redisstore").Str("addr", addr).Msg("no redis configured, using embedded server")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB})
	stop := func() {
		_ = rdb.Close()
		if embedded != nil {
			embedded.Close()
		}
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		stop()
		return nil, nil, fmt.Errorf("redisstore: ping %s: %w", addr, err)
	}
	log.Info().Str("module", "redisstore").Str("addr", addr).Msg("redis connected")
	return rdb, stop, nil
}

// Deduper grants each key once per window via SET NX with expiry, so every
// process sharing the Redis sees the same window.
type Deduper struct {
	rdb    *redis.Client
	prefix string
}

func NewDeduper(rdb *redis.Client) *Deduper {
	return &Deduper{rdb: rdb, prefix: "squadlink:dedup:"}
}

func (d *Deduper) Acquire(ctx context.Context, key string, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, nil
	}
	ok, err := d.rdb.SetNX(ctx, d.prefix+key, time.Now().UTC().Format(time.RFC3339), window).Result()
	if err != nil {
		return false, fmt.Errorf("redisstore: acquire %s: %w", key, err)
	}
	return ok, nil
}
