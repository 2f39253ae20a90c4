package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/warp/roombook/core"
	"github.com/warp/roombook/metrics"
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lock taken over by another node is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisConfig holds Redis lock options.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	Prefix string        // key prefix, defaults to "roombook:lock:"
	TTL    time.Duration // lock expiry, defaults to 10s
	Retry  time.Duration // poll interval while contended, defaults to 25ms
}

// Redis is a Locker shared by every process using the same Redis.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger zerolog.Logger
}

// NewRedis connects and pings Redis.
func NewRedis(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to Redis lock backend")
	return NewRedisWithClient(client, cfg, logger), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.UniversalClient, cfg RedisConfig, logger zerolog.Logger) *Redis {
	r := &Redis{
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
		retry:  cfg.Retry,
		logger: logger,
	}
	if r.prefix == "" {
		r.prefix = "roombook:lock:"
	}
	if r.ttl <= 0 {
		r.ttl = 10 * time.Second
	}
	if r.retry <= 0 {
		r.retry = 25 * time.Millisecond
	}
	return r
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	start := time.Now()
	full := r.prefix + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, full, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, &core.TransientError{Op: "lock " + key, Err: ctx.Err()}
			}
			return nil, &core.TransientError{Op: "lock " + key, Err: err}
		}
		if ok {
			break
		}

		timer := time.NewTimer(r.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &core.TransientError{Op: "lock " + key, Err: ctx.Err()}
		case <-timer.C:
		}
	}
	metrics.LockWait.WithLabelValues("redis").Observe(time.Since(start).Seconds())

	var once sync.Once
	return func() {
		once.Do(func() { r.release(full, token) })
	}, nil
}

func (r *Redis) release(key, token string) {
	// the caller's context may already be done; release on a fresh one
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		r.logger.Warn().Err(err).Str("key", key).Msg("redis lock release failed")
		return
	}
	if n == 0 {
		r.logger.Warn().Str("key", key).Msg("redis lock expired before release")
	}
}

func (r *Redis) Close() error { return r.client.Close() }
