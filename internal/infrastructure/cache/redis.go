package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// releaseScript deletes KEYS[1] only while it still holds ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig holds the connection settings for the shared cache.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	OpTimeout   time.Duration `yaml:"op_timeout"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// RedisStore implements Store on top of Redis. A store without a client is
// disabled: every read misses and every write is dropped.
type RedisStore struct {
	client    *redis.Client
	opTimeout time.Duration
}

// NewRedisStore connects to Redis and falls back to disabled mode when no address
// is configured or the server does not answer a ping.
func NewRedisStore(cfg RedisConfig) *RedisStore {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 500 * time.Millisecond
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.Addr == "" {
		log.Warn().Msg("Shared cache address not configured, running with cache disabled")
		return &RedisStore{opTimeout: cfg.OpTimeout}
	}

	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        10,
		MinIdleConns:    2,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.OpTimeout,
		WriteTimeout:    cfg.OpTimeout,
		MaxRetries:      2,
		MinRetryBackoff: 50 * time.Millisecond,
		MaxRetryBackoff: 250 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Addr).Msg("Shared cache unreachable, running with cache disabled")
		_ = client.Close()
		return &RedisStore{opTimeout: cfg.OpTimeout}
	}

	log.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("Shared cache connected")
	return &RedisStore{client: client, opTimeout: cfg.OpTimeout}
}

// NewRedisStoreFromClient wraps an existing client. A nil client yields a disabled store.
func NewRedisStoreFromClient(client *redis.Client, opTimeout time.Duration) *RedisStore {
	if opTimeout <= 0 {
		opTimeout = 500 * time.Millisecond
	}
	return &RedisStore{client: client, opTimeout: opTimeout}
}

func (r *RedisStore) Enabled() bool { return r.client != nil }

func (r *RedisStore) Get(ctx context.Context, key string, dest interface{}) bool {
	if r.client == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	b, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Debug().Err(err).Str("key", key).Msg("Shared cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(b, dest); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Shared cache value undecodable")
		return false
	}
	return true
}

func (r *RedisStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if r.client == nil {
		return
	}
	b, err := json.Marshal(value)
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Shared cache value unencodable")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	if err := r.client.Set(ctx, key, b, ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Shared cache write failed")
	}
}

func (r *RedisStore) Delete(ctx context.Context, key string) {
	if r.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	if err := r.client.Del(ctx, key).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Shared cache delete failed")
	}
}

func (r *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return false, ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (r *RedisStore) DeleteIfEquals(ctx context.Context, key, expected string) (bool, error) {
	if r.client == nil {
		return false, ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	n, err := releaseScript.Run(ctx, r.client, []string{key}, expected).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Ping reports whether the shared cache answers.
func (r *RedisStore) Ping(ctx context.Context) error {
	if r.client == nil {
		return ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (r *RedisStore) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
