package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript удаляет ключ, только если значение совпадает с токеном держателя.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis — Locker поверх Redis (SET NX PX).
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis создаёт Locker. Ключи получают префикс prefix + ":".
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "taskflow:lock"
	}
	return &Redis{client: client, prefix: prefix}
}

// NewRedisFromURL создаёт Locker по URL вида redis://host:6379/0.
func NewRedisFromURL(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedis(redis.NewClient(opts), ""), nil
}

// Acquire захватывает блокировку на ttl.
func (r *Redis) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	key := r.key(name)
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &redisLease{client: r.client, name: name, key: key, token: token}, nil
}

// Ping проверяет соединение с Redis.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close закрывает клиент.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) key(name string) string {
	return r.prefix + ":" + name
}

type redisLease struct {
	client *redis.Client
	name   string
	key    string
	token  string
}

func (l *redisLease) Name() string { return l.name }

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.name, err)
	}
	return nil
}
