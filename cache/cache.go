package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound     = errors.New("key not found")
	ErrEncodeFailed = errors.New("failed to encode value")
	ErrDecodeFailed = errors.New("failed to decode value")
)

// Encoder converts a value of type T to bytes stored in Redis.
type Encoder[T any] func(value T) ([]byte, error)

// Decoder converts bytes read from Redis back to a value of type T.
type Decoder[T any] func(data []byte) (T, error)

// Cache is a typed key/value cache backed by Redis strings.
type Cache[T any] struct {
	client  redis.UniversalClient
	encoder Encoder[T]
	decoder Decoder[T]
	prefix  string
}

type Options[T any] struct {
	Client  redis.UniversalClient
	Encoder Encoder[T]
	Decoder Decoder[T]
	Prefix  string
}

func New[T any](opts Options[T]) *Cache[T] {
	if opts.Encoder == nil {
		opts.Encoder = MsgpackEncoder[T]()
	}
	if opts.Decoder == nil {
		opts.Decoder = MsgpackDecoder[T]()
	}
	return &Cache[T]{
		client:  opts.Client,
		encoder: opts.Encoder,
		decoder: opts.Decoder,
		prefix:  opts.Prefix,
	}
}

func (c *Cache[T]) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

// Set stores value under key. ttl=0 means no expiration.
func (c *Cache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	data, err := c.encoder(value)
	if err != nil {
		return errors.Join(ErrEncodeFailed, err)
	}
	return c.client.Set(ctx, c.key(key), data, ttl).Err()
}

// Get returns ErrNotFound if the key does not exist.
func (c *Cache[T]) Get(ctx context.Context, key string) (T, error) {
	return c.decode(c.client.Get(ctx, c.key(key)))
}

// GetEx reads the value and extends its TTL.
func (c *Cache[T]) GetEx(ctx context.Context, key string, ttl time.Duration) (T, error) {
	return c.decode(c.client.GetEx(ctx, c.key(key), ttl))
}

func (c *Cache[T]) decode(cmd *redis.StringCmd) (T, error) {
	var zero T

	data, err := cmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, ErrNotFound
		}
		return zero, err
	}

	value, err := c.decoder(data)
	if err != nil {
		return zero, errors.Join(ErrDecodeFailed, err)
	}
	return value, nil
}

// Fetch is a read-through lookup: on a miss it calls load and stores the
// result with ttl. Cache read errors other than a miss fall through to load.
func (c *Cache[T]) Fetch(ctx context.Context, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if value, err := c.GetEx(ctx, key, ttl); err == nil {
		return value, nil
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}
	if err := c.Set(ctx, key, value, ttl); err != nil {
		return value, err
	}
	return value, nil
}
