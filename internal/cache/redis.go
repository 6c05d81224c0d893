package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const (
	versionKeyPrefix = "cache:version:"
	invalidateChan   = "cache:invalidate"
)

// RedisBus shares tag versions between processes. Invalidate bumps the tag's
// version counter and publishes the tag on a channel.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

// NewRedisBusFromURL parses a redis:// URL and verifies the server answers.
func NewRedisBusFromURL(ctx context.Context, url string) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisBus{client: client}, nil
}

func (b *RedisBus) Invalidate(ctx context.Context, tag string) error {
	_, err := b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, versionKeyPrefix+tag)
		p.Publish(ctx, invalidateChan, tag)
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate %s: %w", tag, err)
	}
	return nil
}

func (b *RedisBus) Version(ctx context.Context, tag string) (uint64, error) {
	v, err := b.client.Get(ctx, versionKeyPrefix+tag).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read version of %s: %w", tag, err)
	}
	return v, nil
}

// Subscribe streams invalidated tags published by any process until ctx is done.
func (b *RedisBus) Subscribe(ctx context.Context) <-chan string {
	pubsub := b.client.Subscribe(ctx, invalidateChan)
	out := make(chan string, 16)

	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				default:
					slog.Warn("dropping cache invalidation, subscriber is slow", "tag", msg.Payload)
				}
			}
		}
	}()
	return out
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
