// Package cache publishes invalidation signals for per-user cached reads.
// Producers only name tags; readers compare tag versions to decide whether a
// cached value is stale.
package cache

import (
	"context"
	"fmt"
	"sync"
)

type Invalidator interface {
	Invalidate(ctx context.Context, tag string) error
}

// Tag builds a tag scoped to one resource type and one user.
func Tag(resource string, userID int64) string {
	return fmt.Sprintf("user-%s-%d", resource, userID)
}

func UserIntegrationsTag(userID int64) string {
	return Tag("integrations", userID)
}

func FormSubmissionsTag(formID int64) string {
	return fmt.Sprintf("form-submissions-%d", formID)
}

// MemoryBus keeps tag versions in process. It is used when no Redis is
// configured and in tests.
type MemoryBus struct {
	mu       sync.RWMutex
	versions map[string]uint64
	subs     []chan string
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{versions: make(map[string]uint64)}
}

func (b *MemoryBus) Invalidate(_ context.Context, tag string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.versions[tag]++
	for _, ch := range b.subs {
		select {
		case ch <- tag:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Version(_ context.Context, tag string) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.versions[tag], nil
}

// Subscribe returns a channel receiving invalidated tags until ctx is done.
// Slow subscribers miss signals rather than blocking producers.
func (b *MemoryBus) Subscribe(ctx context.Context) <-chan string {
	ch := make(chan string, 16)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}
