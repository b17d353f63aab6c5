// Package question serves the pool of active questions decks are drawn from.
package question

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/victornm/truenorth/internal/domain"
	"github.com/victornm/truenorth/internal/store"
)

const (
	defaultTTL = 30 * time.Second
	flightKey  = "active"
)

type Config struct {
	Store store.Store
	// TTL is how long the active pool is served from memory. Zero means the default,
	// a negative value disables caching.
	TTL time.Duration
	Now func() time.Time
}

// Bank caches the active question pool. Concurrent misses share a single load.
type Bank struct {
	st  store.Store
	ttl time.Duration
	now func() time.Time
	sf  singleflight.Group

	mu        sync.RWMutex
	active    []domain.Question
	expiresAt time.Time
	version   uint64
}

func NewBank(c Config) *Bank {
	b := &Bank{
		st:  c.Store,
		ttl: c.TTL,
		now: c.Now,
	}
	if b.ttl == 0 {
		b.ttl = defaultTTL
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// Active returns every active question. Callers must not modify the result.
func (b *Bank) Active(ctx context.Context) ([]domain.Question, error) {
	if qs, ok := b.cached(); ok {
		return qs, nil
	}

	v, err, _ := b.sf.Do(flightKey, func() (any, error) {
		if qs, ok := b.cached(); ok {
			return qs, nil
		}

		b.mu.RLock()
		version := b.version
		b.mu.RUnlock()

		var qs []domain.Question
		err := b.st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			qs, err = tx.ListQuestions(ctx, true)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("list active questions: %w", err)
		}

		b.mu.Lock()
		// an invalidation during the load means qs may already be stale
		if b.ttl > 0 && version == b.version {
			b.active = qs
			b.expiresAt = b.now().Add(b.ttl)
		}
		b.mu.Unlock()

		return qs, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]domain.Question), nil
}

// Invalidate drops the cached pool so the next read sees question changes.
func (b *Bank) Invalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.active = nil
	b.expiresAt = time.Time{}
	b.version++
}

func (b *Bank) cached() ([]domain.Question, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.active == nil || !b.now().Before(b.expiresAt) {
		return nil, false
	}
	return b.active, true
}
