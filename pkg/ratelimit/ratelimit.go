package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Limiter enforces a per-client token-per-minute budget on top of
// github.com/vnmchuo/ratelimiter. The library fixes the limit per store, so
// one store is kept for every distinct limit in use; all of them share the
// same per-client window keys.
type Limiter struct {
	defaultTPM int64
	newStore   func(tpm int64) extratelimit.Limiter

	mu     sync.Mutex
	stores map[int64]extratelimit.Limiter
}

func NewLimiter(rdb *redis.Client, defaultTPM int64) *Limiter {
	return NewLimiterFunc(defaultTPM, func(tpm int64) extratelimit.Limiter {
		return extratelimit.NewRedisStore(rdb,
			extratelimit.WithLimit(int(tpm)),
			extratelimit.WithWindow(time.Minute),
		)
	})
}

// NewTestLimiter serves every limit from store.
func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return NewLimiterFunc(0, func(int64) extratelimit.Limiter { return store })
}

// NewLimiterFunc builds a Limiter whose store for each limit comes from
// newStore.
func NewLimiterFunc(defaultTPM int64, newStore func(int64) extratelimit.Limiter) *Limiter {
	return &Limiter{
		defaultTPM: defaultTPM,
		newStore:   newStore,
		stores:     make(map[int64]extratelimit.Limiter),
	}
}

// Allow consumes tokens from the client's budget under the default limit.
func (l *Limiter) Allow(ctx context.Context, clientID string, tokens int) (bool, error) {
	return l.AllowWithLimit(ctx, clientID, tokens, 0)
}

// AllowWithLimit consumes tokens from the client's budget under tpm tokens
// per minute. tpm <= 0 means the default limit.
func (l *Limiter) AllowWithLimit(ctx context.Context, clientID string, tokens int, tpm int64) (bool, error) {
	if tokens < 1 {
		tokens = 1
	}
	res, err := l.store(tpm).AllowN(ctx, key(clientID), tokens)
	if err != nil {
		return false, fmt.Errorf("rate limit check for %s: %w", clientID, err)
	}
	return res.Allowed, nil
}

func (l *Limiter) Status(ctx context.Context, clientID string) (*extratelimit.Result, error) {
	return l.store(0).Status(ctx, key(clientID))
}

func (l *Limiter) store(tpm int64) extratelimit.Limiter {
	if tpm <= 0 {
		tpm = l.defaultTPM
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.stores[tpm]
	if !ok {
		s = l.newStore(tpm)
		l.stores[tpm] = s
	}
	return s
}

func key(clientID string) string {
	return fmt.Sprintf("ratelimit:client:%s", clientID)
}
