package resilience

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LimiterOpts configures a token bucket.
type LimiterOpts struct {
	// Rate is the number of tokens added per second.
	Rate float64
	// Burst is the maximum number of tokens (bucket capacity).
	Burst int
	// IdleTTL evicts per-key buckets unused for this long. Zero keeps them forever.
	IdleTTL time.Duration
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter keeps one token bucket per key, e.g. per client address.
type KeyedLimiter struct {
	mu      sync.Mutex
	opts    LimiterOpts
	buckets map[string]*bucket
	now     func() time.Time
}

// NewKeyedLimiter creates a per-key rate limiter.
func NewKeyedLimiter(opts LimiterOpts) *KeyedLimiter {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &KeyedLimiter{
		opts:    opts,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (k *KeyedLimiter) get(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	if k.opts.IdleTTL > 0 {
		for key, b := range k.buckets {
			if now.Sub(b.lastSeen) > k.opts.IdleTTL {
				delete(k.buckets, key)
			}
		}
	}
	b, ok := k.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(k.opts.Rate), k.opts.Burst)}
		k.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim
}

// Allow reports whether key may proceed now, consuming a token if so.
func (k *KeyedLimiter) Allow(key string) bool {
	return k.get(key).AllowN(k.now(), 1)
}

// Len returns the number of tracked keys.
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}
