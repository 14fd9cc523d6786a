package guard

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"gtmq/internal/config"
)

// RateLimiter enforces a token bucket per recipient plus a global bucket
// per action type. Buckets are created lazily behind the mutex, so
// acquisition per bucket is atomic and concurrent requests for the same
// recipient can never be granted more than the remaining tokens.
type RateLimiter struct {
	cfg *config.Config
	now func() time.Time

	mu         sync.Mutex
	recipients map[string]*rate.Limiter
	globals    map[string]*rate.Limiter
}

func NewRateLimiter(cfg *config.Config) *RateLimiter {
	return &RateLimiter{
		cfg:        cfg,
		now:        time.Now,
		recipients: make(map[string]*rate.Limiter),
		globals:    make(map[string]*rate.Limiter),
	}
}

// SetClock overrides the limiter clock for tests.
func (l *RateLimiter) SetClock(now func() time.Time) { l.now = now }

func newBucket(actions int, window time.Duration) *rate.Limiter {
	if actions <= 0 {
		actions = 1
	}
	refill := rate.Limit(float64(actions) / window.Seconds())
	return rate.NewLimiter(refill, actions)
}

func (l *RateLimiter) recipientBucket(recipient string) *rate.Limiter {
	lim, ok := l.recipients[recipient]
	if !ok {
		actions, window := l.cfg.RecipientBucket()
		lim = newBucket(actions, window)
		l.recipients[recipient] = lim
	}
	return lim
}

func (l *RateLimiter) globalBucket(actionType string) *rate.Limiter {
	lim, ok := l.globals[actionType]
	if !ok {
		actions, window := l.cfg.GlobalBucket(actionType)
		lim = newBucket(actions, window)
		l.globals[actionType] = lim
	}
	return lim
}

// Acquire takes one token from the recipient bucket and one from the
// action type's global bucket. When either bucket is exhausted no token is
// consumed and the computed cooldown until the next token is returned.
// An empty recipient only consumes from the global bucket.
func (l *RateLimiter) Acquire(actionType, recipient string) (ok bool, cooldown time.Duration, scope string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()

	var recRes *rate.Reservation
	if recipient != "" {
		recRes = l.recipientBucket(recipient).ReserveN(now, 1)
		if d := recRes.DelayFrom(now); d > 0 {
			recRes.CancelAt(now)
			return false, d, "recipient"
		}
	}
	globRes := l.globalBucket(actionType).ReserveN(now, 1)
	if d := globRes.DelayFrom(now); d > 0 {
		globRes.CancelAt(now)
		if recRes != nil {
			recRes.CancelAt(now)
		}
		return false, d, "global"
	}
	return true, 0, ""
}

// Summary reports remaining capacity per bucket for the admin boundary.
func (l *RateLimiter) Summary() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	out := make(map[string]float64, len(l.globals)+len(l.recipients))
	for at, lim := range l.globals {
		out["global:"+at] = lim.TokensAt(now)
	}
	for rcpt, lim := range l.recipients {
		out["recipient:"+rcpt] = lim.TokensAt(now)
	}
	return out
}
