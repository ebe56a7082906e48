package memory

import (
	"sync"
	"time"

	"github.com/AlexKimmel/QuotaGate/internal/ratelimit"
)

// window is a fixed-window counter with a cooldown. All fields are guarded by mu.
type window struct {
	mu          sync.Mutex
	policy      ratelimit.Policy
	used        uint32
	nextAllowed int64 // unix seconds
	allowed     bool  // outcome of the last Allow
}

type Limiter struct {
	windows sync.Map // key -> *window
}

func New() *Limiter {
	return &Limiter{}
}

func (l *Limiter) Close() error { return nil }

// Seed installs a fresh, open window for key, replacing any previous one.
func (l *Limiter) Seed(key string, p ratelimit.Policy) {
	l.windows.Store(key, &window{policy: p, allowed: true})
}

func (l *Limiter) load(key string) (*window, bool) {
	v, ok := l.windows.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*window), true
}

func (l *Limiter) Allow(key string, now time.Time) (ratelimit.Decision, bool) {
	w, ok := l.load(key)
	if !ok {
		return ratelimit.Decision{}, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	ts := now.Unix()
	switch {
	case w.nextAllowed > ts:
		// still cooling
		w.allowed = false
	case w.used >= uint32(w.policy.Calls):
		// quota exhausted: arm a new cooldown and start the next window empty
		w.nextAllowed = ts + int64(w.policy.Cooldown/time.Second)
		w.used = 0
		w.allowed = false
	default:
		w.used++
		w.allowed = true
	}

	dec := ratelimit.Decision{
		Allowed: w.allowed,
		Limit:   w.policy.Calls,
	}
	if w.allowed {
		dec.Remaining = uint32(w.policy.Calls) - w.used
	}
	if w.nextAllowed > ts {
		dec.ResetUnixSec = w.nextAllowed
	}
	return dec, true
}

// RetryAfter reports how long until key accepts calls again, rounded to whole seconds.
func (l *Limiter) RetryAfter(key string, now time.Time) (time.Duration, bool) {
	w, ok := l.load(key)
	if !ok {
		return 0, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	wait := w.nextAllowed - now.Unix()
	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait) * time.Second, true
}

// Remaining is zero whenever the last decision on key was a denial.
func (l *Limiter) Remaining(key string) (uint32, bool) {
	w, ok := l.load(key)
	if !ok {
		return 0, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.allowed {
		return 0, true
	}
	return uint32(w.policy.Calls) - w.used, true
}
