package ratelimit

import (
	"math"
	"time"
)

// Policy is the quota a usage window is seeded with.
type Policy struct {
	Calls    uint16        // calls allowed before the cooldown arms
	Cooldown time.Duration // how long the window stays closed once armed
}

// Unlimited is the policy handed to elevated callers.
var Unlimited = Policy{Calls: math.MaxUint16, Cooldown: 0}

type Decision struct {
	Allowed      bool
	Limit        uint16 // calls per window
	Remaining    uint32 // calls left in the current window (0 after a denial)
	ResetUnixSec int64  // when the window reopens; 0 if it never closed
}

// Limiter stores one fixed window per key. Keys must be seeded before they
// can be used; every method reports ok=false for a key that was never seeded.
type Limiter interface {
	Seed(key string, p Policy)
	Allow(key string, now time.Time) (Decision, bool)
	RetryAfter(key string, now time.Time) (time.Duration, bool)
	Remaining(key string) (uint32, bool)
	Close() error
}
