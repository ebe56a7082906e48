// Package identity mints caller identities and decides, per identity and
// operation, whether a call is currently allowed.
//
// Every identity gets one fixed-window usage record per catalog operation at
// mint time. A record admits CallsBeforeCooldown calls; the call after that
// is denied and arms a cooldown of CooldownMinutes, after which the window
// reopens empty. Elevated identities are seeded with an effectively
// unlimited quota and no cooldown.
//
// Unknown identities and unknown operations are never errors: Decide denies
// them and the read-only queries report ok=false.
package identity

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/AlexKimmel/QuotaGate/internal/catalog"
	"github.com/AlexKimmel/QuotaGate/internal/ratelimit"
	"github.com/AlexKimmel/QuotaGate/internal/ratelimit/memory"
)

var ErrInvalidTier = errors.New("tier may not hold an identity")

// Recorder receives registry events, typically for metrics.
type Recorder interface {
	Minted(tier string)
	Decided(operation string, allowed bool)
}

type nopRecorder struct{}

func (nopRecorder) Minted(string)        {}
func (nopRecorder) Decided(string, bool) {}

// Decision is the outcome of Decide. Usage carries the window figures for
// response headers and is zero when no usage record was found.
type Decision struct {
	Allowed bool
	Tier    Tier
	Usage   ratelimit.Decision
}

type Registry struct {
	mu    sync.RWMutex
	tiers map[ID]Tier // guarded by mu

	catalog *catalog.Catalog
	usage   ratelimit.Limiter
	now     func() time.Time
	source  func() ID
	log     zerolog.Logger
	rec     Recorder
}

type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithSource replaces the random ID generator. The source must eventually
// produce an unused value or Mint will not return.
func WithSource(src func() ID) Option {
	return func(r *Registry) { r.source = src }
}

func WithLimiter(l ratelimit.Limiter) Option {
	return func(r *Registry) { r.usage = l }
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

func WithRecorder(rec Recorder) Option {
	return func(r *Registry) { r.rec = rec }
}

func New(c *catalog.Catalog, opts ...Option) *Registry {
	r := &Registry{
		tiers:   make(map[ID]Tier),
		catalog: c,
		usage:   memory.New(),
		now:     time.Now,
		source:  randomID,
		log:     zerolog.Nop(),
		rec:     nopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func usageKey(id ID, operation string) string {
	return id.key() + ":" + operation
}

// Mint issues a new identity at tier and seeds its usage records.
func (r *Registry) Mint(tier Tier) (ID, error) {
	if !tier.Mintable() {
		return ID{}, ErrInvalidTier
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// generation and the collision check share the critical section
	id := r.source()
	for {
		if _, taken := r.tiers[id]; !taken {
			break
		}
		r.log.Warn().Str("identity", id.String()).Msg("identity collision, regenerating")
		id = r.source()
	}

	elevated := tier == Elevated
	for _, op := range r.catalog.All() {
		r.usage.Seed(usageKey(id, op.Name), op.Policy(elevated))
	}
	r.tiers[id] = tier

	r.rec.Minted(tier.String())
	r.log.Debug().Str("identity", id.String()).Stringer("tier", tier).Msg("minted")
	return id, nil
}

func (r *Registry) TierOf(id ID) (Tier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tiers[id]
	return t, ok
}

// Len is the number of identities minted so far.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tiers)
}

// Decide admits or denies one call of operation by id and updates the usage
// record. Concurrent calls on the same pair are serialized by the record.
func (r *Registry) Decide(id ID, operation string) Decision {
	tier, ok := r.TierOf(id)
	if !ok {
		return Decision{Allowed: false, Tier: Unauthenticated}
	}

	usage, ok := r.usage.Allow(usageKey(id, operation), r.now())
	if !ok {
		return Decision{Allowed: false, Tier: tier}
	}

	r.rec.Decided(operation, usage.Allowed)
	if !usage.Allowed {
		r.log.Debug().
			Str("identity", id.String()).
			Str("operation", operation).
			Int64("reset", usage.ResetUnixSec).
			Msg("denied")
	}
	return Decision{Allowed: usage.Allowed, Tier: tier, Usage: usage}
}

// TimeUntilAllowed is zero when the record is open.
func (r *Registry) TimeUntilAllowed(id ID, operation string) (time.Duration, bool) {
	return r.usage.RetryAfter(usageKey(id, operation), r.now())
}

// CallsRemaining is zero after a denial, even once the cooldown has passed,
// until the next Decide reopens the window.
func (r *Registry) CallsRemaining(id ID, operation string) (uint32, bool) {
	return r.usage.Remaining(usageKey(id, operation))
}
