package gateway

import (
	"context"
	"net/http"
	"strconv"

	"github.com/AlexKimmel/QuotaGate/internal/auth"
	"github.com/AlexKimmel/QuotaGate/internal/identity"
	"github.com/AlexKimmel/QuotaGate/internal/routing"
)

// Decider is the admission side of the identity registry.
type Decider interface {
	Decide(id identity.ID, operation string) identity.Decision
}

type ctxKey int

const keyDecision ctxKey = 0

func withDecision(ctx context.Context, d identity.Decision) context.Context {
	return context.WithValue(ctx, keyDecision, d)
}

// DecisionFrom returns the admission decision made for this request.
func DecisionFrom(ctx context.Context) (identity.Decision, bool) {
	v := ctx.Value(keyDecision)
	if v == nil {
		return identity.Decision{}, false
	}
	d, ok := v.(identity.Decision)
	return d, ok
}

// RateLimit admits requests on routes bound to an operation. Unknown
// identities and exhausted quotas are both answered with 429. Deferred
// routes pass through untouched; their handlers call Admit after decoding.
func RateLimit(dec Decider, skipPaths map[string]struct{}, onLimited func(routeID string)) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// allow ops endpoints without limits
			if _, ok := skipPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			rt, ok := routing.RouteFrom(r)
			if !ok || rt == nil || rt.Operation == "" || rt.Deferred {
				next.ServeHTTP(w, r)
				return
			}

			d, ok := Admit(w, r, dec, rt.ID, rt.Operation, onLimited)
			if !ok {
				return
			}
			next.ServeHTTP(w, r.WithContext(withDecision(r.Context(), d)))
		})
	}
}

// Admit decides one call of operation for the request's identity. It sets
// the X-RateLimit headers and, when the call is refused, writes the error
// response and reports false.
func Admit(w http.ResponseWriter, r *http.Request, dec Decider, routeID, operation string, onLimited func(routeID string)) (identity.Decision, bool) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, "missing_identity", "identity required")
		return identity.Decision{}, false
	}

	d := dec.Decide(id, operation)

	// headers for good DX
	if d.Usage.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", itoa(int64(d.Usage.Limit)))
		w.Header().Set("X-RateLimit-Remaining", itoa(int64(d.Usage.Remaining)))
		if d.Usage.ResetUnixSec > 0 {
			w.Header().Set("X-RateLimit-Reset", itoa(d.Usage.ResetUnixSec))
		}
	}

	if !d.Allowed {
		if onLimited != nil {
			onLimited(routeID)
		}
		writeJSON(w, http.StatusTooManyRequests, "rate_limited", "Too many requests")
		return d, false
	}
	return d, true
}

func itoa(i int64) string {
	var buf [32]byte
	return string(strconv.AppendInt(buf[:0], i, 10))
}

// local tiny JSON helper to avoid coupling to auth package
func writeJSON(w http.ResponseWriter, code int, errCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":{"code":"` + errCode + `","message":"` + msg + `"}}`))
}
