// Package auth extracts the caller identity from request headers.
//
// Identities are capability tokens: whoever presents one acts as it. This
// package only checks that the header is present and well formed; whether
// the identity was ever minted is the registry's concern.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/AlexKimmel/QuotaGate/internal/identity"
)

type ctxKey int

const keyIdentity ctxKey = 0

// DefaultHeader carries the identity as an unsigned decimal integer.
const DefaultHeader = "Authentication"

type Extractor struct {
	header string
}

// New creates an Extractor reading header (DefaultHeader if empty).
func New(header string) *Extractor {
	h := header
	if h == "" {
		h = DefaultHeader
	}
	return &Extractor{header: h}
}

// WithIdentity injects the identity into context.
func WithIdentity(ctx context.Context, id identity.ID) context.Context {
	return context.WithValue(ctx, keyIdentity, id)
}

// IdentityFrom extracts the identity from context (if present).
func IdentityFrom(ctx context.Context) (identity.ID, bool) {
	v := ctx.Value(keyIdentity)
	if v == nil {
		return identity.ID{}, false
	}
	id, ok := v.(identity.ID)
	return id, ok
}

// Middleware parses the identity header and writes JSON errors on failure.
// It skips any path in skipPaths.
func (e *Extractor) Middleware(skipPaths map[string]struct{}) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hname := e.header

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skipPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			raw := strings.TrimSpace(r.Header.Get(hname))
			if raw == "" {
				writeJSON(w, http.StatusUnauthorized, "missing_identity", "Provide identity in "+hname)
				return
			}
			id, err := identity.ParseID(raw)
			if err != nil {
				if errors.Is(err, identity.ErrMalformedID) {
					writeJSON(w, http.StatusUnauthorized, "invalid_identity", "Identity must be an unsigned 128-bit decimal")
					return
				}
				writeJSON(w, http.StatusInternalServerError, "internal", "identity parse failed")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, errCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":{"code":"` + errCode + `","message":"` + msg + `"}}`))
}
