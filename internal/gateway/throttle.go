package gateway

import (
	"net/http"

	"golang.org/x/time/rate"
)

// Throttle applies one process-wide limiter to the given paths. It guards
// identity minting, which grows the registry without bound.
func Throttle(lim *rate.Limiter, paths map[string]struct{}, onLimited func(path string)) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := paths[r.URL.Path]; !ok {
				next.ServeHTTP(w, r)
				return
			}
			if !lim.Allow() {
				if onLimited != nil {
					onLimited(r.URL.Path)
				}
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusTooManyRequests, "mint_throttled", "Too many identity requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
