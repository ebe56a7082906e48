package routing

import (
	"context"
	"net/http"
	"strings"
)

// Route binds a method+path to the catalog operation that gates it.
// An empty Operation means the route is not quota-checked. Deferred routes
// carry a body and are admitted by their handler once it has decoded it.
type Route struct {
	ID        string
	Methods   map[string]struct{}
	Path      string
	Operation string
	Deferred  bool
}

type Router struct {
	routes []*Route
}

func New() *Router {
	return &Router{}
}

func (r *Router) Add(rt *Route) {
	r.routes = append(r.routes, rt)
}

// Handle is shorthand for Add with a single method.
func (r *Router) Handle(method, path, id, operation string) {
	r.Add(&Route{
		ID:        id,
		Methods:   map[string]struct{}{strings.ToUpper(method): {}},
		Path:      path,
		Operation: operation,
	})
}

func (r *Router) Routes() []*Route {
	return r.routes
}

// Match finds the route registered for exactly this method and path.
// Sub-paths do not match; the mux would answer them with 404.
func (r *Router) Match(method string, path string) (*Route, bool) {
	m := strings.ToUpper(method)
	for _, rt := range r.routes {
		if _, ok := rt.Methods[m]; !ok {
			continue
		}
		want := strings.TrimSuffix(strings.TrimSpace(rt.Path), "/")
		if want == "" {
			want = "/"
		}

		if path == want {
			return rt, true
		}
	}
	return nil, false
}

// --- context helpers ---
type ctxKey int

const keyRoute ctxKey = 0

func WithRoute(r *http.Request, rt *Route) *http.Request {
	ctx := context.WithValue(r.Context(), keyRoute, rt)
	return r.WithContext(ctx)
}

func RouteFrom(r *http.Request) (*Route, bool) {
	v := r.Context().Value(keyRoute)
	if v == nil {
		return nil, false
	}
	rt, ok := v.(*Route)
	return rt, ok
}
