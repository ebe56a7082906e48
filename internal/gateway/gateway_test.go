package gateway

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/time/rate"

	"github.com/AlexKimmel/QuotaGate/internal/auth"
	"github.com/AlexKimmel/QuotaGate/internal/identity"
	"github.com/AlexKimmel/QuotaGate/internal/ratelimit"
	"github.com/AlexKimmel/QuotaGate/internal/routing"
)

type stubDecider struct {
	calls []string
	allow bool
}

func (s *stubDecider) Decide(_ identity.ID, op string) identity.Decision {
	s.calls = append(s.calls, op)
	d := identity.Decision{Allowed: s.allow, Tier: identity.Standard}
	d.Usage = ratelimit.Decision{Allowed: s.allow, Limit: 10, Remaining: 4}
	if !s.allow {
		d.Usage.Remaining = 0
		d.Usage.ResetUnixSec = 1_700_000_060
	}
	return d
}

func TestChain_Order(t *testing.T) {
	var trace []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				trace = append(trace, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { trace = append(trace, "h") }),
		mw("a"), mw("b"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if got := strings.Join(trace, ","); got != "a,b,h" {
		t.Errorf("unexpected order %s", got)
	}
}

func TestBodyLimit(t *testing.T) {
	h := BodyLimit(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
		}
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/", strings.NewReader("0123456789")))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", w.Code)
	}
}

func newGated(t *testing.T, dec Decider) http.Handler {
	t.Helper()
	rr := routing.New()
	rr.Handle("POST", "/echo", "echo", "echo")
	rr.Handle("POST", "/until_limit", "until_limit", "")

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d, found := DecisionFrom(r.Context()); found && !d.Allowed {
			t.Fatalf("denied decision reached the handler")
		}
		w.WriteHeader(http.StatusOK)
	})

	return Chain(ok,
		RouteMatcher(rr, map[string]struct{}{"/health": {}}),
		auth.New("").Middleware(map[string]struct{}{"/health": {}}),
		RateLimit(dec, map[string]struct{}{"/health": {}}, nil),
	)
}

func gatedRequest(path string) *http.Request {
	req := httptest.NewRequest("POST", path, nil)
	req.Header.Set(auth.DefaultHeader, "42")
	return req
}

func TestRateLimit_Allowed(t *testing.T) {
	dec := &stubDecider{allow: true}
	w := httptest.NewRecorder()
	newGated(t, dec).ServeHTTP(w, gatedRequest("/echo"))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(dec.calls) != 1 || dec.calls[0] != "echo" {
		t.Errorf("unexpected decide calls %v", dec.calls)
	}
	if w.Header().Get("X-RateLimit-Limit") != "10" || w.Header().Get("X-RateLimit-Remaining") != "4" {
		t.Errorf("missing rate-limit headers: %v", w.Header())
	}
}

func TestRateLimit_Denied(t *testing.T) {
	var limited []string
	dec := &stubDecider{allow: false}

	rr := routing.New()
	rr.Handle("POST", "/echo", "echo", "echo")
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler reached on denial")
	}),
		RouteMatcher(rr, nil),
		auth.New("").Middleware(nil),
		RateLimit(dec, nil, func(id string) { limited = append(limited, id) }),
	)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, gatedRequest("/echo"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "rate_limited") {
		t.Errorf("unexpected body %s", w.Body.String())
	}
	if w.Header().Get("X-RateLimit-Reset") != "1700000060" {
		t.Errorf("reset header: %q", w.Header().Get("X-RateLimit-Reset"))
	}
	if len(limited) != 1 || limited[0] != "echo" {
		t.Errorf("onLimited not called: %v", limited)
	}
}

func TestRateLimit_UngatedAndUnknownRoutes(t *testing.T) {
	dec := &stubDecider{allow: false}
	h := newGated(t, dec)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, gatedRequest("/until_limit"))
	if w.Code != http.StatusOK {
		t.Errorf("ungated route: expected 200, got %d", w.Code)
	}
	if len(dec.calls) != 0 {
		t.Errorf("ungated route consulted the registry: %v", dec.calls)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, gatedRequest("/nowhere"))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route: expected 404, got %d", w.Code)
	}
}

func TestRateLimit_DeferredRoutePassesThrough(t *testing.T) {
	dec := &stubDecider{allow: false}
	rr := routing.New()
	rr.Add(&routing.Route{
		ID:        "echo",
		Methods:   map[string]struct{}{"POST": {}},
		Path:      "/echo",
		Operation: "echo",
		Deferred:  true,
	})

	var limited []string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := Admit(w, r, dec, "echo", "echo", func(id string) { limited = append(limited, id) }); ok {
			t.Error("Admit allowed a denied call")
		}
	}),
		RouteMatcher(rr, nil),
		auth.New("").Middleware(nil),
		RateLimit(dec, nil, nil),
	)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, gatedRequest("/echo"))

	if len(dec.calls) != 1 {
		t.Fatalf("expected exactly one decision (by the handler), got %v", dec.calls)
	}
	if w.Code != http.StatusTooManyRequests || w.Header().Get("X-RateLimit-Reset") != "1700000060" {
		t.Errorf("Admit response: %d %v", w.Code, w.Header())
	}
	if len(limited) != 1 || limited[0] != "echo" {
		t.Errorf("onLimited not called: %v", limited)
	}
}

func TestAdmit_MissingIdentity(t *testing.T) {
	dec := &stubDecider{allow: true}
	w := httptest.NewRecorder()

	if _, ok := Admit(w, httptest.NewRequest("POST", "/echo", nil), dec, "echo", "echo", nil); ok {
		t.Fatal("Admit without identity should refuse")
	}
	if w.Code != http.StatusUnauthorized || len(dec.calls) != 0 {
		t.Errorf("expected 401 and no decision, got %d %v", w.Code, dec.calls)
	}
}

func TestThrottle(t *testing.T) {
	lim := rate.NewLimiter(rate.Limit(0.001), 2)
	var throttled int
	h := Throttle(lim, map[string]struct{}{"/get_id": {}}, func(string) { throttled++ })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("POST", "/get_id", nil))
		codes = append(codes, w.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Errorf("unexpected codes %v", codes)
	}
	if throttled != 1 {
		t.Errorf("expected 1 throttle callback, got %d", throttled)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/echo", nil))
	if w.Code != http.StatusOK {
		t.Errorf("unthrottled path got %d", w.Code)
	}
}
