package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AlexKimmel/QuotaGate/internal/gateway"
	"github.com/AlexKimmel/QuotaGate/internal/routing"
)

// Metrics also implements identity.Recorder.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimited     *prometheus.CounterVec
	Decisions       *prometheus.CounterVec
	Mints           *prometheus.CounterVec
	MintThrottled   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotagate_requests_total",
				Help: "Total HTTP requests processed",
			},
			[]string{"route", "method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quotagate_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotagate_rate_limited_total",
				Help: "Total requests rejected by admission control",
			},
			[]string{"route"},
		),
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotagate_decisions_total",
				Help: "Admission decisions on known usage records",
			},
			[]string{"operation", "result"},
		),
		Mints: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotagate_mints_total",
				Help: "Identities minted",
			},
			[]string{"tier"},
		),
		MintThrottled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "quotagate_mint_throttled_total",
				Help: "Identity requests rejected by the mint throttle",
			},
		),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.RateLimited, m.Decisions, m.Mints, m.MintThrottled)
	return m
}

// WatchIdentities exports count as the quotagate_identities gauge.
func (m *Metrics) WatchIdentities(reg prometheus.Registerer, count func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "quotagate_identities",
			Help: "Identities currently held by the registry",
		},
		func() float64 { return float64(count()) },
	))
}

func (m *Metrics) Minted(tier string) {
	m.Mints.WithLabelValues(tier).Inc()
}

func (m *Metrics) Decided(operation string, allowed bool) {
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.Decisions.WithLabelValues(operation, result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Middleware records per-request metrics.
// It must run inside gateway.RouteMatcher so the route is in the request context.
func (m *Metrics) Middleware(skip map[string]struct{}) gateway.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			route := "unknown"
			if rt, ok := routing.RouteFrom(r); ok && rt != nil && rt.ID != "" {
				route = rt.ID
			}

			code := rec.status
			if code == 0 {
				code = http.StatusOK
			}

			m.RequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
			m.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(code)).Inc()
		})
	}
}
