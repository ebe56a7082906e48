package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/AlexKimmel/QuotaGate/internal/api"
	"github.com/AlexKimmel/QuotaGate/internal/auth"
	"github.com/AlexKimmel/QuotaGate/internal/config"
	"github.com/AlexKimmel/QuotaGate/internal/gateway"
	"github.com/AlexKimmel/QuotaGate/internal/identity"
	"github.com/AlexKimmel/QuotaGate/internal/obs"
	"github.com/AlexKimmel/QuotaGate/internal/routing"
	"github.com/AlexKimmel/QuotaGate/internal/store"
)

const version = "v0.1.0"

func main() {
	path := os.Getenv("QUOTAGATE_CONFIG")
	if path == "" {
		path = "./config.yaml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}

	logger := obs.SetupLogger(cfg.Observability.LogLevel)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	handler, err := newServer(cfg, logger, promReg)
	if err != nil {
		logger.Fatal().Err(err).Msg("build server")
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout(),
		IdleTimeout:       cfg.Server.IdleTimeout(),
		ReadTimeout:       cfg.Server.ReadTimeout(),
	}

	// start
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("version", version).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("bye")
}

// newServer wires the registry, handlers and middleware chain.
func newServer(cfg *config.Root, logger zerolog.Logger, promReg *prometheus.Registry) (http.Handler, error) {
	cat, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}

	metrics := obs.NewMetrics(promReg)
	registry := identity.New(cat,
		identity.WithLogger(logger.With().Str("component", "registry").Logger()),
		identity.WithRecorder(metrics),
	)
	metrics.WatchIdentities(promReg, registry.Len)

	onLimited := func(routeID string) {
		metrics.RateLimited.WithLabelValues(routeID).Inc()
	}

	mux := http.NewServeMux()
	rr := routing.New()

	h := &api.Handler{
		Registry:  registry,
		List:      store.NewList(),
		KV:        store.NewKV(),
		Version:   version,
		OnLimited: onLimited,
	}
	h.Register(mux, rr)

	for _, rt := range rr.Routes() {
		ev := logger.Info().Str("route", rt.ID).Str("path", rt.Path)
		if op, ok := cat.Describe(rt.Operation); ok {
			ev = ev.Str("operation", op.Name).
				Uint16("calls_before_cooldown", op.CallsBeforeCooldown).
				Uint16("cooldown_minutes", op.CooldownMinutes)
		}
		ev.Msg("route loaded")
	}
	mux.Handle("GET "+cfg.Observability.PrometheusPath, promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	skip := map[string]struct{}{
		api.PathHealth:                   {},
		api.PathVersion:                  {},
		cfg.Observability.PrometheusPath: {},
	}
	noIdentity := map[string]struct{}{
		api.PathMint: {},
	}
	for p := range skip {
		noIdentity[p] = struct{}{}
	}

	mintLimiter := rate.NewLimiter(rate.Limit(cfg.Mint.RequestsPerSecond), cfg.Mint.Burst)

	return gateway.Chain(
		mux,
		obs.Logger(logger),
		gateway.BodyLimit(cfg.Server.MaxBody()),
		gateway.RouteMatcher(rr, skip),
		metrics.Middleware(skip),
		gateway.Throttle(mintLimiter, map[string]struct{}{api.PathMint: {}}, func(string) {
			metrics.MintThrottled.Inc()
		}),
		auth.New(auth.DefaultHeader).Middleware(noIdentity),
		gateway.RateLimit(registry, skip, onLimited),
	), nil
}
