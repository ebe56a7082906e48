package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/AlexKimmel/QuotaGate/internal/config"
)

func testConfig() *config.Root {
	cfg := &config.Root{}
	cfg.Observability.PrometheusPath = "/metrics"
	cfg.Mint.RequestsPerSecond = 1000
	cfg.Mint.Burst = 1000
	return cfg
}

func TestServer_EndToEnd(t *testing.T) {
	h, err := newServer(testConfig(), zerolog.Nop(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/get_id", "application/json", bytes.NewBufferString(`"Standard"`))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	var minted struct {
		Identity string `json:"identity"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&minted)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || minted.Identity == "" {
		t.Fatalf("mint failed: %d %+v", resp.StatusCode, minted)
	}

	// long_wait allows exactly one call
	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest("POST", srv.URL+"/long_wait", nil)
		req.Header.Set("Authentication", minted.Identity)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("long_wait: %v", err)
		}
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("unexpected long_wait codes %v", codes)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	body := buf.String()

	for _, want := range []string{
		`quotagate_mints_total{tier="Standard"} 1`,
		`quotagate_decisions_total{operation="long_wait",result="denied"} 1`,
		`quotagate_rate_limited_total{route="long_wait"} 1`,
		`quotagate_identities 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestServer_MintThrottle(t *testing.T) {
	cfg := testConfig()
	cfg.Mint.RequestsPerSecond = 0.001
	cfg.Mint.Burst = 1

	h, err := newServer(cfg, zerolog.Nop(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/get_id", bytes.NewBufferString(`"Standard"`))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("unexpected codes %v", codes)
	}
}

func TestServer_BadCatalog(t *testing.T) {
	cfg := testConfig()
	cfg.Operations = []config.Operation{{Name: "x"}, {Name: "x"}}

	if _, err := newServer(cfg, zerolog.Nop(), prometheus.NewRegistry()); err == nil {
		t.Fatal("duplicate operations should fail server construction")
	}
}
