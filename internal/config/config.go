package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AlexKimmel/QuotaGate/internal/catalog"
)

type Server struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
	IdleTimeoutMS  int    `yaml:"idle_timeout_ms"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
}

type Observability struct {
	LogLevel       string `yaml:"log_level"`       // "debug","info","warn","error"
	PrometheusPath string `yaml:"prometheus_path"` // e.g. "/metrics"
}

// Mint throttles identity issuance process-wide.
type Mint struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type Operation struct {
	Name                string `yaml:"name"`
	CallsBeforeCooldown uint16 `yaml:"calls_before_cooldown"`
	CooldownMinutes     uint16 `yaml:"cooldown_minutes"`
}

type Root struct {
	Server        Server        `yaml:"server"`
	Observability Observability `yaml:"observability"`
	Mint          Mint          `yaml:"mint"`
	Operations    []Operation   `yaml:"operations"`
}

func (s Server) ReadTimeout() time.Duration {
	if s.ReadTimeoutMS == 0 {
		return 5 * time.Second
	}
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

func (s Server) WriteTimeout() time.Duration {
	if s.WriteTimeoutMS == 0 {
		return 10 * time.Second
	}
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

func (s Server) IdleTimeout() time.Duration {
	if s.IdleTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

// MaxBody defaults to 16 KiB.
func (s Server) MaxBody() int64 {
	if s.MaxBodyBytes == 0 {
		return 16 << 10
	}
	return s.MaxBodyBytes
}

// Catalog builds the operation table; an empty list means the reference table.
func (r *Root) Catalog() (*catalog.Catalog, error) {
	if len(r.Operations) == 0 {
		return catalog.Default(), nil
	}
	ops := make([]catalog.Operation, 0, len(r.Operations))
	for _, o := range r.Operations {
		ops = append(ops, catalog.Operation{
			Name:                o.Name,
			CallsBeforeCooldown: o.CallsBeforeCooldown,
			CooldownMinutes:     o.CooldownMinutes,
		})
	}
	return catalog.New(ops...)
}

// Load reads path, applies environment overrides and fills defaults.
// A missing file is not an error; defaults are used instead.
func Load(path string) (*Root, error) {
	return load(path, os.Environ())
}

func load(path string, environ []string) (*Root, error) {
	var cfg Root

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg, environ)

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:3030"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.PrometheusPath == "" {
		cfg.Observability.PrometheusPath = "/metrics"
	}
	if cfg.Mint.RequestsPerSecond <= 0 {
		cfg.Mint.RequestsPerSecond = 50
	}
	if cfg.Mint.Burst <= 0 {
		cfg.Mint.Burst = 100
	}

	if _, err := cfg.Catalog(); err != nil {
		return nil, fmt.Errorf("operations in %s: %w", path, err)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Root, environ []string) {
	values := envMap(environ)
	if value, ok := values["QUOTAGATE_ADDR"]; ok && value != "" {
		cfg.Server.Addr = value
	}
	if value, ok := values["QUOTAGATE_LOG_LEVEL"]; ok && value != "" {
		cfg.Observability.LogLevel = value
	}
}

func envMap(environ []string) map[string]string {
	values := make(map[string]string)
	for _, entry := range environ {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = value
	}
	return values
}
