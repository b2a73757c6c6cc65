package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/SamMcfarlane-pursuit/Portfolio-KPI-copilot-sub002/internal/ratelimit"
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

// Redis configures the shared admission store. An empty addr runs the
// engine on the local store only.
type Redis struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	TimeoutMS int    `yaml:"timeout_ms"`
	KeyPrefix string `yaml:"key_prefix"`
}

// PolicyRoute binds a path prefix to a named admission policy.
type PolicyRoute struct {
	ID         string `yaml:"id"`
	PathPrefix string `yaml:"path_prefix"`
	Policy     string `yaml:"policy"`
}

type Limits struct {
	DefaultPolicy   string        `yaml:"default_policy"`
	SweepIntervalMS int           `yaml:"sweep_interval_ms"`
	Routes          []PolicyRoute `yaml:"routes"`
}

type APIKey struct {
	ID       string            `yaml:"id"`
	Secret   string            `yaml:"secret"`
	Metadata map[string]string `yaml:"metadata"`
}

type Auth struct {
	Header string   `yaml:"header"`
	Keys   []APIKey `yaml:"keys"`
}

type Root struct {
	Server        Server        `yaml:"server"`
	Observability Observability `yaml:"observability"`
	Redis         Redis         `yaml:"redis"`
	Auth          Auth          `yaml:"auth"`
	Limits        Limits        `yaml:"limits"`
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

func (s Server) MaxBody() int64 {
	if s.MaxBodyBytes == 0 {
		return 10 << 20
	}
	return s.MaxBodyBytes
} // default 10MB

func (r Redis) Timeout() time.Duration {
	if r.TimeoutMS <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

func (l Limits) SweepInterval() time.Duration {
	if l.SweepIntervalMS <= 0 {
		return time.Minute
	}
	return time.Duration(l.SweepIntervalMS) * time.Millisecond
}

func Load(path string) (*Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Root
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.PrometheusPath == "" {
		cfg.Observability.PrometheusPath = "/metrics"
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "admission:"
	}
	if cfg.Auth.Header == "" {
		cfg.Auth.Header = "X-API-Key"
	}
	if cfg.Limits.DefaultPolicy == "" {
		cfg.Limits.DefaultPolicy = ratelimit.PolicyModerate
	}

	// A bad policy binding is fatal here, never at request time.
	if _, ok := ratelimit.Policy(cfg.Limits.DefaultPolicy); !ok {
		return nil, fmt.Errorf("config: unknown default policy %q", cfg.Limits.DefaultPolicy)
	}
	for i := range cfg.Limits.Routes {
		rt := &cfg.Limits.Routes[i]
		if rt.PathPrefix == "" {
			return nil, fmt.Errorf("config: route %q has no path_prefix", rt.ID)
		}
		if _, ok := ratelimit.Policy(rt.Policy); !ok {
			return nil, fmt.Errorf("config: route %q binds unknown policy %q", rt.ID, rt.Policy)
		}
	}

	return &cfg, nil
}
