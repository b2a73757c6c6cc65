package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/SamMcfarlane-pursuit/Portfolio-KPI-copilot-sub002/internal/gateway"
	"github.com/SamMcfarlane-pursuit/Portfolio-KPI-copilot-sub002/internal/ratelimit"
	"github.com/SamMcfarlane-pursuit/Portfolio-KPI-copilot-sub002/internal/routing"
)

type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ChecksTotal     *prometheus.CounterVec
	Denied          *prometheus.CounterVec
	StoreErrors     *prometheus.CounterVec
	SweepRemovals   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_requests_total",
				Help: "Total HTTP requests seen by the admission layer",
			},
			[]string{"policy", "method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "admission_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"policy", "method"},
		),
		ChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_checks_total",
				Help: "Admission decisions by strategy, outcome and backing store",
			},
			[]string{"strategy", "outcome", "store"},
		),
		Denied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_denied_total",
				Help: "Requests rejected with 429 by policy",
			},
			[]string{"policy"},
		),
		StoreErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_store_errors_total",
				Help: "Shared store failures that triggered the local fallback",
			},
			[]string{"strategy"},
		),
		SweepRemovals: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "admission_sweep_removed_total",
				Help: "Expired fallback-store entries removed by the sweeper",
			},
		),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ChecksTotal,
		m.Denied,
		m.StoreErrors,
		m.SweepRemovals,
	)
	return m
}

// Check implements ratelimit.Recorder.
func (m *Metrics) Check(strategy ratelimit.Strategy, allowed, local bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	store := "shared"
	if local {
		store = "local"
	}
	m.ChecksTotal.WithLabelValues(string(strategy), outcome, store).Inc()
}

// StoreError implements ratelimit.Recorder.
func (m *Metrics) StoreError(strategy ratelimit.Strategy) {
	m.StoreErrors.WithLabelValues(string(strategy)).Inc()
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

// Middleware records per-request metrics, labelled by the policy rule the
// PolicyMatcher attached.
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

			policy := "default"
			if rule, ok := routing.RuleFrom(r); ok && rule.Policy != "" {
				policy = rule.Policy
			}

			code := rec.status
			if code == 0 {
				code = http.StatusOK
			}

			m.RequestDuration.WithLabelValues(policy, r.Method).Observe(time.Since(start).Seconds())
			m.RequestsTotal.WithLabelValues(policy, r.Method, strconv.Itoa(code)).Inc()
		})
	}
}
