package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/SamMcfarlane-pursuit/Portfolio-KPI-copilot-sub002/internal/auth"
	"github.com/SamMcfarlane-pursuit/Portfolio-KPI-copilot-sub002/internal/config"
	"github.com/SamMcfarlane-pursuit/Portfolio-KPI-copilot-sub002/internal/gateway"
	"github.com/SamMcfarlane-pursuit/Portfolio-KPI-copilot-sub002/internal/obs"
	"github.com/SamMcfarlane-pursuit/Portfolio-KPI-copilot-sub002/internal/ratelimit"
	"github.com/SamMcfarlane-pursuit/Portfolio-KPI-copilot-sub002/internal/ratelimit/memory"
	"github.com/SamMcfarlane-pursuit/Portfolio-KPI-copilot-sub002/internal/ratelimit/redisstore"
	"github.com/SamMcfarlane-pursuit/Portfolio-KPI-copilot-sub002/internal/routing"
)

func main() {

	cfg, err := config.Load("./config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := obs.SetupLogger(cfg.Observability.LogLevel)
	logger.Info().Msg("Setup logger")

	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg)

	// stores: shared Redis when configured, local fallback always
	var shared ratelimit.Store
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.Timeout(),
			ReadTimeout:  cfg.Redis.Timeout(),
			WriteTimeout: cfg.Redis.Timeout(),
		})
		shared = redisstore.New(client, redisstore.WithPrefix(cfg.Redis.KeyPrefix))
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("shared store configured")
	} else {
		logger.Warn().Msg("no shared store configured, limits are per-instance")
	}

	local := memory.New()
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	local.StartSweeper(sweepCtx, cfg.Limits.SweepInterval(), func(removed int) {
		metrics.SweepRemovals.Add(float64(removed))
	})

	lim := ratelimit.New(shared, local,
		ratelimit.WithLogger(logger),
		ratelimit.WithRecorder(metrics),
		ratelimit.WithTimeout(cfg.Redis.Timeout()),
	)

	// policies: the preset table, with budgets scoped by principal when
	// the client authenticated
	policies := ratelimit.Policies()
	for name, p := range policies {
		p.KeyFunc = auth.KeyFunc()
		policies[name] = p
	}

	table := routing.New()
	for _, rt := range cfg.Limits.Routes {
		table.Add(&routing.Rule{ID: rt.ID, Prefix: rt.PathPrefix, Policy: rt.Policy})
	}

	pairs := map[string]string{} // secret -> keyID
	for _, k := range cfg.Auth.Keys {
		if k.Secret != "" && k.ID != "" {
			pairs[k.Secret] = k.ID
		}
	}
	authStore := auth.NewStatic(cfg.Auth.Header, pairs)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("v0.1.0"))
	})

	mux.Handle(cfg.Observability.PrometheusPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// placeholder business handlers; the real service mounts its own
	mux.HandleFunc("/api/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	skip := map[string]struct{}{
		"/health":                        {},
		"/version":                       {},
		cfg.Observability.PrometheusPath: {},
	}

	mws := []gateway.Middleware{
		obs.Logger(logger),
		gateway.BodyLimit(cfg.Server.MaxBody()),
		gateway.PolicyMatcher(table, skip),
		metrics.Middleware(skip),
	}
	if len(pairs) > 0 {
		mws = append(mws, authStore.Middleware(skip))
	}
	mws = append(mws, gateway.RateLimit(lim, policies, cfg.Limits.DefaultPolicy, skip, func(policy string) {
		metrics.Denied.WithLabelValues(policy).Inc()
	}))

	handler := gateway.Chain(mux, mws...)

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
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	stopSweep()
	if shared != nil {
		_ = shared.Close()
	}
	log.Printf("bye")
}
