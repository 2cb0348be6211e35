package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/halcyonsec/OpForge/internal/adapter/caldera"
	ofhttp "github.com/halcyonsec/OpForge/internal/adapter/http"
	ofnats "github.com/halcyonsec/OpForge/internal/adapter/nats"
	"github.com/halcyonsec/OpForge/internal/adapter/natskv"
	"github.com/halcyonsec/OpForge/internal/adapter/otel"
	"github.com/halcyonsec/OpForge/internal/adapter/postgres"
	"github.com/halcyonsec/OpForge/internal/adapter/ristretto"
	"github.com/halcyonsec/OpForge/internal/adapter/tiered"
	"github.com/halcyonsec/OpForge/internal/adapter/ws"
	"github.com/halcyonsec/OpForge/internal/config"
	"github.com/halcyonsec/OpForge/internal/logger"
	"github.com/halcyonsec/OpForge/internal/middleware"
	"github.com/halcyonsec/OpForge/internal/port/cache"
	"github.com/halcyonsec/OpForge/internal/port/notifier"
	"github.com/halcyonsec/OpForge/internal/resilience"
	"github.com/halcyonsec/OpForge/internal/secrets"
	"github.com/halcyonsec/OpForge/internal/service"

	// Notifier registrations.
	_ "github.com/halcyonsec/OpForge/internal/adapter/discord"
	_ "github.com/halcyonsec/OpForge/internal/adapter/slack"
	_ "github.com/halcyonsec/OpForge/internal/adapter/webhook"
)

// specCacheBucket is the NATS KV bucket sharing parsed sequence specs
// between nodes.
const specCacheBucket = "opforge-specs"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	if err := run(flags); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(flags config.CLIFlags) error {
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	holder := config.NewHolder(cfg, cfgPath)

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	vault, err := secrets.NewVault(secrets.EnvLoader("CALDERA_API_KEY", "OPFORGE_API_KEY_HASH"))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}

	slog.Info("config loaded",
		"config_path", cfgPath,
		"port", cfg.Server.Port,
		"specs_dir", cfg.Sequencer.SpecsDir,
		"jobapi_url", cfg.JobAPI.URL,
		"jobapi_key", vault.Redacted("CALDERA_API_KEY"),
		"max_concurrent", cfg.Sequencer.MaxConcurrent,
	)

	ctx := context.Background()

	// --- Telemetry ---

	otelShutdown, err := otel.Setup(ctx, cfg.Logging.Service, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Error("telemetry shutdown", "error", err)
		}
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := ofnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	idemKV, err := queue.KeyValue(ctx, cfg.Idempotency.Bucket, cfg.Idempotency.TTL)
	if err != nil {
		return fmt.Errorf("idempotency bucket: %w", err)
	}

	specCache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer specCache.Close()

	// Parsed specs are shared between nodes through a KV bucket. When
	// the bucket cannot be created the cache degrades to local-only.
	var specLayer cache.Cache = specCache
	if specKV, err := queue.KeyValue(ctx, specCacheBucket, cfg.Sequencer.SpecCacheTTL); err != nil {
		slog.Warn("spec cache bucket unavailable, running local-only", "error", err)
	} else {
		specLayer = tiered.New(specCache, natskv.New(specKV), cfg.Sequencer.SpecCacheTTL)
	}

	// --- Job API ---

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	jobs := caldera.NewClient(cfg.JobAPI.URL, cfg.JobAPI.APIKey, cfg.JobAPI.Timeout)
	jobs.SetBreaker(breaker)

	// --- Services ---

	hub := ws.NewHub()
	store := postgres.NewStore(pool)
	events := postgres.NewEventStore(pool)
	specSvc := service.NewSpecService(cfg.Sequencer.SpecsDir, specLayer, cfg.Sequencer.SpecCacheTTL)
	runner := service.NewStepRunner(jobs, cfg.Sequencer.PollInterval)
	notify := buildNotifications(cfg.Webhook, cfg.Notify)
	runSvc := service.NewRunService(cfg.Sequencer, store, events, queue, hub, specSvc, runner, metrics, notify)

	// --- HTTP ---

	handlers := &ofhttp.Handlers{Runs: runSvc, Specs: specSvc}

	rateLimiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopRateCleanup := rateLimiter.StartCleanup(time.Minute, 10*time.Minute)
	defer stopRateCleanup()

	r := chi.NewRouter()

	// RequestID runs first so every later log line carries the ID.
	r.Use(middleware.RequestID)
	r.Use(ofhttp.Logger)
	r.Use(ofhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(ofhttp.SecurityHeaders)
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(rateLimiter.Handler)
	r.Use(middleware.Auth(cfg.Auth))
	r.Use(middleware.Idempotency(idemKV))

	r.Get("/health", healthHandler(holder, pool, queue, breaker, runSvc))
	r.Get("/health/ready", readyHandler(pool, queue))
	r.Get("/ws", hub.HandleWS)

	ofhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
		}
	}()

	for sig := range sigs {
		if sig != syscall.SIGHUP {
			break
		}
		if err := holder.Reload(); err != nil {
			slog.Error("config reload failed", "error", err)
			continue
		}
		if err := vault.Reload(); err != nil {
			slog.Error("secrets reload failed", "error", err)
			continue
		}
		slog.Info("config reloaded", "path", cfgPath)
	}

	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}

	// Live runs keep publishing while they wind down, so the queue is
	// drained only after them.
	runSvc.Drain(cfg.Sequencer.DrainTimeout)
	if err := queue.Drain(); err != nil {
		slog.Error("nats drain", "error", err)
	}

	return nil
}

// buildNotifications assembles the notifier fan-out from config. Each
// configured target builds independently; with nothing configured the
// service exists but has nothing to deliver to.
func buildNotifications(webhook config.Webhook, chat config.Notify) *service.NotificationService {
	add := func(targets []notifier.Notifier, kind string, conf map[string]string) []notifier.Notifier {
		n, err := notifier.New(kind, conf)
		if err != nil {
			slog.Warn("notifier unavailable", "kind", kind, "error", err)
			return targets
		}
		return append(targets, n)
	}

	var targets []notifier.Notifier
	if webhook.Enabled {
		conf := map[string]string{"url": webhook.URL}
		for name, v := range webhook.Headers {
			conf["header."+name] = v
		}
		targets = add(targets, "webhook", conf)
	}
	if chat.SlackWebhookURL != "" {
		targets = add(targets, "slack", map[string]string{"webhook_url": chat.SlackWebhookURL})
	}
	if chat.DiscordWebhookURL != "" {
		targets = add(targets, "discord", map[string]string{"webhook_url": chat.DiscordWebhookURL})
	}
	return service.NewNotificationService(targets, nil)
}

// healthHandler reports the state of each dependency. The process
// answers 200 as long as it is serving; readiness gating lives in
// readyHandler.
func healthHandler(holder *config.Holder, pool *pgxpool.Pool, queue *ofnats.Queue, breaker *resilience.Breaker, runs *service.RunService) http.HandlerFunc {
	type healthStatus struct {
		Status   string `json:"status"`
		Postgres string `json:"postgres"`
		NATS     string `json:"nats"`
		Breaker  string `json:"breaker"`
		LiveRuns int    `json:"live_runs"`
		SpecsDir string `json:"specs_dir"`
		JobAPI   string `json:"jobapi"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		cfg := holder.Get()
		status := healthStatus{
			Status:   "ok",
			Postgres: "ok",
			NATS:     "ok",
			Breaker:  breaker.State(),
			LiveRuns: runs.LiveCount(),
			SpecsDir: cfg.Sequencer.SpecsDir,
			JobAPI:   cfg.JobAPI.URL,
		}
		if err := pool.Ping(pingCtx); err != nil {
			status.Postgres = "down"
			status.Status = "degraded"
		}
		if !queue.IsConnected() {
			status.NATS = "down"
			status.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}

// readyHandler is the readiness probe: 503 until both stores are
// reachable, so load balancers hold traffic during startup and outages.
func readyHandler(pool *pgxpool.Pool, queue *ofnats.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := pool.Ping(pingCtx); err != nil || !queue.IsConnected() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}
