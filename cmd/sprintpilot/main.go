package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sprintpilot/sprintpilot/internal/adapter/cached"
	sphttp "github.com/sprintpilot/sprintpilot/internal/adapter/http"
	"github.com/sprintpilot/sprintpilot/internal/adapter/memstore"
	spnats "github.com/sprintpilot/sprintpilot/internal/adapter/nats"
	"github.com/sprintpilot/sprintpilot/internal/adapter/natskv"
	"github.com/sprintpilot/sprintpilot/internal/adapter/otel"
	"github.com/sprintpilot/sprintpilot/internal/adapter/postgres"
	"github.com/sprintpilot/sprintpilot/internal/adapter/ristretto"
	"github.com/sprintpilot/sprintpilot/internal/adapter/ws"
	"github.com/sprintpilot/sprintpilot/internal/breaker"
	"github.com/sprintpilot/sprintpilot/internal/config"
	"github.com/sprintpilot/sprintpilot/internal/logger"
	"github.com/sprintpilot/sprintpilot/internal/middleware"
	"github.com/sprintpilot/sprintpilot/internal/port/gitprovider"
	"github.com/sprintpilot/sprintpilot/internal/port/messagequeue"
	"github.com/sprintpilot/sprintpilot/internal/port/notifier"
	"github.com/sprintpilot/sprintpilot/internal/port/sandbox"
	"github.com/sprintpilot/sprintpilot/internal/port/storage"
	"github.com/sprintpilot/sprintpilot/internal/resilience"
	"github.com/sprintpilot/sprintpilot/internal/secrets"
	"github.com/sprintpilot/sprintpilot/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Backend,
		"runner", cfg.Sandbox.Runner,
		"git_provider", cfg.Git.Provider,
	)

	ctx := context.Background()

	// --- Telemetry ---
	otelShutdown, err := otel.Init(ctx, cfg.Logging.Service, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(shutdownCtx)
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	// NATS carries event fanout, the optional KV storage backend and the
	// remote sandbox runner. With an empty URL the orchestrator runs in a
	// degraded single-node mode.
	var queue *spnats.Queue
	var events messagequeue.Queue
	if cfg.NATS.URL != "" {
		queue, err = spnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()
		events = queue
	}

	store, closeStore, err := openStore(ctx, cfg, queue)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer closeStore()

	// --- Adapters ---

	runner, err := sandbox.New(cfg.Sandbox.Runner, map[string]string{
		"command":      cfg.Sandbox.Command,
		"work_dir":     cfg.Sandbox.WorkDir,
		"stop_timeout": cfg.Sandbox.StopTimeout.String(),
		"url":          cfg.NATS.URL,
	})
	if err != nil {
		return fmt.Errorf("sandbox runner: %w", err)
	}

	provider, err := gitprovider.New(cfg.Git.Provider, nil)
	if err != nil {
		return fmt.Errorf("git provider: %w", err)
	}

	notifiers, err := buildNotifiers(cfg)
	if err != nil {
		return fmt.Errorf("notifiers: %w", err)
	}

	// Secrets handed to each sandbox run. SIGHUP reloads them without a
	// restart; already-running sessions keep the values they started with.
	vault, err := secrets.NewVault(secrets.EnvLoader("GH_TOKEN", "SPRINTPILOT_AGENT_API_KEY"))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := vault.Reload(); err != nil {
				slog.Error("secret reload failed", "error", err)
			} else {
				slog.Info("secrets reloaded")
			}
		}
	}()

	// --- Services ---

	targets := service.NewTargetService(store)
	queues := service.NewQueueService(store, cfg.Queue.MaxPending)
	logs := service.NewExecLogService(store, events)

	sessions := service.NewSessionService(service.SessionDeps{
		Store:     store,
		Targets:   targets,
		Queue:     queues,
		Logs:      logs,
		Runner:    runner,
		Provider:  provider,
		Notifiers: notifiers,
		Events:    events,
		Detector: breaker.New(breaker.Config{
			SameIssueThreshold: cfg.Breaker.SameIssueThreshold,
			NoProgressCycles:   cfg.Breaker.NoProgressCycles,
			WallClock:          cfg.Breaker.WallClock,
			MaxCycles:          cfg.Breaker.MaxCycles,
		}),
		Metrics:      metrics,
		RunEnv:       vault.All,
		StartRetries: cfg.Sandbox.StartRetries,
		Retry: resilience.RetryConfig{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		},
	})

	// Reconcile persisted state with reality before accepting requests.
	if err := sessions.Recover(ctx); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	// --- WebSocket fanout ---
	hub := ws.NewHub()
	if events != nil {
		cancelBridge, err := hub.Bridge(ctx, events)
		if err != nil {
			return fmt.Errorf("ws bridge: %w", err)
		}
		defer cancelBridge()
	}

	// --- HTTP ---
	handlers := &sphttp.Handlers{
		Sessions: sessions,
		Targets:  targets,
		Queues:   queues,
		Hub:      hub,
		Healthy: func() bool {
			return queue == nil || queue.IsConnected()
		},
	}

	limiter := middleware.NewRateLimiter(50, 100)
	defer limiter.StartCleanup(time.Minute, 10*time.Minute)()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(sphttp.SecurityHeaders)
	r.Use(sphttp.CORS(cfg.Server.CORSOrigin))
	r.Use(sphttp.Logger)
	r.Use(limiter.Handler)
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))

	sphttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Let in-flight session goroutines persist their terminal state.
	sessions.Wait()
	return nil
}

// openStore builds the durable store for the configured backend, wrapped in
// the in-process read cache when one is configured.
func openStore(ctx context.Context, cfg *config.Config, queue *spnats.Queue) (storage.Store, func(), error) {
	var (
		store   storage.Store
		cleanup = func() {}
	)

	switch cfg.Storage.Backend {
	case "nats":
		if queue == nil {
			return nil, nil, fmt.Errorf("nats storage backend requires a NATS URL")
		}
		kv, err := queue.KeyValue(ctx, cfg.NATS.Bucket)
		if err != nil {
			return nil, nil, err
		}
		store = natskv.New(kv)

	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			pool.Close()
			return nil, nil, err
		}
		store = postgres.NewStore(pool)
		cleanup = pool.Close

	case "memory":
		store = memstore.New()

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	if cfg.Cache.L1MaxSizeMB > 0 {
		l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("l1 cache: %w", err)
		}
		store = cached.New(store, l1, cfg.Cache.L1TTL)
	}

	return store, cleanup, nil
}

// buildNotifiers instantiates every notifier with configuration present.
func buildNotifiers(cfg *config.Config) ([]notifier.Notifier, error) {
	var out []notifier.Notifier

	if cfg.Notify.SlackWebhookURL != "" {
		n, err := notifier.New("slack", map[string]string{"webhook_url": cfg.Notify.SlackWebhookURL})
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		n, err := notifier.New("discord", map[string]string{"webhook_url": cfg.Notify.DiscordWebhookURL})
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if cfg.Notify.SMTP.Host != "" {
		n, err := notifier.New("email", map[string]string{
			"host":     cfg.Notify.SMTP.Host,
			"port":     strconv.Itoa(cfg.Notify.SMTP.Port),
			"from":     cfg.Notify.SMTP.From,
			"to":       cfg.Notify.SMTP.To,
			"password": cfg.Notify.SMTP.Password,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
