package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crm-platform/internal/audit"
	"crm-platform/internal/auth"
	"crm-platform/internal/calls"
	"crm-platform/internal/callsync"
	"crm-platform/internal/config"
	"crm-platform/internal/httpapi"
	"crm-platform/internal/migration"
	"crm-platform/internal/observability/metrics"
	"crm-platform/internal/reporting"
	"crm-platform/internal/telephony"
	"crm-platform/pkg/logger"
	"crm-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.DB.MigrateOnStart {
		if err := migration.RunMigrations(db); err != nil {
			log.Error("migrations failed", "err", err)
			os.Exit(1)
		}
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	syncMetrics := metrics.SyncWithConfig(metrics.Config{ServiceName: "crm-platform", Environment: cfg.App.Env})

	store := calls.NewPostgresStore(db)
	settings := telephony.NewPostgresSettings(db)
	service := calls.NewService(store, syncMetrics)
	// Recordings stream for as long as the request lives; only their headers are timed.
	clients := telephony.NewExotelFactory(telephony.ExotelOptions{
		Scheme:          cfg.Provider.Scheme,
		HTTPClient:      &http.Client{Timeout: cfg.Provider.HTTPTimeout},
		RecordingClient: telephony.NewRecordingHTTPClient(cfg.Provider.HTTPTimeout),
		RecordingHosts:  append(append([]string{}, telephony.DefaultRecordingHosts...), cfg.Provider.RecordingHosts...),
		MaxRetries:      cfg.Provider.MaxRetries,
	})
	loc := cfg.ProviderLocation()

	sweeper, err := callsync.New(callsync.Params{
		Settings: settings,
		Clients:  clients,
		Calls:    service,
		Locker:   utils.NewLocker(rdb),
		Metrics:  syncMetrics,
		Log:      log,
		Config: callsync.Config{
			Interval:    cfg.Sync.PollInterval,
			Window:      cfg.Sync.PollWindow,
			PageSize:    cfg.Sync.PageSize,
			Concurrency: cfg.Sync.Concurrency,
			Timeout:     cfg.Sync.SweepTimeout,
			Location:    loc,
		},
	})
	if err != nil {
		log.Error("sweeper init failed", "err", err)
		os.Exit(1)
	}

	r := newRouter(log, routeDeps{
		Webhook: telephony.WebhookHandler{
			Calls:    service,
			Settings: settings,
			Metrics:  syncMetrics,
			Secret:   cfg.Sync.WebhookSecret,
			Location: loc,
			Timeout:  cfg.Sync.WebhookTimeout,
		},
		API: httpapi.Handlers{
			Auth:     authManager,
			Calls:    store,
			Reports:  reporting.NewService(store),
			Settings: settings,
			Clients:  clients,
			Streams:  httpapi.RedisStreamLimiter{Client: rdb, Limit: cfg.Provider.RecordingStreams},
			Sweeper:  sweeper,
			Audit:    audit.NewService(audit.NewPostgresRepo(db)),
		},
		AuthMW: auth.RequireAccessToken(authManager),
		Ready: func(ctx context.Context) error {
			if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
	})

	if cfg.Sync.PollEnabled {
		go sweeper.RunForever(rootCtx)
	} else {
		log.Info("call sync polling disabled")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Recording streams can run long.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
