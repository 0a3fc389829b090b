package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentinel-antispam/internal/analytics"
	"sentinel-antispam/internal/bot"
	"sentinel-antispam/internal/config"
	"sentinel-antispam/internal/ledger"
	"sentinel-antispam/internal/metrics"
	"sentinel-antispam/internal/modules/audit"
	"sentinel-antispam/internal/rulestore"
	"sentinel-antispam/internal/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const dbConnectRetries = 5

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	metrics.RegisterAntispamMetrics()

	startCtx, startCancel := context.WithTimeout(context.Background(), time.Minute)
	store, err := storage.Open(startCtx, cfg.DatabaseURL, dbConnectRetries)
	startCancel()
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}
	logger.Info("storage ready", zap.String("dialect", store.Dialect()))

	auditLogger := audit.NewLogger(store, logger, cfg.AntiSpam.AuditBuffer)
	ruleStore := rulestore.New(store, rulestore.Options{
		TTL:             cfg.AntiSpam.ConfigCacheTTL(),
		EnableByDefault: cfg.AntiSpam.EnableByDefault,
		Defaults:        cfg.Rules,
	})

	infractions := storage.NewInfractionWriter(store, logger, cfg.AntiSpam.AuditBuffer)
	violations := ledger.New()
	violations.WithRecorder(infractions)

	analyticsService := analytics.New(store)

	botSvc, err := bot.New(cfg, logger, store, ruleStore, violations, auditLogger, analyticsService)
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}

	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started")

	var server *http.Server
	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.Handle("/metrics", promhttp.Handler())
		server = &http.Server{Addr: cfg.Health.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(ctx)
	}
	botSvc.Close(ctx)
	auditLogger.Close(ctx)
	infractions.Close(ctx)
}
