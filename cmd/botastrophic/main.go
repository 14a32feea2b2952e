package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/botastrophic/botastrophic/internal/broadcast"
	"github.com/botastrophic/botastrophic/internal/config"
	"github.com/botastrophic/botastrophic/internal/engine"
	"github.com/botastrophic/botastrophic/internal/httpapi"
	"github.com/botastrophic/botastrophic/internal/llm"
	"github.com/botastrophic/botastrophic/internal/memory"
	"github.com/botastrophic/botastrophic/internal/observability"
	"github.com/botastrophic/botastrophic/internal/prompt"
	"github.com/botastrophic/botastrophic/internal/scheduler"
	"github.com/botastrophic/botastrophic/internal/search"
	"github.com/botastrophic/botastrophic/internal/seed"
	"github.com/botastrophic/botastrophic/internal/store"
	"github.com/botastrophic/botastrophic/internal/usage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer st.Close()
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
	}

	seeded, err := seed.LoadDir(ctx, st, logger, cfg.BotConfigDir)
	if err != nil {
		logger.Fatal("bot seed failed", zap.Error(err))
	}
	logger.Info("bot roster seeded", zap.Int("bots", seeded))

	client, err := llm.New(llm.Config{
		Provider:        cfg.LLMProvider,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		OllamaBaseURL:   cfg.OllamaBaseURL,
		CallTimeout:     cfg.ModelCallTimeout,
	})
	if err != nil {
		logger.Fatal("llm client init failed", zap.Error(err))
	}
	logger.Info("llm provider ready", zap.String("provider", client.Provider()))

	searcher := search.NewWikipediaClient(cfg.SearchTimeout)

	mem := memory.NewService(st, client, logger)
	governor := usage.NewGovernor(st, logger, cfg.DailyTokenCap, cfg.DailyCostCapUSD)
	executor := engine.NewExecutor(st, mem, searcher, logger)
	moderator := engine.NewModerator(st, metrics, logger)
	builder := prompt.NewBuilder(st)
	hub := broadcast.NewHub(metrics, logger, cfg.AllowAnyOrigin)

	pipeline := engine.NewPipeline(st, builder, client, governor, executor, moderator, mem, hub, metrics, logger)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	sched := scheduler.New(pipeline, metrics, logger, int(cfg.HeartbeatInterval/time.Second))
	if err := sched.Start(runCtx); err != nil {
		logger.Fatal("scheduler start failed", zap.Error(err))
	}

	api := httpapi.New(cfg, st, sched, governor, hub, metrics, logger)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	runCancel()
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
