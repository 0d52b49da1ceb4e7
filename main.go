package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yuhaibao324/dipagt/internal/adapter/llm"
	"github.com/yuhaibao324/dipagt/internal/config"
	"github.com/yuhaibao324/dipagt/internal/dispatcher"
	"github.com/yuhaibao324/dipagt/internal/intention"
	"github.com/yuhaibao324/dipagt/internal/logging"
	"github.com/yuhaibao324/dipagt/internal/memory"
	"github.com/yuhaibao324/dipagt/internal/planner"
	store "github.com/yuhaibao324/dipagt/internal/repository"
	"github.com/yuhaibao324/dipagt/internal/service"
	"github.com/yuhaibao324/dipagt/internal/tools"
	server "github.com/yuhaibao324/dipagt/internal/transport/http"
	v1 "github.com/yuhaibao324/dipagt/internal/transport/http/v1"
	"github.com/yuhaibao324/dipagt/internal/transport/ws"
	"github.com/yuhaibao324/dipagt/policy"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("orchestrator stopped with error", zap.Error(err))
	}
	logger.Info("orchestrator stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting orchestrator",
		zap.Int("port", cfg.HTTPPort),
		zap.String("database_driver", cfg.DatabaseDriver),
		zap.String("memory_backend", cfg.MemoryBackend),
		zap.String("chat_run_policy", cfg.ChatRunPolicy),
		zap.String("mode", cfg.Mode))

	db, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer db.Close()

	catalog, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}
	if err := db.SeedCatalog(ctx, catalog); err != nil {
		return fmt.Errorf("failed to seed catalog: %w", err)
	}

	gateway, err := newMemory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer gateway.Close()

	llmClient := llm.NewLLMClient(cfg.Mode, cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMTimeout, logger)

	policyEngine, err := policy.LoadEngine(ctx, cfg.PolicyPath)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	registry := tools.NewBuiltinRegistry(tools.BuiltinDeps{
		LLM:          llmClient,
		Model:        cfg.LLMModel,
		SearchURL:    cfg.SearchAPIURL,
		SearchAPIKey: cfg.SearchAPIKey,
	})
	p := planner.New(llmClient, cfg.LLMModel, db, tools.NewResolver(db, registry), cfg.ConfidenceThreshold, logger)

	svc := service.New(service.Deps{
		Store:      db,
		Memory:     gateway,
		Classifier: intention.NewClassifier(llmClient, cfg.LLMModel, cfg.HistoryLimit, logger),
		Planner:    p,
		Executor: dispatcher.New(db, gateway, policyEngine, dispatcher.Config{
			MaxConcurrency: cfg.MaxConcurrency,
			ToolTimeout:    cfg.ToolTimeout,
		}, logger),
		LLM: llmClient,
	}, service.Config{
		EventBuffer: cfg.EventBuffer,
		RecallK:     cfg.MemoryRecallK,
		RejectBusy:  cfg.ChatRunPolicy == config.ChatRunReject,
		TitleModel:  cfg.LLMModel,
	}, logger)

	wsServer := ws.NewServer(ws.Config{
		PingInterval:   cfg.WSPingInterval,
		WriteTimeout:   cfg.WSWriteTimeout,
		ReadTimeout:    cfg.WSReadTimeout,
		MaxMessageSize: cfg.WSMaxMessageSize,
	}, svc, logger)
	e := server.NewServer(v1.NewHandler(svc, p, logger), wsServer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		logger.Info("http server listening", zap.String("addr", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down orchestrator")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		// Runs end first so open streams receive their done event.
		if err := svc.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("run shutdown: %w", err))
		}
		if err := e.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

func newMemory(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*memory.Gateway, error) {
	if cfg.MemoryBackend != config.MemoryRedis {
		return memory.NewGateway(memory.NewLocalStore(cfg.MemoryMaxTurns), logger), nil
	}
	backend, err := memory.NewRedisStore(ctx, memory.RedisConfig{
		Address:  cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		MaxTurns: cfg.MemoryMaxTurns,
	})
	if err != nil {
		return nil, err
	}
	return memory.NewGateway(backend, logger), nil
}
