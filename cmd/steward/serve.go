package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/odvcencio/steward/pkg/api"
	"github.com/odvcencio/steward/pkg/autoresolve"
	"github.com/odvcencio/steward/pkg/config"
	"github.com/odvcencio/steward/pkg/convergence"
	"github.com/odvcencio/steward/pkg/escalation"
	"github.com/odvcencio/steward/pkg/improve"
	"github.com/odvcencio/steward/pkg/logging"
	"github.com/odvcencio/steward/pkg/observe"
	"github.com/odvcencio/steward/pkg/orchestrator"
	"github.com/odvcencio/steward/pkg/telemetry"
)

func runServeCommand(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a config file (default: ~/.steward/config.yaml then ./.steward/config.yaml)")
	bind := fs.String("bind", "", "address to bind the API server (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if strings.TrimSpace(*bind) != "" {
		cfg.API.Bind = *bind
	}

	logger := newLogger(cfg)
	defer logger.Close()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	messageBus, err := newBus(cfg)
	if err != nil {
		return fmt.Errorf("connect message bus: %w", err)
	}
	defer messageBus.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.TracingEnabled {
		tp, err := telemetry.NewTracerProvider("steward")
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	engine := escalation.NewEngine(store.Escalations(), logger)
	runner := orchestrator.NewBusRunner(messageBus)
	orch := orchestrator.New(store, runner, engine, logger)
	resolver := autoresolve.NewResolver(engine, autoresolve.NewHeuristicScorer(),
		cfg.AutoResolve.ScorerRateLimit, cfg.AutoResolve.ScorerBurst, logger)
	analyzer := improve.NewAnalyzer(store, improve.NewTokenSimilarity(), logger)
	tracker := convergence.NewTracker(store, convergence.NewTaskCompletionEvaluator(store.Tasks()), logger)

	// Observations published by workers flow into the escalation engine even
	// when no orchestration run is active.
	collector := observe.NewCollector(messageBus, logger)
	collector.AddSink(engine)
	if err := collector.Start(ctx); err != nil {
		return fmt.Errorf("start observation collector: %w", err)
	}
	defer collector.Stop()

	server := api.NewServer(api.ServerConfig{
		Address:            cfg.API.Bind,
		Store:              store,
		Orchestrator:       orch,
		Escalations:        engine,
		Resolver:           resolver,
		Analyzer:           analyzer,
		Tracker:            tracker,
		EventBus:           messageBus,
		OrchestrateOptions: orchestrateOptions(cfg),
		Logger:             logger,
	})

	// A live config file lets operators turn up log verbosity on a running
	// daemon. Only explicitly named files are watched.
	if *configPath != "" {
		watcher, err := config.Watch(*configPath, func(next *config.Config) {
			if level, ok := logging.ParseLevel(next.Logging.Level); ok {
				logger.SetMinLevel(level)
			}
			logger.Info(logging.CategoryConfig, "config_reloaded", *configPath, nil)
		})
		if err != nil {
			logger.Warn(logging.CategoryConfig, "watch_failed", err.Error(), nil)
		} else {
			defer watcher.Close()
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErr <- err
		}
	}()

	fmt.Printf("steward serving on %s\n", cfg.API.Bind)

	select {
	case err := <-serverErr:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	fmt.Println("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// orchestrateOptions maps configuration onto orchestrator options.
func orchestrateOptions(cfg *config.Config) orchestrator.Options {
	return orchestrator.Options{
		MaxInfraWorkers: cfg.Orchestrator.MaxInfraWorkers,
		MaxExecWorkers:  cfg.Orchestrator.MaxExecWorkers,
		MaxTaskRetries:  cfg.Orchestrator.MaxTaskRetries,
		ClaimInterval:   cfg.Orchestrator.ClaimInterval,
		RunBudget:       cfg.Orchestrator.RunBudget,
		SkipValidation:  cfg.Orchestrator.SkipValidation,
	}
}
