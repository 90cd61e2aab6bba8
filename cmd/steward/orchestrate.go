package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/odvcencio/steward/pkg/escalation"
	"github.com/odvcencio/steward/pkg/orchestrator"
)

func runOrchestrateCommand(args []string) error {
	fs := flag.NewFlagSet("orchestrate", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a config file")
	infraWorkers := fs.Int("infra-workers", 0, "max concurrent infrastructure workers (overrides config)")
	execWorkers := fs.Int("exec-workers", 0, "max concurrent execution workers (overrides config)")
	retries := fs.Int("retries", 0, "per-task retry budget (overrides config)")
	budget := fs.Duration("budget", 0, "wall-clock budget for the whole run (overrides config)")
	skipValidation := fs.Bool("skip-validation", false, "orchestrate an outcome that is not active")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: steward orchestrate [flags] <outcome-id>")
	}
	outcomeID := fs.Arg(0)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
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

	opts := orchestrateOptions(cfg)
	if *infraWorkers > 0 {
		opts.MaxInfraWorkers = *infraWorkers
	}
	if *execWorkers > 0 {
		opts.MaxExecWorkers = *execWorkers
	}
	if *retries > 0 {
		opts.MaxTaskRetries = *retries
	}
	if *budget > 0 {
		opts.RunBudget = *budget
	}
	if *skipValidation {
		opts.SkipValidation = true
	}

	engine := escalation.NewEngine(store.Escalations(), logger)
	runner := orchestrator.NewBusRunner(messageBus)
	orch := orchestrator.New(store, runner, engine, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	result, err := orch.Run(ctx, outcomeID, opts)
	if err != nil {
		return err
	}

	fmt.Printf("Outcome %s finished phase %s in %s\n", result.OutcomeID, result.Phase, time.Since(start).Round(time.Second))
	fmt.Printf("  completed: %d\n", result.Completed)
	fmt.Printf("  failed:    %d\n", result.Failed)

	health, err := orch.HealthReport(ctx, outcomeID)
	if err != nil {
		return err
	}
	if health.OpenEscalations > 0 {
		fmt.Printf("  %d escalation(s) await a decision: steward escalations list -outcome %s\n", health.OpenEscalations, outcomeID)
	}
	if health.TotalCost > 0 {
		fmt.Printf("  worker cost: %.4f\n", health.TotalCost)
	}
	return nil
}
