package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/odvcencio/steward/pkg/convergence"
)

func runReviewCommand(args []string) error {
	fs := flag.NewFlagSet("review", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: steward review <outcome-id>")
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

	tracker := convergence.NewTracker(store, convergence.NewTaskCompletionEvaluator(store.Tasks()), logger)

	ctx := context.Background()
	cycle, err := tracker.Review(ctx, outcomeID)
	if err != nil {
		return err
	}

	fmt.Printf("Review cycle %d for outcome %s\n", cycle.Sequence, outcomeID)
	fmt.Printf("  issues found:  %d\n", cycle.IssuesFound)
	fmt.Printf("  tasks created: %d\n", cycle.TasksCreated)

	converged, err := tracker.HasConverged(ctx, outcomeID)
	if err != nil {
		return err
	}
	if converged {
		fmt.Println("  converged: yes")
	} else if cycle.IssuesFound == 0 {
		fmt.Println("  converged: no (blocking escalations open)")
	} else {
		fmt.Println("  converged: no")
	}
	return nil
}
