package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/odvcencio/steward/pkg/improve"
)

func runImproveCommand(args []string) error {
	fs := flag.NewFlagSet("improve", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a config file")
	outcomeID := fs.String("outcome", "", "restrict analysis to one outcome")
	days := fs.Int("days", 0, "lookback window in days (overrides config)")
	maxProposals := fs.Int("max", 0, "maximum proposals to synthesize (overrides config)")
	createOutcomes := fs.Bool("create-outcomes", false, "materialize proposals as draft outcomes")
	if err := fs.Parse(args); err != nil {
		return err
	}

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

	params := improve.Params{
		LookbackDays:       cfg.Improve.LookbackDays,
		OutcomeID:          *outcomeID,
		MaxProposals:       cfg.Improve.MaxProposals,
		AutoCreateOutcomes: *createOutcomes,
	}
	if *days > 0 {
		params.LookbackDays = *days
	}
	if *maxProposals > 0 {
		params.MaxProposals = *maxProposals
	}

	analyzer := improve.NewAnalyzer(store, improve.NewTokenSimilarity(), logger)
	report, err := analyzer.Analyze(context.Background(), params)
	if err != nil {
		return err
	}

	if len(report.Clusters) == 0 {
		fmt.Printf("No recurring escalation patterns in the last %d day(s).\n", params.LookbackDays)
		return nil
	}

	fmt.Printf("%d recurring pattern(s) in the last %d day(s):\n\n", len(report.Clusters), params.LookbackDays)
	for _, c := range report.Clusters {
		failed := ""
		if c.HasFailedTask {
			failed = ", failed task"
		}
		fmt.Printf("  [%s] %s\n", c.Severity, c.Pattern)
		fmt.Printf("      trigger %s, %d occurrence(s), %.1f/week%s\n", c.TriggerType, c.Size(), c.PerWeek, failed)
	}

	if len(report.Proposals) > 0 {
		fmt.Printf("\n%d proposal(s):\n\n", len(report.Proposals))
		for i, p := range report.Proposals {
			fmt.Printf("  %d. %s\n", i+1, p.OutcomeName)
			fmt.Printf("     problem: %s\n", p.Problem)
			fmt.Printf("     intent:  %s\n", p.Intent.Summary)
			for _, t := range p.Tasks {
				fmt.Printf("     task:    [%s] %s\n", t.Phase, t.Title)
			}
		}
	}

	for _, id := range report.OutcomesCreated {
		fmt.Printf("\nCreated draft outcome %s\n", id)
	}
	return nil
}
