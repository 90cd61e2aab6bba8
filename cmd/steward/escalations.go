package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/steward/pkg/autoresolve"
	"github.com/odvcencio/steward/pkg/escalation"
)

func runEscalationsCommand(args []string) error {
	sub := ""
	if len(args) > 0 {
		sub = strings.TrimSpace(args[0])
	}
	switch sub {
	case "list":
		return runEscalationsList(args[1:])
	case "show":
		return runEscalationsShow(args[1:])
	case "answer":
		return runEscalationsAnswer(args[1:])
	case "dismiss":
		return runEscalationsDismiss(args[1:])
	case "resolve":
		return runEscalationsResolve(args[1:])
	default:
		return fmt.Errorf("usage: steward escalations <list|show|answer|dismiss|resolve> [flags]")
	}
}

func runEscalationsList(args []string) error {
	fs := flag.NewFlagSet("escalations list", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a config file")
	outcomeID := fs.String("outcome", "", "filter by outcome ID")
	if err := fs.Parse(args); err != nil {
		return err
	}

	engine, cleanup, err := openEngine(*configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	pending, err := engine.ListPending(context.Background(), *outcomeID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("No pending escalations.")
		return nil
	}

	for _, esc := range pending {
		age := time.Since(esc.CreatedAt).Round(time.Minute)
		risk := escalation.RiskFor(esc.Trigger.Type)
		fmt.Printf("%s  [%s/%s]  %s  (%s old)\n", esc.ID, esc.Trigger.Type, risk, esc.Question.Text, age)
	}
	fmt.Printf("\n%d pending. Answer with: steward escalations answer <id> -option <option-id>\n", len(pending))
	return nil
}

func runEscalationsShow(args []string) error {
	fs := flag.NewFlagSet("escalations show", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: steward escalations show <id>")
	}

	engine, cleanup, err := openEngine(*configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	esc, err := engine.Get(context.Background(), fs.Arg(0))
	if err != nil {
		return err
	}

	fmt.Printf("Escalation %s (%s)\n", esc.ID, esc.Status)
	fmt.Printf("  outcome: %s\n", esc.OutcomeID)
	fmt.Printf("  trigger: %s (risk %s)\n", esc.Trigger.Type, escalation.RiskFor(esc.Trigger.Type))
	if esc.Trigger.TaskID != "" {
		fmt.Printf("  task:    %s\n", esc.Trigger.TaskID)
	}
	for _, ev := range esc.Trigger.Evidence {
		fmt.Printf("  evidence: %s\n", ev)
	}
	fmt.Printf("  question: %s\n", esc.Question.Text)
	if esc.Question.Context != "" {
		fmt.Printf("  context:  %s\n", esc.Question.Context)
	}
	for _, opt := range esc.Question.Options {
		fmt.Printf("    [%s] %s", opt.ID, opt.Label)
		if opt.Description != "" {
			fmt.Printf(" - %s", opt.Description)
		}
		fmt.Println()
	}
	if esc.Answer != nil {
		by := "human"
		if esc.Answer.Machine {
			by = fmt.Sprintf("machine (confidence %.2f)", esc.Answer.Confidence)
		}
		fmt.Printf("  answered: %s by %s\n", esc.Answer.Option, by)
	}
	if esc.DismissReason != "" {
		fmt.Printf("  dismissed: %s\n", esc.DismissReason)
	}
	if dur, ok := escalation.ResolutionTime(esc); ok {
		fmt.Printf("  resolution time: %s\n", dur.Round(time.Second))
	}
	return nil
}

func runEscalationsAnswer(args []string) error {
	fs := flag.NewFlagSet("escalations answer", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a config file")
	option := fs.String("option", "", "selected option ID, or free text for open questions")
	extra := fs.String("context", "", "additional context recorded with the answer")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 || strings.TrimSpace(*option) == "" {
		return fmt.Errorf("usage: steward escalations answer <id> -option <option-id> [-context <text>]")
	}

	engine, cleanup, err := openEngine(*configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	esc, err := engine.Answer(context.Background(), fs.Arg(0), *option, *extra)
	if err != nil {
		return err
	}
	fmt.Printf("Answered %s with %q\n", esc.ID, esc.Answer.Option)
	return nil
}

func runEscalationsDismiss(args []string) error {
	fs := flag.NewFlagSet("escalations dismiss", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a config file")
	reason := fs.String("reason", "", "why the escalation needs no decision (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 || strings.TrimSpace(*reason) == "" {
		return fmt.Errorf("usage: steward escalations dismiss <id> -reason <text>")
	}

	engine, cleanup, err := openEngine(*configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := engine.Dismiss(context.Background(), fs.Arg(0), *reason); err != nil {
		return err
	}
	fmt.Printf("Dismissed %s\n", fs.Arg(0))
	return nil
}

func runEscalationsResolve(args []string) error {
	fs := flag.NewFlagSet("escalations resolve", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a config file")
	outcomeID := fs.String("outcome", "", "outcome whose pending escalations to resolve (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*outcomeID) == "" {
		return fmt.Errorf("usage: steward escalations resolve -outcome <id>")
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

	outcome, err := store.Outcomes().Get(*outcomeID)
	if err != nil {
		return err
	}
	resolveCfg, err := autoresolve.ConfigForOutcome(outcome)
	if err != nil {
		return err
	}

	engine := escalation.NewEngine(store.Escalations(), logger)
	resolver := autoresolve.NewResolver(engine, autoresolve.NewHeuristicScorer(),
		cfg.AutoResolve.ScorerRateLimit, cfg.AutoResolve.ScorerBurst, logger)

	stats, err := resolver.ResolveAllPending(context.Background(), *outcomeID, resolveCfg)
	if err != nil {
		return err
	}
	fmt.Printf("Resolved %d of %d pending escalation(s) (mode %s, threshold %.2f)\n",
		stats.Resolved, stats.Total, resolveCfg.Mode, resolveCfg.ConfidenceThreshold)
	return nil
}

// openEngine wires a store-backed escalation engine for one-shot commands.
func openEngine(configPath string) (*escalation.Engine, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg)
	store, err := openStore(cfg)
	if err != nil {
		logger.Close()
		return nil, nil, err
	}
	cleanup := func() {
		store.Close()
		logger.Close()
	}
	return escalation.NewEngine(store.Escalations(), logger), cleanup, nil
}
