package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/steward/pkg/autoresolve"
	"github.com/odvcencio/steward/pkg/storage"
)

func runOutcomesCommand(args []string) error {
	sub := ""
	if len(args) > 0 {
		sub = strings.TrimSpace(args[0])
	}
	switch sub {
	case "create":
		return runOutcomesCreate(args[1:])
	case "list":
		return runOutcomesList(args[1:])
	case "show":
		return runOutcomesShow(args[1:])
	case "transition":
		return runOutcomesTransition(args[1:])
	case "policy":
		return runOutcomesPolicy(args[1:])
	case "add-task":
		return runOutcomesAddTask(args[1:])
	default:
		return fmt.Errorf("usage: steward outcomes <create|list|show|transition|policy|add-task> [flags]")
	}
}

func runOutcomesCreate(args []string) error {
	fs := flag.NewFlagSet("outcomes create", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a config file")
	name := fs.String("name", "", "outcome name (required)")
	parent := fs.String("parent", "", "parent outcome ID")
	mode := fs.String("mode", "", "auto-resolve mode: manual, semi-auto, or full-auto (default: config)")
	threshold := fs.Float64("threshold", -1, "auto-resolve confidence threshold in [0, 1] (default: config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*name) == "" {
		return fmt.Errorf("usage: steward outcomes create -name <name> [flags]")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	resolveMode := cfg.AutoResolve.Mode
	if strings.TrimSpace(*mode) != "" {
		if _, err := autoresolve.ParseMode(*mode); err != nil {
			return err
		}
		resolveMode = *mode
	}
	resolveThreshold := cfg.AutoResolve.ConfidenceThreshold
	if *threshold >= 0 {
		if *threshold > 1 {
			return fmt.Errorf("threshold %.2f out of range [0, 1]", *threshold)
		}
		resolveThreshold = *threshold
	}

	outcome := &storage.Outcome{
		ID:                   ulid.Make().String(),
		Name:                 *name,
		Status:               storage.OutcomeDraft,
		ParentID:             *parent,
		AutoResolveMode:      resolveMode,
		AutoResolveThreshold: resolveThreshold,
	}
	if err := store.Outcomes().Create(outcome); err != nil {
		return err
	}
	fmt.Printf("Created outcome %s (draft)\n", outcome.ID)
	fmt.Printf("Add tasks with: steward outcomes add-task -outcome %s -title <title>\n", outcome.ID)
	return nil
}

func runOutcomesList(args []string) error {
	fs := flag.NewFlagSet("outcomes list", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a config file")
	status := fs.String("status", "", "filter by status (draft, active, dormant, achieved, archived)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *status != "" && !storage.OutcomeStatus(*status).Valid() {
		return fmt.Errorf("unknown outcome status %q", *status)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	outcomes, err := store.Outcomes().List(storage.OutcomeStatus(*status))
	if err != nil {
		return err
	}
	if len(outcomes) == 0 {
		fmt.Println("No outcomes.")
		return nil
	}
	for _, o := range outcomes {
		ready := ""
		if o.InfrastructureReady {
			ready = "  infra-ready"
		}
		fmt.Printf("%s  [%s]%s  %s\n", o.ID, o.Status, ready, o.Name)
	}
	return nil
}

func runOutcomesShow(args []string) error {
	fs := flag.NewFlagSet("outcomes show", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: steward outcomes show <id>")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	outcome, err := store.Outcomes().Get(fs.Arg(0))
	if err != nil {
		return err
	}

	fmt.Printf("Outcome %s (%s)\n", outcome.ID, outcome.Status)
	fmt.Printf("  name: %s\n", outcome.Name)
	if outcome.ParentID != "" {
		fmt.Printf("  parent: %s\n", outcome.ParentID)
	}
	fmt.Printf("  infrastructure ready: %v\n", outcome.InfrastructureReady)
	fmt.Printf("  auto-resolve: %s (threshold %.2f)\n", outcome.AutoResolveMode, outcome.AutoResolveThreshold)

	counts, err := store.Tasks().CountByStatus(outcome.ID, "")
	if err != nil {
		return err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	fmt.Printf("  tasks: %d total", total)
	for _, status := range []storage.TaskStatus{storage.TaskPending, storage.TaskClaimed, storage.TaskRunning, storage.TaskCompleted, storage.TaskFailed} {
		if counts[status] > 0 {
			fmt.Printf(", %d %s", counts[status], status)
		}
	}
	fmt.Println()

	children, err := store.Outcomes().Children(outcome.ID)
	if err != nil {
		return err
	}
	for _, c := range children {
		fmt.Printf("  child: %s [%s] %s\n", c.ID, c.Status, c.Name)
	}
	return nil
}

func runOutcomesTransition(args []string) error {
	fs := flag.NewFlagSet("outcomes transition", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a config file")
	to := fs.String("to", "", "target status (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 || strings.TrimSpace(*to) == "" {
		return fmt.Errorf("usage: steward outcomes transition <id> -to <status>")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Outcomes().Transition(fs.Arg(0), storage.OutcomeStatus(*to)); err != nil {
		return err
	}
	fmt.Printf("Outcome %s is now %s\n", fs.Arg(0), *to)
	return nil
}

func runOutcomesPolicy(args []string) error {
	fs := flag.NewFlagSet("outcomes policy", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a config file")
	mode := fs.String("mode", "", "auto-resolve mode: manual, semi-auto, or full-auto (required)")
	threshold := fs.Float64("threshold", 0.8, "confidence threshold in [0, 1]")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 || strings.TrimSpace(*mode) == "" {
		return fmt.Errorf("usage: steward outcomes policy <id> -mode <mode> [-threshold <t>]")
	}
	if _, err := autoresolve.ParseMode(*mode); err != nil {
		return err
	}
	if *threshold < 0 || *threshold > 1 {
		return fmt.Errorf("threshold %.2f out of range [0, 1]", *threshold)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Outcomes().SetAutoResolvePolicy(fs.Arg(0), *mode, *threshold); err != nil {
		return err
	}
	fmt.Printf("Outcome %s auto-resolve policy: %s (threshold %.2f)\n", fs.Arg(0), *mode, *threshold)
	return nil
}

func runOutcomesAddTask(args []string) error {
	fs := flag.NewFlagSet("outcomes add-task", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a config file")
	outcomeID := fs.String("outcome", "", "outcome ID (required)")
	title := fs.String("title", "", "task title (required)")
	description := fs.String("description", "", "task description")
	phase := fs.String("phase", string(storage.PhaseExecution), "task phase: infrastructure or execution")
	priority := fs.Int("priority", 5, "priority, higher claims first")
	capabilities := fs.String("capabilities", "", "comma-separated required capabilities")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*outcomeID) == "" || strings.TrimSpace(*title) == "" {
		return fmt.Errorf("usage: steward outcomes add-task -outcome <id> -title <title> [flags]")
	}
	if !storage.TaskPhase(*phase).Valid() {
		return fmt.Errorf("unknown task phase %q", *phase)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// Creating against a missing outcome should say so rather than surface a
	// foreign key error.
	if _, err := store.Outcomes().Get(*outcomeID); err != nil {
		return err
	}

	var caps []string
	for _, c := range strings.Split(*capabilities, ",") {
		if c = strings.TrimSpace(c); c != "" {
			caps = append(caps, c)
		}
	}

	task := &storage.Task{
		ID:                   ulid.Make().String(),
		OutcomeID:            *outcomeID,
		Title:                *title,
		Description:          *description,
		Phase:                storage.TaskPhase(*phase),
		Status:               storage.TaskPending,
		Priority:             *priority,
		RequiredCapabilities: caps,
	}
	if err := store.Tasks().Create(task); err != nil {
		return err
	}
	fmt.Printf("Created %s task %s\n", task.Phase, task.ID)
	return nil
}
