// Command steward runs the outcome orchestration engine: a daemon serving
// the REST API, plus operational subcommands for orchestration, escalation
// triage, improvement analysis, convergence review, and database upkeep.
package main

import (
	"fmt"
	"os"
)

// Version information set via ldflags during build.
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "--version", "-v", "version":
		fmt.Printf("steward %s (%s, built %s)\n", version, commit, buildDate)
	case "--help", "-h", "help":
		printUsage()
	case "serve":
		err = runServeCommand(os.Args[2:])
	case "orchestrate":
		err = runOrchestrateCommand(os.Args[2:])
	case "escalations":
		err = runEscalationsCommand(os.Args[2:])
	case "outcomes":
		err = runOutcomesCommand(os.Args[2:])
	case "improve":
		err = runImproveCommand(os.Args[2:])
	case "review":
		err = runReviewCommand(os.Args[2:])
	case "db":
		err = runDBCommand(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`steward - outcome orchestration engine

Usage:
  steward <command> [flags]

Commands:
  serve         Run the API server and event bus
  orchestrate   Run one outcome's tasks to completion
  escalations   List, answer, or dismiss escalations
  outcomes      Create and manage outcomes and their tasks
  improve       Analyze escalation history for systemic fixes
  review        Run a convergence review cycle over an outcome
  db            Database upkeep (migrate, path, backup)
  version       Print version information

Run 'steward <command> -h' for command flags.
`)
}
