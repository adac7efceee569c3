package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	spnats "github.com/sprintpilot/sprintpilot/internal/adapter/nats"
	"github.com/sprintpilot/sprintpilot/internal/config"
	"github.com/sprintpilot/sprintpilot/internal/domain/target"
	"github.com/sprintpilot/sprintpilot/internal/port/storage"
	"github.com/sprintpilot/sprintpilot/internal/service"
)

// runAdmin dispatches admin subcommands (add-target, list-targets, list-sessions).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "add-target":
		return runAdminAddTarget(args[1:])
	case "list-targets":
		return runAdminListTargets(args[1:])
	case "list-sessions":
		return runAdminListSessions(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: sprintpilot admin <command> [options]

Commands:
  add-target       Register a target repository
  list-targets     List registered targets
  list-sessions    List sessions, optionally filtered by target
  help             Show this help message

Examples:
  sprintpilot admin add-target --id repo-a --repo-url https://github.com/acme/repo-a.git
  sprintpilot admin list-targets
  sprintpilot admin list-sessions --target repo-a
`)
}

func loadAdminStore() (storage.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()

	var queue *spnats.Queue
	if cfg.Storage.Backend == "nats" {
		queue, err = spnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("nats: %w", err)
		}
	}

	store, closeStore, err := openStore(ctx, cfg, queue)
	if err != nil {
		if queue != nil {
			_ = queue.Close()
		}
		return nil, nil, err
	}

	cleanup := func() {
		closeStore()
		if queue != nil {
			_ = queue.Close()
		}
	}
	return store, cleanup, nil
}

func runAdminAddTarget(args []string) error {
	fs := flag.NewFlagSet("add-target", flag.ContinueOnError)
	id := fs.String("id", "", "target identifier (required)")
	repoURL := fs.String("repo-url", "", "clone URL (required)")
	branch := fs.String("branch", "main", "default branch")
	provider := fs.String("provider", "github", "git provider")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("--id is required")
	}
	if *repoURL == "" {
		return fmt.Errorf("--repo-url is required")
	}

	store, cleanup, err := loadAdminStore()
	if err != nil {
		return err
	}
	defer cleanup()

	targets := service.NewTargetService(store)
	created, err := targets.Create(context.Background(), &target.Target{
		ID:            *id,
		RepoURL:       *repoURL,
		DefaultBranch: *branch,
		Provider:      *provider,
		Enabled:       true,
	})
	if err != nil {
		return fmt.Errorf("create target: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Target %s registered\n", created.ID)
	return nil
}

func runAdminListTargets(args []string) error {
	fs := flag.NewFlagSet("list-targets", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, cleanup, err := loadAdminStore()
	if err != nil {
		return err
	}
	defer cleanup()

	targets, err := service.NewTargetService(store).List(context.Background())
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tREPO\tBRANCH\tPROVIDER\tENABLED")
	for _, t := range targets {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", t.ID, t.RepoURL, t.DefaultBranch, t.Provider, t.Enabled)
	}
	return w.Flush()
}

func runAdminListSessions(args []string) error {
	fs := flag.NewFlagSet("list-sessions", flag.ContinueOnError)
	targetID := fs.String("target", "", "filter by target ID")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, cleanup, err := loadAdminStore()
	if err != nil {
		return err
	}
	defer cleanup()

	sessions, err := service.ListSessions(context.Background(), store, *targetID)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTARGET\tUNIT\tSTATE\tQUEUED\tPR")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.TargetID, s.Unit, s.State, s.QueuedAt.Format("2006-01-02 15:04:05"), s.PRURL)
	}
	return w.Flush()
}
