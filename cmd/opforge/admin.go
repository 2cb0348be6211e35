package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/halcyonsec/OpForge/internal/adapter/postgres"
	"github.com/halcyonsec/OpForge/internal/config"
	domainrun "github.com/halcyonsec/OpForge/internal/domain/run"
	"github.com/halcyonsec/OpForge/internal/port/database"
)

// runAdmin dispatches `opforge admin <command>`. Admin commands read
// the same config hierarchy as the server (OPFORGE_CONFIG, env vars)
// and run to completion.
func runAdmin(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: opforge admin <runs|prune|hash-key|migrate>")
	}
	switch args[0] {
	case "runs":
		return adminRuns(args[1:])
	case "prune":
		return adminPrune(args[1:])
	case "hash-key":
		return adminHashKey()
	case "migrate":
		return adminMigrate(args[1:])
	default:
		return fmt.Errorf("unknown admin command %q", args[0])
	}
}

func adminRuns(args []string) error {
	fs := flag.NewFlagSet("admin runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "maximum runs to list")
	seqName := fs.String("sequence", "", "filter by sequence name")
	status := fs.String("status", "", "filter by run status")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	store := postgres.NewStore(pool)
	runs, err := store.ListRuns(ctx, database.RunFilter{
		Sequence: *seqName,
		Status:   domainrun.Status(*status),
		Limit:    *limit,
	})
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSEQUENCE\tTARGET\tSTATUS\tSTEPS\tFACTS\tSTARTED\tDURATION")
	for _, r := range runs {
		duration := "-"
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID, r.Sequence, r.Target.Name, r.Status, r.TotalSteps,
			r.FactsCollected, r.StartedAt.Format(time.RFC3339), duration)
	}
	return tw.Flush()
}

func adminPrune(args []string) error {
	fs := flag.NewFlagSet("admin prune", flag.ContinueOnError)
	keepDays := fs.Int("keep-days", 30, "delete terminal runs older than this many days")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *keepDays < 1 {
		return errors.New("-keep-days must be at least 1")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	cutoff := time.Now().UTC().AddDate(0, 0, -*keepDays)
	runsPruned, err := postgres.NewStore(pool).PruneRuns(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}
	eventsPruned, err := postgres.NewEventStore(pool).Prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune events: %w", err)
	}

	fmt.Printf("pruned %d runs and %d events older than %s\n",
		runsPruned, eventsPruned, cutoff.Format(time.RFC3339))
	return nil
}

// adminHashKey reads an API key without echo and prints its bcrypt
// hash, for pasting into auth.api_key_hash.
func adminHashKey() error {
	var key []byte

	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, "API key: ")
		entered, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		key = entered
	} else {
		// Piped input, e.g. from a secret manager.
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read key: %w", err)
		}
		key = []byte(strings.TrimSpace(line))
	}

	if len(key) == 0 {
		return errors.New("empty key")
	}

	hash, err := bcrypt.GenerateFromPassword(key, bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash key: %w", err)
	}
	fmt.Println(string(hash))
	return nil
}

func adminMigrate(args []string) error {
	fs := flag.NewFlagSet("admin migrate", flag.ContinueOnError)
	rollback := fs.Int("rollback", 0, "roll back this many migrations instead of applying")
	version := fs.Bool("version", false, "print the current migration version")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx := context.Background()
	switch {
	case *version:
		v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		fmt.Printf("migration version: %d\n", v)
	case *rollback > 0:
		if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *rollback); err != nil {
			return err
		}
		fmt.Printf("rolled back %d migration(s)\n", *rollback)
	default:
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return err
		}
		fmt.Println("migrations applied")
	}
	return nil
}
