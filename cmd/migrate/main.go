package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/oms-saga/internal/storage/postgres"
)

const defaultTimeout = 30 * time.Second

type options struct {
	direction string
	steps     int
	dsn       string
	sets      []postgres.MigrationSet
}

func parseOptions(args []string, lookup func(string) string, output io.Writer) (options, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(output)

	var (
		opts    options
		service string
	)
	fs.StringVar(&opts.direction, "direction", "up", "migration direction: up|down|status")
	fs.IntVar(&opts.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: OMS_POSTGRES_DSN)")
	fs.StringVar(&service, "service", "all", "migration set: inventory|payment|orders|all")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.direction = strings.ToLower(strings.TrimSpace(opts.direction))
	switch opts.direction {
	case "up", "down", "status":
	default:
		return options{}, fmt.Errorf("unsupported direction: %s (use up|down|status)", opts.direction)
	}

	if strings.TrimSpace(opts.dsn) == "" {
		opts.dsn = strings.TrimSpace(lookup("OMS_POSTGRES_DSN"))
	}
	if opts.dsn == "" {
		return options{}, fmt.Errorf("OMS_POSTGRES_DSN (or -dsn) is required")
	}

	if strings.EqualFold(strings.TrimSpace(service), "all") {
		opts.sets = []postgres.MigrationSet{postgres.InventoryMigrations, postgres.PaymentMigrations, postgres.OrdersMigrations}
	} else {
		set, err := postgres.MigrationSetByName(service)
		if err != nil {
			return options{}, err
		}
		opts.sets = []postgres.MigrationSet{set}
	}
	if opts.direction == "down" && len(opts.sets) > 1 {
		return options{}, fmt.Errorf("down requires a single -service")
	}
	return opts, nil
}

// migrator покрывает операции Store, нужные утилите.
type migrator interface {
	MigrateUp(ctx context.Context, set postgres.MigrationSet, steps int) error
	MigrateDown(ctx context.Context, set postgres.MigrationSet, steps int) error
	MigrationStatus(ctx context.Context, set postgres.MigrationSet) (int64, int, error)
}

func execute(ctx context.Context, store migrator, opts options, out io.Writer) error {
	for _, set := range opts.sets {
		switch opts.direction {
		case "up":
			if err := store.MigrateUp(ctx, set, opts.steps); err != nil {
				return fmt.Errorf("%s: migrate up failed: %w", set.Name, err)
			}
		case "down":
			if err := store.MigrateDown(ctx, set, opts.steps); err != nil {
				return fmt.Errorf("%s: migrate down failed: %w", set.Name, err)
			}
		}

		version, count, err := store.MigrationStatus(ctx, set)
		if err != nil {
			return fmt.Errorf("%s: migration status failed: %w", set.Name, err)
		}
		_, _ = fmt.Fprintf(out, "%s: migrate %s ok: version=%d applied=%d\n", set.Name, opts.direction, version, count)
	}
	return nil
}

func run(args []string, lookup func(string) string, out, errOut io.Writer) error {
	opts, err := parseOptions(args, lookup, errOut)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	return execute(ctx, store, opts, out)
}

func main() {
	if err := run(os.Args[1:], os.Getenv, os.Stdout, os.Stderr); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
