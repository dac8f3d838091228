package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/odyssey-erp/odyssey-procure/internal/app"
	"github.com/odyssey-erp/odyssey-procure/internal/platform/db"
	"github.com/odyssey-erp/odyssey-procure/internal/sequence"
)

const usage = `usage:
  odyssey jobs escalation-scan
  odyssey jobs stats
  odyssey jobs scheduled [--size N]
  odyssey sequence preview --tenant ID --kind requisition|po [--json]`

// Run dispatches a subcommand and returns the process exit code.
func Run(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		_, _ = fmt.Fprintln(stderr, usage)
		return 2
	}
	switch args[0] {
	case "jobs":
		return runJobs(ctx, cfg, args[1], args[2:], stdout, stderr)
	case "sequence":
		if args[1] != "preview" {
			break
		}
		opts, err := parsePreviewFlags(args[2:], stdout, stderr)
		if err != nil {
			return 2
		}
		pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			return 1
		}
		defer pool.Close()
		service := sequence.NewService(sequence.NewRepository(pool), sequence.ServiceConfig{Logger: logger})
		return PreviewCommand(ctx, service, opts)
	}
	_, _ = fmt.Fprintln(stderr, usage)
	return 2
}

func parsePreviewFlags(args []string, stdout, stderr io.Writer) (SequencePreviewOptions, error) {
	opts := SequencePreviewOptions{Stdout: stdout, Stderr: stderr}
	fs := flag.NewFlagSet("sequence preview", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.TenantID, "tenant", "", "tenant id")
	fs.StringVar(&opts.Kind, "kind", "", "sequence kind: requisition or po")
	fs.BoolVar(&opts.JSONOutput, "json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return SequencePreviewOptions{}, err
	}
	return opts, nil
}

func runJobs(ctx context.Context, cfg *app.Config, command string, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("jobs "+command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	size := fs.Int("size", 10, "number of scheduled tasks to list")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	jobsCLI, err := NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "jobs: %v\n", err)
		return 1
	}
	defer func() { _ = jobsCLI.Close() }()

	switch command {
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs stats: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	case "scheduled":
		tasks, err := jobsCLI.ListScheduled(ctx, *size)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs scheduled: %v\n", err)
			return 1
		}
		for _, task := range tasks {
			_, _ = fmt.Fprintf(stdout, "%s %s next=%s\n", task.ID, task.Type, task.NextProcessAt.Format("2006-01-02T15:04:05Z07:00"))
		}
	default:
		info, err := jobsCLI.Trigger(ctx, command)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	}
	return 0
}
