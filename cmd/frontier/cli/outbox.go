package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/frontier-ops/frontier/internal/outbox"
)

// ProcessOnceOptions defines the flags of outbox process-once.
type ProcessOnceOptions struct {
	BatchSize  int
	MaxRetries int
	JSONOutput bool
}

// ProcessOnceSummary is the JSON output of outbox process-once.
type ProcessOnceSummary struct {
	Processed    int `json:"processed"`
	Failed       int `json:"failed"`
	DeadLettered int `json:"dead_lettered"`
	Skipped      int `json:"skipped"`
}

func (c *CLI) outboxProcessOnce(ctx context.Context, args []string) int {
	const name = "outbox process-once"
	opts := ProcessOnceOptions{BatchSize: c.deps.BatchSize, MaxRetries: c.deps.MaxRetries}
	fs := c.flagSet(name)
	fs.IntVar(&opts.BatchSize, "batch-size", opts.BatchSize, "rows to claim")
	fs.IntVar(&opts.MaxRetries, "max-retries", opts.MaxRetries, "failures before a row is dead-lettered")
	fs.BoolVar(&opts.JSONOutput, "json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	return c.ProcessOnce(ctx, opts)
}

// ProcessOnce runs a single batch and prints its result. Failed rows do not
// change the exit code; they are already on the retry path.
func (c *CLI) ProcessOnce(ctx context.Context, opts ProcessOnceOptions) int {
	const name = "outbox process-once"
	if opts.BatchSize < 0 || opts.MaxRetries < 0 {
		return c.usageError(name, "--batch-size and --max-retries must not be negative")
	}
	if c.deps.Processor == nil {
		return c.fail(name, errNotConfigured)
	}
	res, err := c.deps.Processor.ProcessBatch(ctx, outbox.BatchOptions{
		Now:        c.now(),
		BatchSize:  opts.BatchSize,
		MaxRetries: opts.MaxRetries,
	})
	if err != nil {
		return c.fail(name, err)
	}
	if opts.JSONOutput {
		return c.writeJSON(name, ProcessOnceSummary(res))
	}
	_, _ = fmt.Fprintf(c.stdout, "processed=%d failed=%d dead_lettered=%d skipped=%d\n",
		res.Processed, res.Failed, res.DeadLettered, res.Skipped)
	return ExitOK
}

func (c *CLI) outboxStats(ctx context.Context, args []string) int {
	const name = "outbox stats"
	var tenant optionalInt64
	var jsonOutput bool
	fs := c.flagSet(name)
	fs.Var(&tenant, "tenant", "restrict to one tenant")
	fs.BoolVar(&jsonOutput, "json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	if c.deps.Stats == nil {
		return c.fail(name, errNotConfigured)
	}
	stats, err := c.deps.Stats.Stats(ctx, tenant.value)
	if err != nil {
		return c.fail(name, err)
	}
	if jsonOutput {
		return c.writeJSON(name, stats)
	}
	_, _ = fmt.Fprintf(c.stdout, "pending=%d due=%d succeeded=%d dead_lettered=%d\n",
		stats.Pending, stats.Due, stats.Succeeded, stats.DeadLettered)
	if stats.OldestPendingAt != nil {
		_, _ = fmt.Fprintf(c.stdout, "oldest_pending_at=%s\n", stats.OldestPendingAt.UTC().Format("2006-01-02T15:04:05Z"))
	}
	return ExitOK
}

func (c *CLI) outboxList(ctx context.Context, args []string) int {
	const name = "outbox list"
	var (
		query      outbox.ListQuery
		processed  optionalBool
		jsonOutput bool
	)
	fs := c.flagSet(name)
	fs.Int64Var(&query.TenantID, "tenant", 0, "tenant id")
	fs.Var(&processed, "processed", "filter on the processed flag (true or false)")
	fs.IntVar(&query.Limit, "limit", outbox.DefaultListLimit, "rows per page")
	fs.IntVar(&query.Offset, "offset", 0, "rows to skip")
	fs.BoolVar(&jsonOutput, "json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	if query.TenantID <= 0 {
		return c.usageError(name, "--tenant is required and must be positive")
	}
	if c.deps.Events == nil {
		return c.fail(name, errNotConfigured)
	}
	query.Processed = processed.value
	page, err := c.deps.Events.List(ctx, query)
	if err != nil {
		return c.fail(name, err)
	}
	if jsonOutput {
		return c.writeJSON(name, page)
	}

	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tTYPE\tPROCESSED\tRETRIES\tCREATED_AT\tPROCESSED_AT")
	for _, evt := range page.Rows {
		processedAt := "-"
		if evt.ProcessedAt != nil {
			processedAt = evt.ProcessedAt.UTC().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%t\t%d\t%s\t%s\n", evt.ID, evt.EventType, evt.Processed, evt.RetryCount,
			evt.CreatedAt.UTC().Format(time.RFC3339), processedAt)
	}
	if err := tw.Flush(); err != nil {
		return c.fail(name, err)
	}
	return ExitOK
}
