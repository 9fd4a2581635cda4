package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/frontier-ops/frontier/internal/costing"
	"github.com/frontier-ops/frontier/internal/ledger"
	"github.com/frontier-ops/frontier/internal/outbox"
	"github.com/frontier-ops/frontier/internal/payroll"
	"github.com/frontier-ops/frontier/internal/timeentries"
)

// Exit codes shared by every command.
const (
	ExitOK       = 0
	ExitError    = 1
	ExitUsage    = 2
	ExitMismatch = 10
)

// Migrator applies the embedded schema.
type Migrator func(ctx context.Context) error

// BatchRunner processes one outbox batch; *outbox.Processor satisfies it.
type BatchRunner interface {
	ProcessBatch(ctx context.Context, opts outbox.BatchOptions) (outbox.Result, error)
}

// StatsSource reports outbox queue depth.
type StatsSource interface {
	Stats(ctx context.Context, tenantID *int64) (outbox.Stats, error)
}

// EventLister pages through outbox rows.
type EventLister interface {
	List(ctx context.Context, query outbox.ListQuery) (outbox.EventPage, error)
}

// PostingsSource pages through one job's ledger postings.
type PostingsSource interface {
	ListByJob(ctx context.Context, query ledger.JobLedgerQuery) (ledger.JobLedger, error)
}

// CostPoster posts labor costs for a run in its own transaction.
type CostPoster interface {
	PostLaborCosts(ctx context.Context, tenantID int64, runID string) (costing.PostResult, error)
}

// Reconciler compares payroll and ledger totals for a run.
type Reconciler interface {
	Reconcile(ctx context.Context, tenantID int64, runID string) (costing.Reconciliation, error)
}

// TotalsSource serves ledger rollups.
type TotalsSource interface {
	Totals(ctx context.Context, query ledger.TotalsQuery) (ledger.Totals, error)
}

// RunPoster moves a payroll run to POSTED.
type RunPoster interface {
	PostRun(ctx context.Context, tenantID int64, runID string, at time.Time) (payroll.PostRunResult, error)
}

// ClockOuter closes an employee's active time entry.
type ClockOuter interface {
	ClockOut(ctx context.Context, tenantID, employeeID int64, at time.Time) (timeentries.Entry, error)
}

// Deps are the services the commands drive. Missing deps make their command
// fail with a configuration error.
type Deps struct {
	Migrate    Migrator
	Processor  BatchRunner
	Stats      StatsSource
	Events     EventLister
	Costs      CostPoster
	Reconciler Reconciler
	Totals     TotalsSource
	Postings   PostingsSource
	Runs       RunPoster
	Clock      ClockOuter
	// BatchSize and MaxRetries seed the outbox process-once defaults.
	BatchSize  int
	MaxRetries int
}

// CLI dispatches operator subcommands.
type CLI struct {
	deps   Deps
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

// New constructs the CLI. Nil writers default to the process streams.
func New(deps Deps, stdout, stderr io.Writer) *CLI {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return &CLI{deps: deps, stdout: stdout, stderr: stderr, now: func() time.Time { return time.Now().UTC() }}
}

// WithNow overrides the clock used by producer commands.
func (c *CLI) WithNow(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

const usage = `usage: frontier <command> [flags]

commands:
  migrate                 apply the embedded schema
  outbox process-once     process one batch of due events
  outbox stats            print outbox queue depth
  outbox list             page through outbox rows, dead letters included
  payroll post-run        mark a payroll run POSTED and enqueue its event
  payroll post-costs      post labor costs for a run
  payroll reconcile       compare payroll gross with posted labor cost
  time clock-out          close an employee's active time entry
  ledger totals           print grouped job-cost totals
  ledger postings         page through one job's ledger postings
`

// Run executes args and returns the process exit code.
func (c *CLI) Run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(c.stderr, usage)
		return ExitUsage
	}
	cmd, rest := args[0], args[1:]
	if cmd == "migrate" {
		return c.migrate(ctx, rest)
	}
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		_, _ = fmt.Fprint(c.stdout, usage)
		return ExitOK
	}
	if len(rest) == 0 {
		_, _ = fmt.Fprint(c.stderr, usage)
		return ExitUsage
	}
	sub, rest := rest[0], rest[1:]
	switch cmd + " " + sub {
	case "outbox process-once":
		return c.outboxProcessOnce(ctx, rest)
	case "outbox stats":
		return c.outboxStats(ctx, rest)
	case "outbox list":
		return c.outboxList(ctx, rest)
	case "payroll post-run":
		return c.payrollPostRun(ctx, rest)
	case "payroll post-costs":
		return c.payrollPostCosts(ctx, rest)
	case "payroll reconcile":
		return c.payrollReconcile(ctx, rest)
	case "time clock-out":
		return c.timeClockOut(ctx, rest)
	case "ledger totals":
		return c.ledgerTotals(ctx, rest)
	case "ledger postings":
		return c.ledgerPostings(ctx, rest)
	}
	_, _ = fmt.Fprintf(c.stderr, "frontier: unknown command %q\n\n%s", cmd+" "+sub, usage)
	return ExitUsage
}

func (c *CLI) migrate(ctx context.Context, args []string) int {
	fs := c.flagSet("migrate")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	if c.deps.Migrate == nil {
		return c.fail("migrate", errNotConfigured)
	}
	if err := c.deps.Migrate(ctx); err != nil {
		return c.fail("migrate", err)
	}
	_, _ = fmt.Fprintln(c.stdout, "migrations applied")
	return ExitOK
}

var errNotConfigured = errors.New("not configured")

func (c *CLI) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *CLI) fail(name string, err error) int {
	_, _ = fmt.Fprintf(c.stderr, "%s: %v\n", name, err)
	return ExitError
}

func (c *CLI) usageError(name, msg string) int {
	_, _ = fmt.Fprintf(c.stderr, "%s: %s\n", name, msg)
	return ExitUsage
}

func (c *CLI) writeJSON(name string, v any) int {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_, _ = fmt.Fprintf(c.stderr, "%s: encode json: %v\n", name, err)
		return ExitError
	}
	return ExitOK
}

// parseInstant accepts RFC3339 or a bare YYYY-MM-DD date (midnight UTC).
func parseInstant(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (expected RFC3339 or YYYY-MM-DD)", raw)
	}
	return t, nil
}

// optionalInt64 is a flag.Value that records whether it was set.
type optionalInt64 struct {
	value *int64
}

func (o *optionalInt64) String() string {
	if o == nil || o.value == nil {
		return ""
	}
	return fmt.Sprint(*o.value)
}

func (o *optionalInt64) Set(s string) error {
	var v int64
	if _, err := fmt.Sscan(s, &v); err != nil {
		return fmt.Errorf("invalid integer %q", s)
	}
	o.value = &v
	return nil
}

// optionalBool is a flag.Value that records whether it was set.
type optionalBool struct {
	value *bool
}

func (o *optionalBool) String() string {
	if o == nil || o.value == nil {
		return ""
	}
	return fmt.Sprint(*o.value)
}

func (o *optionalBool) Set(s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("invalid boolean %q", s)
	}
	o.value = &v
	return nil
}
