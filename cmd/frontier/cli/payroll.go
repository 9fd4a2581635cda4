package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/frontier-ops/frontier/internal/costing"
	"github.com/frontier-ops/frontier/internal/timeentries"
)

// RunOptions identifies a payroll run.
type RunOptions struct {
	TenantID   int64
	RunID      string
	JSONOutput bool
}

func (c *CLI) parseRunOptions(name string, args []string) (RunOptions, int, bool) {
	var opts RunOptions
	fs := c.flagSet(name)
	fs.Int64Var(&opts.TenantID, "tenant", 0, "tenant id")
	fs.StringVar(&opts.RunID, "run", "", "payroll run id")
	fs.BoolVar(&opts.JSONOutput, "json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return opts, ExitUsage, false
	}
	opts.RunID = strings.TrimSpace(opts.RunID)
	if opts.TenantID <= 0 || opts.RunID == "" {
		return opts, c.usageError(name, "--tenant and --run are required"), false
	}
	return opts, ExitOK, true
}

func (c *CLI) payrollPostRun(ctx context.Context, args []string) int {
	const name = "payroll post-run"
	opts, code, ok := c.parseRunOptions(name, args)
	if !ok {
		return code
	}
	if c.deps.Runs == nil {
		return c.fail(name, errNotConfigured)
	}
	res, err := c.deps.Runs.PostRun(ctx, opts.TenantID, opts.RunID, c.now())
	if err != nil {
		return c.fail(name, err)
	}
	if opts.JSONOutput {
		return c.writeJSON(name, res)
	}
	if res.AlreadyPosted {
		_, _ = fmt.Fprintf(c.stdout, "run %s already posted\n", opts.RunID)
		return ExitOK
	}
	_, _ = fmt.Fprintf(c.stdout, "run %s posted, event %d enqueued\n", opts.RunID, res.EventID)
	return ExitOK
}

func (c *CLI) payrollPostCosts(ctx context.Context, args []string) int {
	const name = "payroll post-costs"
	opts, code, ok := c.parseRunOptions(name, args)
	if !ok {
		return code
	}
	if c.deps.Costs == nil {
		return c.fail(name, errNotConfigured)
	}
	res, err := c.deps.Costs.PostLaborCosts(ctx, opts.TenantID, opts.RunID)
	if err != nil {
		return c.fail(name, err)
	}
	if opts.JSONOutput {
		return c.writeJSON(name, res)
	}
	_, _ = fmt.Fprintf(c.stdout, "mode=%s posted=%d skipped=%d missing_attribution=%d\n",
		res.Mode, res.Posted, res.Skipped, res.MissingAttribution)
	return ExitOK
}

// ReconcileCommand prints the reconciliation of a run. A mismatch exits
// with ExitMismatch.
func (c *CLI) ReconcileCommand(ctx context.Context, opts RunOptions) int {
	const name = "payroll reconcile"
	if c.deps.Reconciler == nil {
		return c.fail(name, errNotConfigured)
	}
	rec, err := c.deps.Reconciler.Reconcile(ctx, opts.TenantID, opts.RunID)
	mismatch := errors.Is(err, costing.ErrReconciliationMismatch)
	if err != nil && !mismatch {
		return c.fail(name, err)
	}
	if opts.JSONOutput {
		if code := c.writeJSON(name, rec); code != ExitOK {
			return code
		}
	} else {
		_, _ = fmt.Fprintf(c.stdout, "payroll_total_cents=%d ledger_total_cents=%d delta_cents=%d\n",
			rec.PayrollTotalCents, rec.LedgerTotalCents, rec.DeltaCents)
	}
	if mismatch {
		return ExitMismatch
	}
	return ExitOK
}

func (c *CLI) payrollReconcile(ctx context.Context, args []string) int {
	opts, code, ok := c.parseRunOptions("payroll reconcile", args)
	if !ok {
		return code
	}
	return c.ReconcileCommand(ctx, opts)
}

func (c *CLI) timeClockOut(ctx context.Context, args []string) int {
	const name = "time clock-out"
	var (
		tenantID, employeeID int64
		at                   string
		jsonOutput           bool
	)
	fs := c.flagSet(name)
	fs.Int64Var(&tenantID, "tenant", 0, "tenant id")
	fs.Int64Var(&employeeID, "employee", 0, "employee id")
	fs.StringVar(&at, "at", "", "clock-out instant (default now)")
	fs.BoolVar(&jsonOutput, "json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	if tenantID <= 0 || employeeID <= 0 {
		return c.usageError(name, "--tenant and --employee are required")
	}
	when := c.now()
	if at != "" {
		parsed, err := parseInstant(at)
		if err != nil {
			return c.usageError(name, err.Error())
		}
		when = parsed
	}
	if c.deps.Clock == nil {
		return c.fail(name, errNotConfigured)
	}
	entry, err := c.deps.Clock.ClockOut(ctx, tenantID, employeeID, when)
	if errors.Is(err, timeentries.ErrNoActiveEntry) {
		_, _ = fmt.Fprintf(c.stderr, "%s: employee %d has no active time entry\n", name, employeeID)
		return ExitError
	}
	if err != nil {
		return c.fail(name, err)
	}
	if jsonOutput {
		return c.writeJSON(name, entry)
	}
	_, _ = fmt.Fprintf(c.stdout, "entry %s closed\n", entry.ID)
	return ExitOK
}
