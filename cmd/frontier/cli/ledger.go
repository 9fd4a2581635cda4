package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/frontier-ops/frontier/internal/ledger"
)

// TotalsOptions defines the flags of ledger totals.
type TotalsOptions struct {
	TenantID   int64
	From       string
	To         string
	JobID      *int64
	EmployeeID *int64
	JSONOutput bool
}

func (c *CLI) ledgerTotals(ctx context.Context, args []string) int {
	var (
		opts          TotalsOptions
		job, employee optionalInt64
	)
	fs := c.flagSet("ledger totals")
	fs.Int64Var(&opts.TenantID, "tenant", 0, "tenant id")
	fs.StringVar(&opts.From, "from", "", "range start, inclusive (RFC3339 or YYYY-MM-DD)")
	fs.StringVar(&opts.To, "to", "", "range end, exclusive (RFC3339 or YYYY-MM-DD)")
	fs.Var(&job, "job", "restrict to one job")
	fs.Var(&employee, "employee", "restrict to one employee")
	fs.BoolVar(&opts.JSONOutput, "json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	opts.JobID = job.value
	opts.EmployeeID = employee.value
	return c.TotalsCommand(ctx, opts)
}

// TotalsCommand prints the grouped ledger rollup for a tenant and range.
func (c *CLI) TotalsCommand(ctx context.Context, opts TotalsOptions) int {
	const name = "ledger totals"
	if opts.TenantID <= 0 {
		return c.usageError(name, "--tenant is required and must be positive")
	}
	from, err := parseInstant(opts.From)
	if err != nil {
		return c.usageError(name, "--from: "+err.Error())
	}
	to, err := parseInstant(opts.To)
	if err != nil {
		return c.usageError(name, "--to: "+err.Error())
	}
	if c.deps.Totals == nil {
		return c.fail(name, errNotConfigured)
	}
	totals, err := c.deps.Totals.Totals(ctx, ledger.TotalsQuery{
		TenantID:   opts.TenantID,
		From:       from,
		To:         to,
		JobID:      opts.JobID,
		EmployeeID: opts.EmployeeID,
	})
	if err != nil {
		return c.fail(name, err)
	}
	if opts.JSONOutput {
		return c.writeJSON(name, totals)
	}

	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "JOB\tSCOPE\tEMPLOYEE\tROWS\tTOTAL_CENTS")
	for _, g := range totals.Groups {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\n", g.JobID, optional(g.ScopeID), optional(g.EmployeeID), g.RowCount, g.TotalCostCents)
	}
	_, _ = fmt.Fprintf(tw, "\t\t\t\t%d\n", totals.GrandTotalCents())
	if err := tw.Flush(); err != nil {
		return c.fail(name, err)
	}
	return ExitOK
}

func optional(v *int64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

func (c *CLI) ledgerPostings(ctx context.Context, args []string) int {
	const name = "ledger postings"
	var (
		query      ledger.JobLedgerQuery
		scope      optionalInt64
		jsonOutput bool
	)
	fs := c.flagSet(name)
	fs.Int64Var(&query.TenantID, "tenant", 0, "tenant id")
	fs.Int64Var(&query.JobID, "job", 0, "job id")
	fs.Var(&scope, "scope", "restrict to one scope")
	fs.IntVar(&query.Limit, "limit", ledger.DefaultListLimit, "rows per page")
	fs.IntVar(&query.Offset, "offset", 0, "rows to skip")
	fs.BoolVar(&jsonOutput, "json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	if query.TenantID <= 0 || query.JobID <= 0 {
		return c.usageError(name, "--tenant and --job are required and must be positive")
	}
	if c.deps.Postings == nil {
		return c.fail(name, errNotConfigured)
	}
	query.ScopeID = scope.value
	page, err := c.deps.Postings.ListByJob(ctx, query)
	if err != nil {
		return c.fail(name, err)
	}
	if jsonOutput {
		return c.writeJSON(name, page)
	}

	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "POSTED\tSCOPE\tEMPLOYEE\tREFERENCE\tQUANTITY\tTOTAL_CENTS")
	for _, e := range page.Rows {
		quantity := "-"
		if e.Quantity.Valid {
			quantity = e.Quantity.Decimal.String()
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n", e.PostingDate.UTC().Format(time.RFC3339),
			optional(e.ScopeID), optional(e.EmployeeID), e.SourceReferenceID, quantity, e.TotalCostCents)
	}
	if err := tw.Flush(); err != nil {
		return c.fail(name, err)
	}
	return ExitOK
}
