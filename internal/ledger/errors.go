package ledger

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/frontier-ops/frontier/internal/platform/db"
)

var (
	// ErrDuplicatePosting is returned when the posting key already exists.
	ErrDuplicatePosting = errors.New("ledger: posting already exists")
	// ErrInvalidEntry is returned when an entry fails validation before insert.
	ErrInvalidEntry = errors.New("ledger: invalid entry")
	// ErrInvalidQuery is returned when a totals or listing query fails
	// validation.
	ErrInvalidQuery = errors.New("ledger: invalid query")
)

// immutableMessage is raised by the job_cost_ledger mutation triggers.
const immutableMessage = "job_cost_ledger is immutable"

// IsImmutabilityViolation reports whether err was raised by the ledger's
// update, delete or truncate guard.
func IsImmutabilityViolation(err error) bool {
	if !db.IsRaisedException(err) {
		return false
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return strings.Contains(pgErr.Message, immutableMessage)
}
