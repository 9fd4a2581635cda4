package outbox

import (
	"fmt"
	"time"
)

const (
	// MaxRetryWait caps the exponential backoff.
	MaxRetryWait = 60 * time.Second
	// retryWaitCapShift is the smallest retry count whose 2^n seconds
	// reaches MaxRetryWait.
	retryWaitCapShift = 6
)

// RetryWait returns how long after created_at a row with retryCount failed
// attempts becomes due: 0 when retryCount <= 0, else min(60s, 2^retryCount s).
func RetryWait(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	if retryCount >= retryWaitCapShift {
		return MaxRetryWait
	}
	wait := time.Duration(1<<uint(retryCount)) * time.Second
	if wait > MaxRetryWait {
		return MaxRetryWait
	}
	return wait
}

// IsDue reports whether a row is eligible for processing at now. Backoff is
// anchored on created_at. Times are compared in UTC; time.Time values read
// from timestamp-without-time-zone columns already carry UTC.
func IsDue(createdAt time.Time, retryCount int, now time.Time) bool {
	dueAt := createdAt.UTC().Add(RetryWait(retryCount))
	return !now.UTC().Before(dueAt)
}

// DueAt returns the instant a row becomes due.
func DueAt(createdAt time.Time, retryCount int) time.Time {
	return createdAt.UTC().Add(RetryWait(retryCount))
}

// dueAtSQL renders the same schedule as RetryWait for use inside the claim
// query, so the due filter is applied before LIMIT.
var dueAtSQL = fmt.Sprintf(
	"created_at + make_interval(secs => CASE WHEN retry_count <= 0 THEN 0 WHEN retry_count >= %d THEN %d ELSE power(2, retry_count) END)",
	retryWaitCapShift, int(MaxRetryWait/time.Second),
)
