package db

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeUniqueViolation   = "23505"
	codeCheckViolation    = "23514"
	codeRaiseException    = "P0001"
	classConnection       = "08"
	classOperatorIntv     = "57"
	classInsufficientRsrc = "53"
)

// IsUniqueViolation reports whether err is a Postgres unique_violation.
func IsUniqueViolation(err error) bool {
	return pgCode(err) == codeUniqueViolation
}

// IsCheckViolation reports whether err is a Postgres check_violation.
func IsCheckViolation(err error) bool {
	return pgCode(err) == codeCheckViolation
}

// IsRaisedException reports whether err was raised by a PL/pgSQL RAISE
// EXCEPTION without an explicit code, as the ledger triggers do.
func IsRaisedException(err error) bool {
	return pgCode(err) == codeRaiseException
}

// IsConnectionError reports failures that a fresh connection may cure:
// connection exceptions, admin shutdowns, resource exhaustion and network
// errors surfaced before a server response.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) < 2 {
			return false
		}
		switch pgErr.Code[:2] {
		case classConnection, classOperatorIntv, classInsufficientRsrc:
			return true
		}
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
