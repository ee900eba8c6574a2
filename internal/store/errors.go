package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorKind is the closed taxonomy from spec §7. Classify inspects a raw
// driver error and assigns it a kind, which in turn decides the
// propagation policy: retry, trip the breaker, or swallow and log.
type ErrorKind string

const (
	KindParse      ErrorKind = "ParseError"
	KindValidation ErrorKind = "ValidationError"
	KindAuth       ErrorKind = "AuthError"
	KindTransient  ErrorKind = "TransientBackendError"
	KindPermanent  ErrorKind = "PermanentBackendError"
	KindTimeout    ErrorKind = "TimeoutError"
	KindInternal   ErrorKind = "InternalError"
)

// Postgres SQLSTATE codes for auth and constraint failures, per
// SPEC_FULL.md §7's expansion (grounded on how kubernaut's datastorage
// layer distinguishes pgx error classes).
const (
	sqlstateInvalidPassword     = "28P01"
	sqlstateInvalidAuthSpec     = "28000"
	sqlstateForeignKeyViolation = "23503"
	sqlstateUniqueViolation     = "23505"
)

// Classify maps a raw backend error to its ErrorKind so the writer and
// circuit breaker can apply the right propagation policy.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlstateInvalidPassword, sqlstateInvalidAuthSpec:
			return KindAuth
		case sqlstateUniqueViolation:
			// Safe to treat as a no-op on retry (client-generated UUID
			// idempotence, per spec §9 "Retries and idempotence").
			return KindPermanent
		case sqlstateForeignKeyViolation:
			return KindPermanent
		}
		if pgErr.Code[:2] == "08" { // connection exception class
			return KindTransient
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, sql.ErrTxDone):
		return KindTransient
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return KindTimeout
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "eof"),
		strings.Contains(msg, "i/o timeout"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "database table is locked"),
		strings.Contains(msg, "busy"):
		return KindTransient
	case strings.Contains(msg, "password authentication failed"),
		strings.Contains(msg, "authentication"):
		return KindAuth
	case strings.Contains(msg, "no such table"), strings.Contains(msg, "no such column"),
		strings.Contains(msg, "syntax error"), strings.Contains(msg, "constraint failed"):
		return KindPermanent
	}
	return KindPermanent
}

// Retryable reports whether a write that failed with this ErrorKind
// should be retried (spec §4.3 "Write algorithm").
func (k ErrorKind) Retryable() bool {
	return k == KindTransient || k == KindTimeout
}
