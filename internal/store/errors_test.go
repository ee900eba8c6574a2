package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassify_Timeout(t *testing.T) {
	if got := Classify(context.DeadlineExceeded); got != KindTimeout {
		t.Errorf("expected KindTimeout, got %s", got)
	}
}

func TestClassify_ConnectionRefused(t *testing.T) {
	err := errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
	if got := Classify(err); got != KindTransient {
		t.Errorf("expected KindTransient, got %s", got)
	}
}

func TestClassify_PgUniqueViolation(t *testing.T) {
	err := &pgconn.PgError{Code: "23505", Message: "duplicate key"}
	if got := Classify(err); got != KindPermanent {
		t.Errorf("expected KindPermanent for unique violation, got %s", got)
	}
}

func TestClassify_PgAuthFailure(t *testing.T) {
	err := &pgconn.PgError{Code: "28P01", Message: "password authentication failed"}
	if got := Classify(err); got != KindAuth {
		t.Errorf("expected KindAuth, got %s", got)
	}
}

func TestClassify_PgConnectionException(t *testing.T) {
	err := &pgconn.PgError{Code: "08006", Message: "connection failure"}
	if got := Classify(err); got != KindTransient {
		t.Errorf("expected KindTransient for connection exception class, got %s", got)
	}
}

func TestRetryable(t *testing.T) {
	cases := map[ErrorKind]bool{
		KindTransient:  true,
		KindTimeout:    true,
		KindAuth:       false,
		KindPermanent:  false,
		KindValidation: false,
	}
	for kind, want := range cases {
		if got := kind.Retryable(); got != want {
			t.Errorf("%s.Retryable() = %v, want %v", kind, got, want)
		}
	}
}
