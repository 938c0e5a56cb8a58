package catalog

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"

	"mindia/internal/apperror"
)

func TestMapErrNoRowsBecomesNotFound(t *testing.T) {
	err := mapErr(pgx.ErrNoRows, "media")
	if apperror.CodeOf(err) != apperror.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMapErrNilPassesThrough(t *testing.T) {
	if mapErr(nil, "media") != nil {
		t.Fatalf("expected nil error to pass through unchanged")
	}
}

func TestMapErrOtherBecomesDatabase(t *testing.T) {
	err := mapErr(errors.New("connection reset"), "media")
	if apperror.CodeOf(err) != apperror.CodeDatabase {
		t.Fatalf("expected database error, got %v", err)
	}
}
