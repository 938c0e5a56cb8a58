package taskqueue

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"mindia/internal/apperror"
)

const uniqueViolation = "23505"

func mapErr(err error, resource string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.NotFound(resource + " not found")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return apperror.Conflict(resource + " already exists").WithDetail(pgErr.ConstraintName)
	}
	return apperror.Database(err).WithDetail("querying " + resource)
}
