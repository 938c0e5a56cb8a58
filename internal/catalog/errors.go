package catalog

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"mindia/internal/apperror"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint violation.
const uniqueViolation = "23505"

// mapErr translates a pgx/pgconn error into the taxonomy apperror. resource
// names the entity involved, used to build a readable NotFound message.
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
