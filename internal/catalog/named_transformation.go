package catalog

import (
	"context"

	"mindia/internal/apperror"
	"mindia/internal/models"
)

// CreateNamedTransformation registers a new preset, rejecting a duplicate
// (tenant_id, name) pair via the table's primary key.
func (s *Store) CreateNamedTransformation(ctx context.Context, nt models.NamedTransformation) (models.NamedTransformation, error) {
	const q = `INSERT INTO named_transformations (tenant_id, name, operations) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, q, nt.TenantID, nt.Name, nt.Operations); err != nil {
		return models.NamedTransformation{}, mapErr(err, "named transformation")
	}
	return nt, nil
}

// GetNamedTransformation fetches one preset by name, scoped to tenantID.
func (s *Store) GetNamedTransformation(ctx context.Context, tenantID, name string) (models.NamedTransformation, error) {
	const q = `SELECT tenant_id, name, operations FROM named_transformations WHERE tenant_id = $1 AND name = $2`
	var nt models.NamedTransformation
	err := s.pool.QueryRow(ctx, q, tenantID, name).Scan(&nt.TenantID, &nt.Name, &nt.Operations)
	if err != nil {
		return models.NamedTransformation{}, mapErr(err, "named transformation")
	}
	return nt, nil
}

// ListNamedTransformations returns every preset belonging to tenantID.
func (s *Store) ListNamedTransformations(ctx context.Context, tenantID string) ([]models.NamedTransformation, error) {
	const q = `SELECT tenant_id, name, operations FROM named_transformations WHERE tenant_id = $1 ORDER BY name`
	rows, err := s.pool.Query(ctx, q, tenantID)
	if err != nil {
		return nil, mapErr(err, "named transformation")
	}
	defer rows.Close()

	var out []models.NamedTransformation
	for rows.Next() {
		var nt models.NamedTransformation
		if err := rows.Scan(&nt.TenantID, &nt.Name, &nt.Operations); err != nil {
			return nil, mapErr(err, "named transformation")
		}
		out = append(out, nt)
	}
	return out, mapErr(rows.Err(), "named transformation")
}

// UpdateNamedTransformation replaces a preset's operations string in place,
// keeping its (tenant_id, name) identity stable so callers already holding
// the preset name don't need to handle a rename.
func (s *Store) UpdateNamedTransformation(ctx context.Context, tenantID, name, operations string) error {
	const q = `UPDATE named_transformations SET operations = $3 WHERE tenant_id = $1 AND name = $2`
	tag, err := s.pool.Exec(ctx, q, tenantID, name, operations)
	if err != nil {
		return mapErr(err, "named transformation")
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("named transformation not found")
	}
	return nil
}

// DeleteNamedTransformation removes a preset.
func (s *Store) DeleteNamedTransformation(ctx context.Context, tenantID, name string) error {
	const q = `DELETE FROM named_transformations WHERE tenant_id = $1 AND name = $2`
	tag, err := s.pool.Exec(ctx, q, tenantID, name)
	if err != nil {
		return mapErr(err, "named transformation")
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("named transformation not found")
	}
	return nil
}
