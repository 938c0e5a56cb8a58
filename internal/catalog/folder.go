package catalog

import (
	"context"

	"github.com/google/uuid"

	"mindia/internal/apperror"
	"mindia/internal/models"
)

// CreateFolder inserts a new folder, generating its ID. parentID must
// already belong to the same tenant; the caller is expected to have
// validated that before calling, since the foreign key alone can't enforce
// tenant isolation across a self-referencing table.
func (s *Store) CreateFolder(ctx context.Context, f models.Folder) (models.Folder, error) {
	f.ID = uuid.NewString()
	const q = `INSERT INTO folders (id, tenant_id, parent_id, name) VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, q, f.ID, f.TenantID, f.ParentID, f.Name); err != nil {
		return models.Folder{}, mapErr(err, "folder")
	}
	return f, nil
}

// GetFolder fetches one folder scoped to tenantID.
func (s *Store) GetFolder(ctx context.Context, tenantID, id string) (models.Folder, error) {
	const q = `SELECT id, tenant_id, parent_id, name FROM folders WHERE tenant_id = $1 AND id = $2`
	var f models.Folder
	err := s.pool.QueryRow(ctx, q, tenantID, id).Scan(&f.ID, &f.TenantID, &f.ParentID, &f.Name)
	if err != nil {
		return models.Folder{}, mapErr(err, "folder")
	}
	return f, nil
}

// ListFolders returns every folder belonging to tenantID.
func (s *Store) ListFolders(ctx context.Context, tenantID string) ([]models.Folder, error) {
	const q = `SELECT id, tenant_id, parent_id, name FROM folders WHERE tenant_id = $1 ORDER BY name`
	rows, err := s.pool.Query(ctx, q, tenantID)
	if err != nil {
		return nil, mapErr(err, "folder")
	}
	defer rows.Close()

	var out []models.Folder
	for rows.Next() {
		var f models.Folder
		if err := rows.Scan(&f.ID, &f.TenantID, &f.ParentID, &f.Name); err != nil {
			return nil, mapErr(err, "folder")
		}
		out = append(out, f)
	}
	return out, mapErr(rows.Err(), "folder")
}

// RenameFolder updates a folder's display name.
func (s *Store) RenameFolder(ctx context.Context, tenantID, id, name string) error {
	const q = `UPDATE folders SET name = $3 WHERE tenant_id = $1 AND id = $2`
	tag, err := s.pool.Exec(ctx, q, tenantID, id, name)
	if err != nil {
		return mapErr(err, "folder")
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("folder not found")
	}
	return nil
}

// DeleteFolder removes a folder. The schema's foreign keys leave contained
// media with a NULL folder_id rather than cascading, so deleting a folder
// never deletes media.
func (s *Store) DeleteFolder(ctx context.Context, tenantID, id string) error {
	const q = `DELETE FROM folders WHERE tenant_id = $1 AND id = $2`
	tag, err := s.pool.Exec(ctx, q, tenantID, id)
	if err != nil {
		return mapErr(err, "folder")
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("folder not found")
	}
	return nil
}
