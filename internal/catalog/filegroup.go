package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"

	"mindia/internal/apperror"
	"mindia/internal/models"
)

// CreateFileGroup starts a new, empty file group for tenantID.
func (s *Store) CreateFileGroup(ctx context.Context, tenantID string) (models.FileGroup, error) {
	g := models.FileGroup{ID: uuid.NewString(), TenantID: tenantID, CreatedAt: time.Now().UTC()}
	const q = `INSERT INTO file_groups (id, tenant_id, created_at) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, q, g.ID, g.TenantID, g.CreatedAt); err != nil {
		return models.FileGroup{}, mapErr(err, "file group")
	}
	return g, nil
}

// AddFileGroupItem appends a media item at the end of a group, rejecting the
// insert once the group holds models.MaxFileGroupItems members.
func (s *Store) AddFileGroupItem(ctx context.Context, tenantID, groupID, mediaID string) (models.FileGroupItem, error) {
	const countQ = `SELECT count(*) FROM file_group_items WHERE group_id = $1`
	var count int
	if err := s.pool.QueryRow(ctx, countQ, groupID).Scan(&count); err != nil {
		return models.FileGroupItem{}, mapErr(err, "file group item")
	}
	if count >= models.MaxFileGroupItems {
		return models.FileGroupItem{}, apperror.InvalidInput("file group has reached its item limit")
	}

	const q = `
		INSERT INTO file_group_items (group_id, media_id, tenant_id, item_index)
		VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, q, groupID, mediaID, tenantID, count); err != nil {
		return models.FileGroupItem{}, mapErr(err, "file group item")
	}
	return models.FileGroupItem{GroupID: groupID, MediaID: mediaID, Index: count}, nil
}

// ListFileGroupItems returns a group's members in insertion order.
func (s *Store) ListFileGroupItems(ctx context.Context, tenantID, groupID string) ([]models.FileGroupItem, error) {
	const q = `
		SELECT group_id, media_id, item_index FROM file_group_items
		WHERE tenant_id = $1 AND group_id = $2
		ORDER BY item_index`
	rows, err := s.pool.Query(ctx, q, tenantID, groupID)
	if err != nil {
		return nil, mapErr(err, "file group item")
	}
	defer rows.Close()

	var out []models.FileGroupItem
	for rows.Next() {
		var item models.FileGroupItem
		if err := rows.Scan(&item.GroupID, &item.MediaID, &item.Index); err != nil {
			return nil, mapErr(err, "file group item")
		}
		out = append(out, item)
	}
	return out, mapErr(rows.Err(), "file group item")
}

// RemoveFileGroupItem removes one media item from a group and closes the
// resulting gap in item_index so ordering stays contiguous.
func (s *Store) RemoveFileGroupItem(ctx context.Context, tenantID, groupID, mediaID string) error {
	const deleteQ = `DELETE FROM file_group_items WHERE tenant_id = $1 AND group_id = $2 AND media_id = $3 RETURNING item_index`
	var removedIndex int
	if err := s.pool.QueryRow(ctx, deleteQ, tenantID, groupID, mediaID).Scan(&removedIndex); err != nil {
		return mapErr(err, "file group item")
	}

	const shiftQ = `
		UPDATE file_group_items SET item_index = item_index - 1
		WHERE tenant_id = $1 AND group_id = $2 AND item_index > $3`
	if _, err := s.pool.Exec(ctx, shiftQ, tenantID, groupID, removedIndex); err != nil {
		return mapErr(err, "file group item")
	}
	return nil
}
