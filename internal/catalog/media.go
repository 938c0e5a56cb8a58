package catalog

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/google/uuid"

	"mindia/internal/apperror"
	"mindia/internal/models"
)

// CreateMedia inserts a new catalog row, generating its ID.
func (s *Store) CreateMedia(ctx context.Context, m models.Media) (models.Media, error) {
	m.ID = uuid.NewString()

	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		return models.Media{}, apperror.Internal(err)
	}
	variants, err := json.Marshal(m.Variants)
	if err != nil {
		return models.Media{}, apperror.Internal(err)
	}

	const q = `
		INSERT INTO media (
			id, tenant_id, entity_type, filename, original_filename, content_type,
			file_size, uploaded_at, store_permanently, expires_at, folder_id,
			storage_backend, storage_bucket, storage_key, storage_url,
			metadata, processing_status, error_message, width, height,
			duration_seconds, hls_master_playlist, variants
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23
		)`

	_, err = s.pool.Exec(ctx, q,
		m.ID, m.TenantID, m.Type, m.Filename, m.OriginalFilename, m.ContentType,
		m.FileSize, m.UploadedAt, m.StorePermanently, m.ExpiresAt, m.FolderID,
		m.Storage.Backend, m.Storage.Bucket, m.Storage.Key, m.Storage.URL,
		metadata, m.ProcessingStatus, m.ErrorMessage, m.Width, m.Height,
		m.DurationSeconds, m.HLSMasterPlaylist, variants,
	)
	if err != nil {
		return models.Media{}, mapErr(err, "media")
	}
	return m, nil
}

// GetMedia fetches one media row scoped to tenantID, excluding soft-deleted
// rows.
func (s *Store) GetMedia(ctx context.Context, tenantID, id string) (models.Media, error) {
	const q = `
		SELECT ` + mediaColumns + `
		FROM media
		WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL`

	row := s.pool.QueryRow(ctx, q, tenantID, id)
	m, err := scanMedia(row)
	if err != nil {
		return models.Media{}, mapErr(err, "media")
	}
	return m, nil
}

// ListMediaOptions filters and paginates ListMedia.
type ListMediaOptions struct {
	FolderID *string
	Type     models.MediaType
	Cursor   string
	Limit    int
}

// ListMedia returns media rows scoped to tenantID, newest first, applying
// keyset pagination over uploaded_at/id so deep pages stay cheap.
func (s *Store) ListMedia(ctx context.Context, tenantID string, opts ListMediaOptions) ([]models.Media, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	q := `SELECT ` + mediaColumns + ` FROM media WHERE tenant_id = $1 AND deleted_at IS NULL`
	args := []any{tenantID}

	if opts.FolderID != nil {
		args = append(args, *opts.FolderID)
		q += " AND folder_id = $" + strconv.Itoa(len(args))
	}
	if opts.Type != "" {
		args = append(args, opts.Type)
		q += " AND entity_type = $" + strconv.Itoa(len(args))
	}
	if opts.Cursor != "" {
		args = append(args, opts.Cursor)
		q += " AND (uploaded_at, id) < (SELECT uploaded_at, id FROM media WHERE tenant_id = $1 AND id = $" + strconv.Itoa(len(args)) + ")"
	}
	args = append(args, limit)
	q += " ORDER BY uploaded_at DESC, id DESC LIMIT $" + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err, "media")
	}
	defer rows.Close()

	var out []models.Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, mapErr(err, "media")
		}
		out = append(out, m)
	}
	return out, mapErr(rows.Err(), "media")
}

// MediaUpdate carries the mutable subset of fields UpdateMedia may change.
type MediaUpdate struct {
	FolderID          *string
	Metadata          map[string]any
	ProcessingStatus  *models.ProcessingStatus
	ErrorMessage      *string
	Width             *int
	Height            *int
	DurationSeconds   *float64
	HLSMasterPlaylist *string
	Variants          []models.VideoVariant
}

// UpdateMedia applies a partial update to one media row, used by the
// transcode and plugin pipelines to record results without a full rewrite.
func (s *Store) UpdateMedia(ctx context.Context, tenantID, id string, update MediaUpdate) (models.Media, error) {
	metadata, err := json.Marshal(update.Metadata)
	if err != nil {
		return models.Media{}, apperror.Internal(err)
	}
	variants, err := json.Marshal(update.Variants)
	if err != nil {
		return models.Media{}, apperror.Internal(err)
	}

	const q = `
		UPDATE media SET
			folder_id = COALESCE($3, folder_id),
			metadata = COALESCE($4, metadata),
			processing_status = COALESCE($5, processing_status),
			error_message = COALESCE($6, error_message),
			width = COALESCE($7, width),
			height = COALESCE($8, height),
			duration_seconds = COALESCE($9, duration_seconds),
			hls_master_playlist = COALESCE($10, hls_master_playlist),
			variants = COALESCE($11, variants)
		WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL
		RETURNING ` + mediaColumns

	row := s.pool.QueryRow(ctx, q,
		tenantID, id, update.FolderID,
		nullIfEmpty(update.Metadata, metadata),
		update.ProcessingStatus, update.ErrorMessage, update.Width, update.Height,
		update.DurationSeconds, update.HLSMasterPlaylist,
		nullIfEmptyVariants(update.Variants, variants),
	)
	m, err := scanMedia(row)
	if err != nil {
		return models.Media{}, mapErr(err, "media")
	}
	return m, nil
}

// SoftDeleteMedia marks a media row deleted without removing it, preserving
// the row for audit and for any in-flight task referencing it.
func (s *Store) SoftDeleteMedia(ctx context.Context, tenantID, id string) error {
	const q = `UPDATE media SET deleted_at = now() WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL`
	tag, err := s.pool.Exec(ctx, q, tenantID, id)
	if err != nil {
		return mapErr(err, "media")
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("media not found")
	}
	return nil
}

// HardDeleteMedia permanently removes a media row, used by the cleanup
// sweep once its storage object and dependent embeddings are gone. Unlike
// SoftDeleteMedia this does not preserve the row for audit.
func (s *Store) HardDeleteMedia(ctx context.Context, tenantID, id string) error {
	const q = `DELETE FROM media WHERE tenant_id = $1 AND id = $2`
	tag, err := s.pool.Exec(ctx, q, tenantID, id)
	if err != nil {
		return mapErr(err, "media")
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("media not found")
	}
	return nil
}

// DeleteEmbeddingsForEntity removes every stored embedding for one entity
// (any model), used when its underlying media is destroyed.
func (s *Store) DeleteEmbeddingsForEntity(ctx context.Context, tenantID, entityID string) error {
	const q = `DELETE FROM embeddings WHERE tenant_id = $1 AND entity_id = $2`
	_, err := s.pool.Exec(ctx, q, tenantID, entityID)
	return mapErr(err, "embedding")
}

// ListExpiredMedia returns non-permanent media past its expiry, used by the
// cleanup sweep.
func (s *Store) ListExpiredMedia(ctx context.Context, limit int) ([]models.Media, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
		SELECT ` + mediaColumns + `
		FROM media
		WHERE deleted_at IS NULL AND store_permanently = false
		  AND expires_at IS NOT NULL AND expires_at < now()
		LIMIT $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, mapErr(err, "media")
	}
	defer rows.Close()

	var out []models.Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, mapErr(err, "media")
		}
		out = append(out, m)
	}
	return out, mapErr(rows.Err(), "media")
}

const mediaColumns = `
	id, tenant_id, entity_type, filename, original_filename, content_type,
	file_size, uploaded_at, store_permanently, expires_at, folder_id,
	storage_backend, storage_bucket, storage_key, storage_url,
	metadata, processing_status, error_message, width, height,
	duration_seconds, hls_master_playlist, variants, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMedia(row rowScanner) (models.Media, error) {
	var m models.Media
	var metadata, variants []byte

	err := row.Scan(
		&m.ID, &m.TenantID, &m.Type, &m.Filename, &m.OriginalFilename, &m.ContentType,
		&m.FileSize, &m.UploadedAt, &m.StorePermanently, &m.ExpiresAt, &m.FolderID,
		&m.Storage.Backend, &m.Storage.Bucket, &m.Storage.Key, &m.Storage.URL,
		&metadata, &m.ProcessingStatus, &m.ErrorMessage, &m.Width, &m.Height,
		&m.DurationSeconds, &m.HLSMasterPlaylist, &variants, &m.DeletedAt,
	)
	if err != nil {
		return models.Media{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
			return models.Media{}, apperror.Internal(err)
		}
	}
	if len(variants) > 0 {
		if err := json.Unmarshal(variants, &m.Variants); err != nil {
			return models.Media{}, apperror.Internal(err)
		}
	}
	return m, nil
}

// nullIfEmpty returns sql NULL marshaled as nil when the source map is nil,
// so COALESCE leaves the existing column untouched on a partial update.
func nullIfEmpty(src map[string]any, marshaled []byte) []byte {
	if src == nil {
		return nil
	}
	return marshaled
}

func nullIfEmptyVariants(src []models.VideoVariant, marshaled []byte) []byte {
	if src == nil {
		return nil
	}
	return marshaled
}

