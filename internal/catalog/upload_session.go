package catalog

import (
	"context"

	"github.com/google/uuid"

	"mindia/internal/models"
)

const uploadSessionColumns = `
	id, tenant_id, filename, content_type, file_size, media_type, storage_key,
	expires_at, status, chunk_size, chunk_count, uploaded_size`

func scanUploadSession(row rowScanner) (models.PresignedUploadSession, error) {
	var s models.PresignedUploadSession
	err := row.Scan(
		&s.ID, &s.TenantID, &s.Filename, &s.ContentType, &s.FileSize, &s.MediaType, &s.StorageKey,
		&s.ExpiresAt, &s.Status, &s.ChunkSize, &s.ChunkCount, &s.UploadedSize,
	)
	return s, err
}

// CreatePresignedUploadSession registers a new chunked/presigned upload,
// pending until its chunks land and complete_upload is called.
func (s *Store) CreatePresignedUploadSession(ctx context.Context, session models.PresignedUploadSession) (models.PresignedUploadSession, error) {
	session.ID = uuid.NewString()
	session.Status = models.UploadSessionPending
	const q = `
		INSERT INTO presigned_upload_sessions (
			id, tenant_id, filename, content_type, file_size, media_type, storage_key,
			expires_at, status, chunk_size, chunk_count, uploaded_size
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0)
		RETURNING ` + uploadSessionColumns
	return scanUploadSession(s.pool.QueryRow(ctx, q,
		session.ID, session.TenantID, session.Filename, session.ContentType, session.FileSize,
		session.MediaType, session.StorageKey, session.ExpiresAt, session.Status,
		session.ChunkSize, session.ChunkCount,
	))
}

// GetPresignedUploadSession fetches one session scoped to tenantID.
func (s *Store) GetPresignedUploadSession(ctx context.Context, tenantID, id string) (models.PresignedUploadSession, error) {
	const q = `SELECT ` + uploadSessionColumns + ` FROM presigned_upload_sessions WHERE tenant_id = $1 AND id = $2`
	session, err := scanUploadSession(s.pool.QueryRow(ctx, q, tenantID, id))
	if err != nil {
		return models.PresignedUploadSession{}, mapErr(err, "upload_session")
	}
	return session, nil
}

// RecordUploadChunk upserts one chunk's size/etag and advances the parent
// session's uploaded_size and status in the same transaction, so a
// concurrent complete_upload sees a consistent total.
func (s *Store) RecordUploadChunk(ctx context.Context, chunk models.UploadChunk) (models.PresignedUploadSession, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.PresignedUploadSession{}, mapErr(err, "upload_session")
	}
	defer tx.Rollback(ctx)

	const upsert = `
		INSERT INTO upload_chunks (session_id, item_index, size, etag)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, item_index) DO UPDATE SET size = EXCLUDED.size, etag = EXCLUDED.etag`
	if _, err := tx.Exec(ctx, upsert, chunk.SessionID, chunk.Index, chunk.Size, nullString(chunk.ETag)); err != nil {
		return models.PresignedUploadSession{}, mapErr(err, "upload_chunk")
	}

	const sumQ = `SELECT coalesce(sum(size), 0) FROM upload_chunks WHERE session_id = $1`
	var total int64
	if err := tx.QueryRow(ctx, sumQ, chunk.SessionID).Scan(&total); err != nil {
		return models.PresignedUploadSession{}, mapErr(err, "upload_session")
	}

	const updateQ = `
		UPDATE presigned_upload_sessions
		SET uploaded_size = $2, status = $3
		WHERE id = $1
		RETURNING ` + uploadSessionColumns
	session, err := scanUploadSession(tx.QueryRow(ctx, updateQ, chunk.SessionID, total, models.UploadSessionUploading))
	if err != nil {
		return models.PresignedUploadSession{}, mapErr(err, "upload_session")
	}

	if err := tx.Commit(ctx); err != nil {
		return models.PresignedUploadSession{}, mapErr(err, "upload_session")
	}
	return session, nil
}

// ListUploadChunks returns every chunk recorded for a session, ordered by
// index, the set complete_upload validates for gaps before assembly.
func (s *Store) ListUploadChunks(ctx context.Context, sessionID string) ([]models.UploadChunk, error) {
	const q = `SELECT session_id, item_index, size, coalesce(etag, '') FROM upload_chunks WHERE session_id = $1 ORDER BY item_index`
	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, mapErr(err, "upload_chunk")
	}
	defer rows.Close()

	var out []models.UploadChunk
	for rows.Next() {
		var c models.UploadChunk
		if err := rows.Scan(&c.SessionID, &c.Index, &c.Size, &c.ETag); err != nil {
			return nil, mapErr(err, "upload_chunk")
		}
		out = append(out, c)
	}
	return out, mapErr(rows.Err(), "upload_chunk")
}

// CompletePresignedUploadSession transitions a session to completed, the
// terminal state that lets complete_upload proceed to catalog insertion.
func (s *Store) CompletePresignedUploadSession(ctx context.Context, tenantID, id string) (models.PresignedUploadSession, error) {
	const q = `
		UPDATE presigned_upload_sessions
		SET status = $3
		WHERE tenant_id = $1 AND id = $2
		RETURNING ` + uploadSessionColumns
	session, err := scanUploadSession(s.pool.QueryRow(ctx, q, tenantID, id, models.UploadSessionCompleted))
	if err != nil {
		return models.PresignedUploadSession{}, mapErr(err, "upload_session")
	}
	return session, nil
}

// FailPresignedUploadSession marks a session failed, used when its storage
// key can't be assembled or it expired before completion.
func (s *Store) FailPresignedUploadSession(ctx context.Context, tenantID, id string) error {
	const q = `UPDATE presigned_upload_sessions SET status = $3 WHERE tenant_id = $1 AND id = $2`
	_, err := s.pool.Exec(ctx, q, tenantID, id, models.UploadSessionFailed)
	return mapErr(err, "upload_session")
}
