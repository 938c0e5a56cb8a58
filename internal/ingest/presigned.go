package ingest

import (
	"context"
	"fmt"
	"time"

	"mindia/internal/apperror"
	"mindia/internal/catalog"
	"mindia/internal/models"
)

// SessionStore is the narrow catalog surface the chunked-upload flow needs,
// separate from Store because only presigned uploads touch these tables.
type SessionStore interface {
	CreatePresignedUploadSession(ctx context.Context, session models.PresignedUploadSession) (models.PresignedUploadSession, error)
	GetPresignedUploadSession(ctx context.Context, tenantID, id string) (models.PresignedUploadSession, error)
	RecordUploadChunk(ctx context.Context, chunk models.UploadChunk) (models.PresignedUploadSession, error)
	ListUploadChunks(ctx context.Context, sessionID string) ([]models.UploadChunk, error)
	CompletePresignedUploadSession(ctx context.Context, tenantID, id string) (models.PresignedUploadSession, error)
	FailPresignedUploadSession(ctx context.Context, tenantID, id string) error
}

var _ SessionStore = (*catalog.Store)(nil)

// StartPresignedUploadRequest begins a chunked/presigned upload session.
type StartPresignedUploadRequest struct {
	TenantID    string
	MediaType   models.MediaType
	Filename    string
	ContentType string
	FileSize    int64
	ChunkSize   int64
	FolderID    *string
	StoreParam  string
}

// PresignedChunk is one chunk's presigned upload target, returned to the
// client so it can PUT its bytes directly to storage.
type PresignedChunk struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
}

// StartPresignedUploadResult is returned to the client that opened the
// session.
type StartPresignedUploadResult struct {
	Session models.PresignedUploadSession
	Chunks  []PresignedChunk
}

// StartPresignedUpload registers a session and a presigned PUT URL for
// every chunk, the first half of §4.N's chunked-upload variant.
func (c *Coordinator) StartPresignedUpload(ctx context.Context, sessions SessionStore, req StartPresignedUploadRequest) (StartPresignedUploadResult, error) {
	typeCfg, ok := c.cfg.Types[req.MediaType]
	if !ok {
		return StartPresignedUploadResult{}, apperror.InvalidInput("unsupported media type: " + string(req.MediaType))
	}
	if req.FileSize <= 0 || req.FileSize > typeCfg.MaxBytes {
		return StartPresignedUploadResult{}, apperror.PayloadTooLarge("file size exceeds the maximum for this media type")
	}
	if _, err := validateExtension(req.Filename, typeCfg.AllowedExtensions); err != nil {
		return StartPresignedUploadResult{}, err
	}
	if err := validateContentType(req.ContentType, typeCfg.AllowedContentTypes); err != nil {
		return StartPresignedUploadResult{}, err
	}

	chunkSize := req.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 8 << 20
	}
	chunkCount := int((req.FileSize + chunkSize - 1) / chunkSize)

	storageKey := fmt.Sprintf("uploads/pending/%s", sanitizeFilename(req.Filename))
	expiresAt := time.Now().UTC().Add(c.cfg.PresignedUploadExpiry)

	session, err := sessions.CreatePresignedUploadSession(ctx, models.PresignedUploadSession{
		TenantID:    req.TenantID,
		Filename:    sanitizeFilename(req.Filename),
		ContentType: req.ContentType,
		FileSize:    req.FileSize,
		MediaType:   req.MediaType,
		StorageKey:  storageKey,
		ExpiresAt:   expiresAt,
		ChunkSize:   &chunkSize,
		ChunkCount:  &chunkCount,
	})
	if err != nil {
		return StartPresignedUploadResult{}, err
	}

	chunks := make([]PresignedChunk, 0, chunkCount)
	for i := 0; i < chunkCount; i++ {
		url, err := c.storage.PresignPut(ctx, chunkKey(storageKey, i), req.ContentType, c.cfg.PresignedUploadExpiry)
		if err != nil {
			return StartPresignedUploadResult{}, apperror.Storage(err)
		}
		chunks = append(chunks, PresignedChunk{Index: i, URL: url})
	}

	return StartPresignedUploadResult{Session: session, Chunks: chunks}, nil
}

func chunkKey(storageKey string, index int) string {
	return fmt.Sprintf("%s.part%d", storageKey, index)
}

// RecordChunkUploaded tells the coordinator a chunk landed at its presigned
// URL; the caller reports the size and ETag its storage provider returned.
func (c *Coordinator) RecordChunkUploaded(ctx context.Context, sessions SessionStore, sessionID string, index int, size int64, etag string) (models.PresignedUploadSession, error) {
	return sessions.RecordUploadChunk(ctx, models.UploadChunk{SessionID: sessionID, Index: index, Size: size, ETag: etag})
}

// CompleteUploadRequest finalizes a chunked upload, moving it into the same
// validate→scan→catalog-insert pipeline a direct multipart upload goes
// through.
type CompleteUploadRequest struct {
	TenantID  string
	SessionID string
	FolderID  *string
	StoreParam string
}

// CompleteUpload validates that every chunk for a session has landed,
// assembles the object by downloading it back from storage (chunks were
// PUT directly to per-chunk keys, so assembly here means reading the
// session's declared storage key, which the client's last PUT — or a
// storage-side multipart-complete call — is expected to have finalized),
// and runs it through IngestBytes.
func (c *Coordinator) CompleteUpload(ctx context.Context, sessions SessionStore, req CompleteUploadRequest) (models.Media, error) {
	session, err := sessions.GetPresignedUploadSession(ctx, req.TenantID, req.SessionID)
	if err != nil {
		return models.Media{}, err
	}
	if session.Expired(time.Now().UTC()) {
		_ = sessions.FailPresignedUploadSession(ctx, req.TenantID, req.SessionID)
		return models.Media{}, apperror.InvalidInput("upload session has expired")
	}

	chunks, err := sessions.ListUploadChunks(ctx, req.SessionID)
	if err != nil {
		return models.Media{}, err
	}
	if session.ChunkCount != nil && len(chunks) != *session.ChunkCount {
		return models.Media{}, apperror.InvalidInput("not all chunks have been uploaded")
	}
	for i, chunk := range chunks {
		if chunk.Index != i {
			return models.Media{}, apperror.InvalidInput("upload chunks have a gap")
		}
	}

	data, err := c.storage.Download(ctx, session.StorageKey)
	if err != nil {
		_ = sessions.FailPresignedUploadSession(ctx, req.TenantID, req.SessionID)
		return models.Media{}, apperror.Storage(err)
	}

	media, err := c.IngestBytes(ctx, UploadRequest{
		TenantID:         req.TenantID,
		MediaType:        session.MediaType,
		OriginalFilename: session.Filename,
		ContentType:      session.ContentType,
		Data:             data,
		FolderID:         req.FolderID,
		StoreParam:       req.StoreParam,
	})
	if err != nil {
		_ = sessions.FailPresignedUploadSession(ctx, req.TenantID, req.SessionID)
		return models.Media{}, err
	}

	if _, err := sessions.CompletePresignedUploadSession(ctx, req.TenantID, req.SessionID); err != nil {
		c.logger.Warn("marking upload session completed", "session_id", req.SessionID, "error", err)
	}
	return media, nil
}
