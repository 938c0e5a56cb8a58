// Package ingest is the Ingest Coordinator of spec §4.N: given validated
// upload bytes (or a stream fetched from a URL, or assembled from a
// presigned/chunked session) and a tenant, it runs the validate → sanitize →
// strip-EXIF → scan → store → catalog-insert → emit-webhook → submit-tasks
// pipeline and returns the resulting Media row. Grounded on
// original_source's image_upload_url.rs handler for the step ordering and
// compensating-delete-on-catalog-failure behavior, and on transcode.go's
// narrow-interface/webhook-emission shape for the Go idiom — the teacher's
// own internal/ingest package controls an external live-streaming system
// (BootStream/ShutdownStream) rather than coordinating an in-process upload,
// so its Controller interface doesn't transplant; only its package name and
// its narrow-interface-plus-Noop style (Scanner/NoopScanner here) carry over.
package ingest

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mindia/internal/apperror"
	"mindia/internal/catalog"
	"mindia/internal/models"
	"mindia/internal/objectstore"
	"mindia/internal/observability/metrics"
	"mindia/internal/taskqueue"
)

// Store is the narrow catalog surface the coordinator needs.
type Store interface {
	CreateMedia(ctx context.Context, m models.Media) (models.Media, error)
}

var _ Store = (*catalog.Store)(nil)

// TaskSubmitter submits post-ingest work.
type TaskSubmitter interface {
	Submit(ctx context.Context, p taskqueue.SubmitParams) (models.Task, error)
}

var _ TaskSubmitter = (*taskqueue.Queue)(nil)

// WebhookEmitter fires the FileUploaded event.
type WebhookEmitter interface {
	Emit(ctx context.Context, tenantID, eventType string, data map[string]any) error
}

// fileUploadedEvent matches the dot-separated event naming already used by
// transcode ("file.processing_completed") and workflow ("workflow.completed").
const fileUploadedEvent = "file.uploaded"

// Coordinator drives the ingest pipeline.
type Coordinator struct {
	store    Store
	tasks    TaskSubmitter
	storage  objectstore.Store
	backend  models.StorageBackend
	webhooks WebhookEmitter
	scanner  Scanner
	cfg      Config
	metrics  *metrics.Recorder
	logger   *slog.Logger
}

// NewCoordinator builds a Coordinator. scanner defaults to NoopScanner and
// logger to slog.Default when nil. backend records which adapter storage
// implements, since objectstore.Object itself doesn't carry it.
func NewCoordinator(store Store, tasks TaskSubmitter, storage objectstore.Store, backend models.StorageBackend, webhooks WebhookEmitter, scanner Scanner, cfg Config, rec *metrics.Recorder, logger *slog.Logger) *Coordinator {
	if scanner == nil {
		scanner = NoopScanner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: store, tasks: tasks, storage: storage, backend: backend, webhooks: webhooks, scanner: scanner, cfg: cfg.withDefaults(), metrics: rec, logger: logger}
}

// UploadRequest is the validated, in-memory form of one multipart upload.
type UploadRequest struct {
	TenantID         string
	MediaType        models.MediaType
	OriginalFilename string
	ContentType      string
	Data             []byte
	FolderID         *string
	StoreParam       string
}

// IngestBytes runs §4.N steps 1-11 over already-downloaded bytes: the
// multipart-upload path and the tail of the URL-upload and chunked-upload
// paths all converge here once bytes and metadata are in hand.
func (c *Coordinator) IngestBytes(ctx context.Context, req UploadRequest) (models.Media, error) {
	typeCfg, ok := c.cfg.Types[req.MediaType]
	if !ok {
		return models.Media{}, apperror.InvalidInput("unsupported media type: " + string(req.MediaType))
	}

	if int64(len(req.Data)) > typeCfg.MaxBytes {
		return models.Media{}, apperror.PayloadTooLarge("file exceeds the maximum size for this media type")
	}
	ext, err := validateExtension(req.OriginalFilename, typeCfg.AllowedExtensions)
	if err != nil {
		return models.Media{}, err
	}
	if err := validateContentType(req.ContentType, typeCfg.AllowedContentTypes); err != nil {
		return models.Media{}, err
	}
	if !extensionContentTypeConsistent(ext, req.ContentType) {
		return models.Media{}, apperror.InvalidInput("file extension does not match content type")
	}

	data := req.Data
	width, height := 0, 0
	if req.MediaType == models.MediaImage {
		if c.cfg.RemoveEXIF {
			data = stripJPEGEXIF(data, req.ContentType)
		}
		width, height = imageDimensions(data)
	}

	if c.cfg.AntivirusEnabled {
		infected, err := c.scanner.Scan(ctx, data)
		if err != nil {
			if c.cfg.AntivirusFailClosed {
				return models.Media{}, apperror.Internal(err).WithDetail("antivirus scan failed")
			}
			c.logger.Warn("antivirus scan failed, proceeding under fail-open policy", "error", err)
		} else if infected {
			return models.Media{}, apperror.InvalidInput("file failed antivirus scan")
		}
	}

	safeFilename := sanitizeFilename(req.OriginalFilename)
	fileUUID := uuid.NewString()
	uuidFilename := fileUUID + "." + ext

	storePermanently, expiresAt := parseStoreParam(req.StoreParam, c.cfg.DefaultStorePermanently, c.cfg.DefaultExpiry, time.Now().UTC())

	key := c.cfg.UploadPrefix + "/" + fileUUID + "/" + uuidFilename
	obj, err := c.storage.Upload(ctx, key, req.ContentType, data)
	if err != nil {
		return models.Media{}, apperror.Storage(err)
	}

	media := models.Media{
		TenantID:         req.TenantID,
		Type:             req.MediaType,
		Filename:         uuidFilename,
		OriginalFilename: safeFilename,
		ContentType:      req.ContentType,
		FileSize:         int64(len(data)),
		UploadedAt:       time.Now().UTC(),
		StorePermanently: storePermanently,
		ExpiresAt:        expiresAt,
		FolderID:         req.FolderID,
		Storage: models.StorageLocation{
			Backend: c.backend,
			Bucket:  obj.Bucket,
			Key:     obj.Key,
			URL:     obj.URL,
		},
		ProcessingStatus: models.ProcessingPending,
		Width:            width,
		Height:           height,
	}

	created, err := c.store.CreateMedia(ctx, media)
	if err != nil {
		c.compensateDelete(key)
		return models.Media{}, err
	}

	c.emitUploaded(ctx, created)
	c.submitPostIngestTasks(ctx, created)

	return created, nil
}

// compensateDelete best-effort removes an object orphaned by a failed
// catalog insert, spawned asynchronously per §4.N step 8 ("spawned
// asynchronously; logged on failure").
func (c *Coordinator) compensateDelete(key string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.storage.Delete(ctx, key); err != nil {
			c.logger.Error("failed to clean up storage object after catalog insert failure", "storage_key", key, "error", err)
		}
	}()
}

func (c *Coordinator) emitUploaded(ctx context.Context, media models.Media) {
	if c.webhooks == nil {
		return
	}
	data := map[string]any{
		"id":               media.ID,
		"filename":         media.OriginalFilename,
		"url":              media.Storage.URL,
		"content_type":     media.ContentType,
		"file_size":        media.FileSize,
		"entity_type":      string(media.Type),
		"uploaded_at":      media.UploadedAt,
		"processing_status": string(media.ProcessingStatus),
	}
	if err := c.webhooks.Emit(ctx, media.TenantID, fileUploadedEvent, data); err != nil {
		c.logger.Warn("emitting file.uploaded webhook", "media_id", media.ID, "error", err)
	}
}

// submitPostIngestTasks implements §4.N step 10: video gets VideoTranscode,
// every media type gets ContentModeration, and GenerateEmbedding is added
// when semantic search is enabled.
func (c *Coordinator) submitPostIngestTasks(ctx context.Context, media models.Media) {
	if media.Type == models.MediaVideo {
		c.submitTask(ctx, media.TenantID, models.TaskVideoTranscode, map[string]any{"media_id": media.ID})
	}
	c.submitTask(ctx, media.TenantID, models.TaskContentModeration, map[string]any{"media_id": media.ID})
	if c.cfg.SemanticSearchEnabled {
		c.submitTask(ctx, media.TenantID, models.TaskGenerateEmbedding, map[string]any{"media_id": media.ID})
	}
}

func (c *Coordinator) submitTask(ctx context.Context, tenantID string, taskType models.TaskType, payload map[string]any) {
	if _, err := c.tasks.Submit(ctx, taskqueue.SubmitParams{TenantID: tenantID, Type: taskType, Payload: payload}); err != nil {
		c.logger.Error("submitting post-ingest task", "task_type", taskType, "error", err)
	}
}

// readAllLimited reads r up to limit+1 bytes, returning apperror.PayloadTooLarge
// if the body exceeds limit, so a multipart handler can stream without
// trusting a declared Content-Length.
func readAllLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, apperror.InvalidInput("failed to read upload body").WithDetail(err.Error())
	}
	if int64(len(data)) > limit {
		return nil, apperror.PayloadTooLarge("upload exceeds the maximum allowed size")
	}
	return data, nil
}
