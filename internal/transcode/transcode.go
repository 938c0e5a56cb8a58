// Package transcode is the Video Transcoding Orchestrator: it turns one
// uploaded video Media row into an HLS ladder (master playlist plus one
// variant per target rendition) and writes the result back to the catalog.
// The ffmpeg invocation shape, rendition math, and process-management
// pattern are grounded on the teacher's cmd/transcoder/main.go. Each variant
// runs in its own ffmpeg process and its own errgroup goroutine instead of
// one filter_complex invocation; a failing variant or a failed capacity
// re-check cancels the context all variants share, so every in-flight
// variant of the job stops together.
package transcode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"mindia/internal/apperror"
	"mindia/internal/catalog"
	"mindia/internal/models"
	"mindia/internal/objectstore"
	"mindia/internal/observability/metrics"
)

// MediaStore is the subset of *catalog.Store the orchestrator needs, narrowed
// to an interface so the pipeline can be tested against a fake catalog.
type MediaStore interface {
	GetMedia(ctx context.Context, tenantID, id string) (models.Media, error)
	UpdateMedia(ctx context.Context, tenantID, id string, update catalog.MediaUpdate) (models.Media, error)
}

var _ MediaStore = (*catalog.Store)(nil)

// WebhookEmitter is the narrow surface the orchestrator needs from the
// webhook service to fire FileProcessingCompleted/Failed events.
type WebhookEmitter interface {
	Emit(ctx context.Context, tenantID, eventType string, data map[string]any) error
}

// Config controls one orchestrator's ffmpeg invocation and capacity policy.
type Config struct {
	FFmpegPath            string
	FFprobePath           string
	TempDir               string
	UploadPrefix          string
	SegmentSeconds         int
	Encoder                string
	MinFreeDiskBytes       int64
	MaxMemPercent          float64
	MaxLoadAverage         float64
	CapacityCheckInterval time.Duration
}

const (
	defaultSegmentSeconds         = 4
	defaultEncoder                = "libx264"
	defaultMinFreeDiskBytes       = 1 << 30 // 1 GiB
	defaultMaxMemPercent          = 90.0
	defaultMaxLoadAverage         = 8.0
	defaultCapacityCheckInterval  = 5 * time.Second
	defaultUploadPrefix           = "uploads"
)

func (c Config) withDefaults() Config {
	if c.SegmentSeconds <= 0 {
		c.SegmentSeconds = defaultSegmentSeconds
	}
	if c.Encoder == "" {
		c.Encoder = defaultEncoder
	}
	if c.MinFreeDiskBytes <= 0 {
		c.MinFreeDiskBytes = defaultMinFreeDiskBytes
	}
	if c.MaxMemPercent <= 0 {
		c.MaxMemPercent = defaultMaxMemPercent
	}
	if c.MaxLoadAverage <= 0 {
		c.MaxLoadAverage = defaultMaxLoadAverage
	}
	if c.CapacityCheckInterval <= 0 {
		c.CapacityCheckInterval = defaultCapacityCheckInterval
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.FFprobePath == "" {
		c.FFprobePath = "ffprobe"
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	if c.UploadPrefix == "" {
		c.UploadPrefix = defaultUploadPrefix
	}
	return c
}

// Orchestrator runs the 9-step HLS transcode pipeline for one video at a
// time, invoked once per VideoTranscode task.
type Orchestrator struct {
	cfg      Config
	media    MediaStore
	storage  objectstore.Store
	webhooks WebhookEmitter
	metrics  *metrics.Recorder
	logger   *slog.Logger
}

// NewOrchestrator builds an Orchestrator. webhooks may be nil in tests that
// don't care about event emission.
func NewOrchestrator(cfg Config, media MediaStore, storage objectstore.Store, webhooks WebhookEmitter, rec *metrics.Recorder, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:      cfg.withDefaults(),
		media:    media,
		storage:  storage,
		webhooks: webhooks,
		metrics:  rec,
		logger:   logger,
	}
}

type taskPayload struct {
	MediaID string `json:"media_id"`
}

// Handle is the worker.Handler for the VideoTranscode task type.
func (o *Orchestrator) Handle(ctx context.Context, task models.Task) (any, error) {
	var payload taskPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, apperror.InvalidInput("malformed video_transcode payload").WithDetail(err.Error())
	}
	return o.Run(ctx, task.TenantID, payload.MediaID)
}

// runResult is the JSON-serializable value recorded on the task as its
// result.
type runResult struct {
	MediaID           string `json:"mediaId"`
	HLSMasterPlaylist string `json:"hlsMasterPlaylist"`
	VariantCount      int    `json:"variantCount"`
}

// Run executes the full 9-step transcode sequence for one media row.
func (o *Orchestrator) Run(ctx context.Context, tenantID, mediaID string) (runResult, error) {
	media, err := o.media.GetMedia(ctx, tenantID, mediaID)
	if err != nil {
		return runResult{}, err
	}
	if media.Type != models.MediaVideo {
		return runResult{}, apperror.InvalidInput(fmt.Sprintf("media %s is not a video", mediaID))
	}
	if media.TranscodeComplete() {
		return runResult{MediaID: mediaID, HLSMasterPlaylist: media.HLSMasterPlaylist, VariantCount: len(media.Variants)}, nil
	}

	if o.metrics != nil {
		o.metrics.TranscodeJobStarted()
	}

	processing := models.ProcessingProcessing
	if _, err := o.media.UpdateMedia(ctx, tenantID, mediaID, catalog.MediaUpdate{ProcessingStatus: &processing}); err != nil {
		return runResult{}, err
	}

	result, runErr := o.runPipeline(ctx, tenantID, media)
	if runErr != nil {
		o.recordFailure(ctx, tenantID, mediaID, runErr)
		if o.metrics != nil {
			o.metrics.TranscodeJobFinished("failed")
		}
		return runResult{}, runErr
	}

	if o.metrics != nil {
		o.metrics.TranscodeJobFinished("completed")
	}
	if o.webhooks != nil {
		_ = o.webhooks.Emit(ctx, tenantID, "file.processing_completed", map[string]any{
			"media_id":            mediaID,
			"hls_master_playlist": result.HLSMasterPlaylist,
		})
	}
	return result, nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, tenantID, mediaID string, cause error) {
	failed := models.ProcessingFailed
	message := cause.Error()
	if appErr, ok := apperror.As(cause); ok {
		message = appErr.Message
	}
	if _, err := o.media.UpdateMedia(ctx, tenantID, mediaID, catalog.MediaUpdate{
		ProcessingStatus: &failed,
		ErrorMessage:     &message,
	}); err != nil {
		o.logger.Error("recording transcode failure", "media_id", mediaID, "error", err)
	}
	if o.webhooks != nil {
		_ = o.webhooks.Emit(ctx, tenantID, "file.processing_failed", map[string]any{
			"media_id": mediaID,
			"error":    message,
		})
	}
}

// runPipeline implements steps 2-9: capacity preflight, download, probe,
// ladder generation, master playlist, upload, and the final catalog update.
// The caller is responsible for the Pending->Processing transition (step 1)
// and for recording failure/success.
func (o *Orchestrator) runPipeline(ctx context.Context, tenantID string, media models.Media) (runResult, error) {
	if err := checkCapacity(o.cfg, estimateTranscodeSpace(media.FileSize)); err != nil {
		return runResult{}, err
	}

	tempDir, err := os.MkdirTemp(o.cfg.TempDir, "transcode-"+media.ID+"-")
	if err != nil {
		return runResult{}, apperror.Storage(fmt.Errorf("create temp dir: %w", err))
	}
	defer func() {
		if rmErr := os.RemoveAll(tempDir); rmErr != nil {
			o.logger.Warn("cleaning up transcode temp dir", "dir", tempDir, "error", rmErr)
		}
	}()

	inputPath, inputSize, err := o.downloadSource(ctx, media, tempDir)
	if err != nil {
		return runResult{}, err
	}

	if err := checkCapacity(o.cfg, estimateTranscodeSpace(inputSize)); err != nil {
		return runResult{}, err
	}

	probed, err := probeMetadata(ctx, o.cfg.FFprobePath, inputPath)
	if err != nil {
		return runResult{}, apperror.Internal(fmt.Errorf("probe source metadata: %w", err))
	}

	ladder := buildLadder(probed.Height)
	if len(ladder) == 0 {
		return runResult{}, apperror.InvalidInput("source resolution too low for any configured rendition")
	}

	monitorCtx, cancelMonitor := context.WithCancel(ctx)
	defer cancelMonitor()
	monitorErr := make(chan error, 1)
	go o.watchCapacity(monitorCtx, cancelMonitor, monitorErr)

	variants, renditionErr := o.renderLadder(monitorCtx, inputPath, tempDir, ladder)
	select {
	case cErr := <-monitorErr:
		if cErr != nil && renditionErr == nil {
			renditionErr = cErr
		}
	default:
	}
	if renditionErr != nil {
		return runResult{}, renditionErr
	}

	masterPath, err := writeMasterPlaylist(tempDir, variants)
	if err != nil {
		return runResult{}, apperror.Internal(fmt.Errorf("write master playlist: %w", err))
	}

	uploaded, err := o.uploadOutputs(ctx, media.ID, tempDir, masterPath, variants)
	if err != nil {
		return runResult{}, err
	}

	completed := models.ProcessingCompleted
	master := uploaded.masterKey
	finalMedia, err := o.media.UpdateMedia(ctx, media.TenantID, media.ID, catalog.MediaUpdate{
		ProcessingStatus:  &completed,
		Width:             &probed.Width,
		Height:            &probed.Height,
		DurationSeconds:   &probed.DurationSeconds,
		HLSMasterPlaylist: &master,
		Variants:          uploaded.variants,
	})
	if err != nil {
		return runResult{}, err
	}

	return runResult{
		MediaID:           finalMedia.ID,
		HLSMasterPlaylist: finalMedia.HLSMasterPlaylist,
		VariantCount:      len(finalMedia.Variants),
	}, nil
}

// downloadSource streams the source object into a file under tempDir,
// returning the path and the number of bytes actually written.
func (o *Orchestrator) downloadSource(ctx context.Context, media models.Media, tempDir string) (string, int64, error) {
	reader, err := o.storage.DownloadStream(ctx, media.Storage.Key)
	if err != nil {
		return "", 0, err
	}
	defer reader.Close()

	path := filepath.Join(tempDir, "source"+filepath.Ext(media.OriginalFilename))
	f, err := os.Create(path)
	if err != nil {
		return "", 0, apperror.Storage(fmt.Errorf("create source temp file: %w", err))
	}
	defer f.Close()

	written, err := io.Copy(f, reader)
	if err != nil {
		return "", 0, apperror.Storage(fmt.Errorf("stream source to disk: %w", err))
	}
	return path, written, nil
}

// watchCapacity periodically re-checks system capacity and, if a check
// fails, sends the error on errOut and calls cancel, stopping the in-flight
// variant renders before they exhaust disk, memory, or CPU.
func (o *Orchestrator) watchCapacity(ctx context.Context, cancel context.CancelFunc, errOut chan<- error) {
	ticker := time.NewTicker(o.cfg.CapacityCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := checkCapacity(o.cfg, 0); err != nil {
				errOut <- err
				cancel()
				return
			}
		}
	}
}

// renderLadder generates every requested variant in parallel, stopping all
// of them if any one fails or ctx is cancelled by the capacity monitor.
func (o *Orchestrator) renderLadder(ctx context.Context, inputPath, tempDir string, ladder []rendition) ([]renderedVariant, error) {
	group, gctx := errgroup.WithContext(ctx)
	variants := make([]renderedVariant, len(ladder))

	for i, r := range ladder {
		i, r := i, r
		group.Go(func() error {
			v, err := o.renderVariant(gctx, inputPath, tempDir, r)
			if err != nil {
				return err
			}
			variants[i] = v
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return variants, nil
}
