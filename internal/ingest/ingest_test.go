package ingest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"sync"
	"testing"
	"time"

	"mindia/internal/apperror"
	"mindia/internal/models"
	"mindia/internal/objectstore"
	"mindia/internal/taskqueue"
)

type fakeMediaStore struct {
	mu      sync.Mutex
	created []models.Media
	failCreate bool
}

func (f *fakeMediaStore) CreateMedia(ctx context.Context, m models.Media) (models.Media, error) {
	if f.failCreate {
		return models.Media{}, apperror.Internal(errors.New("insert failed"))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m.ID = "media-1"
	f.created = append(f.created, m)
	return m, nil
}

type fakeTasks struct {
	mu        sync.Mutex
	submitted []taskqueue.SubmitParams
}

func (f *fakeTasks) Submit(ctx context.Context, p taskqueue.SubmitParams) (models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, p)
	return models.Task{ID: "task-1", Type: p.Type}, nil
}

type fakeWebhooks struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeWebhooks) Emit(ctx context.Context, tenantID, eventType string, data map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
	return nil
}

type fakeStorage struct {
	mu       sync.Mutex
	objects  map[string][]byte
	deleted  []string
	failUpload bool
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: map[string][]byte{}}
}

func (f *fakeStorage) Upload(ctx context.Context, key, contentType string, body []byte) (objectstore.Object, error) {
	if f.failUpload {
		return objectstore.Object{}, errors.New("upload failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = body
	return objectstore.Object{Key: key, URL: "https://storage.example/" + key, ContentType: contentType, Size: int64(len(body))}, nil
}

func (f *fakeStorage) UploadStream(ctx context.Context, key, contentType string, body io.Reader, size int64) (objectstore.Object, error) {
	return objectstore.Object{}, nil
}

func (f *fakeStorage) Download(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, apperror.NotFound("object not found")
	}
	return data, nil
}

func (f *fakeStorage) DownloadStream(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, nil
}

func (f *fakeStorage) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeStorage) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeStorage) Copy(ctx context.Context, srcKey, dstKey string) error { return nil }

func (f *fakeStorage) PresignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error) {
	return "https://storage.example/presigned/" + key, nil
}

func (f *fakeStorage) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://storage.example/get/" + key, nil
}

type fakeScanner struct {
	infected bool
	err      error
}

func (f fakeScanner) Scan(ctx context.Context, data []byte) (bool, error) { return f.infected, f.err }

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 0, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encoding test jpeg: %v", err)
	}
	return buf.Bytes()
}

func newTestCoordinator() (*Coordinator, *fakeMediaStore, *fakeTasks, *fakeWebhooks, *fakeStorage) {
	store := &fakeMediaStore{}
	tasks := &fakeTasks{}
	hooks := &fakeWebhooks{}
	storage := newFakeStorage()
	cfg := NewConfig(5<<20, false, 24*time.Hour, 60*time.Second)
	coord := NewCoordinator(store, tasks, storage, models.BackendLocal, hooks, NoopScanner{}, cfg, nil, nil)
	return coord, store, tasks, hooks, storage
}

func TestIngestBytesStoresMediaAndEmitsWebhookAndTasks(t *testing.T) {
	coord, store, tasks, hooks, storage := newTestCoordinator()
	data := jpegBytes(t)

	media, err := coord.IngestBytes(context.Background(), UploadRequest{
		TenantID:         "tenant-1",
		MediaType:        models.MediaImage,
		OriginalFilename: "photo.jpg",
		ContentType:      "image/jpeg",
		Data:             data,
		StoreParam:       "1",
	})
	if err != nil {
		t.Fatalf("IngestBytes: %v", err)
	}
	if media.ID == "" {
		t.Fatal("expected created media to have an id")
	}
	if !media.StorePermanently {
		t.Fatal("expected store=1 to request permanent storage")
	}
	if media.Width != 4 || media.Height != 4 {
		t.Fatalf("expected dimensions to be extracted, got %dx%d", media.Width, media.Height)
	}
	if len(store.created) != 1 {
		t.Fatalf("expected one media row created, got %d", len(store.created))
	}
	if len(storage.objects) != 1 {
		t.Fatalf("expected one object uploaded, got %d", len(storage.objects))
	}
	if len(hooks.events) != 1 || hooks.events[0] != "file.uploaded" {
		t.Fatalf("expected file.uploaded webhook, got %v", hooks.events)
	}
	if len(tasks.submitted) != 1 || tasks.submitted[0].Type != models.TaskContentModeration {
		t.Fatalf("expected only content moderation task for a non-video, non-semantic-search ingest, got %v", tasks.submitted)
	}
}

func TestIngestBytesVideoSubmitsTranscodeTask(t *testing.T) {
	coord, _, tasks, _, _ := newTestCoordinator()

	_, err := coord.IngestBytes(context.Background(), UploadRequest{
		TenantID:         "tenant-1",
		MediaType:        models.MediaVideo,
		OriginalFilename: "clip.mp4",
		ContentType:      "video/mp4",
		Data:             []byte("not a real video but passes validation"),
	})
	if err != nil {
		t.Fatalf("IngestBytes: %v", err)
	}
	var types []models.TaskType
	for _, p := range tasks.submitted {
		types = append(types, p.Type)
	}
	if len(types) != 2 || types[0] != models.TaskVideoTranscode || types[1] != models.TaskContentModeration {
		t.Fatalf("expected [VideoTranscode, ContentModeration], got %v", types)
	}
}

func TestIngestBytesSemanticSearchSubmitsEmbeddingTask(t *testing.T) {
	coord, _, tasks, _, _ := newTestCoordinator()
	coord.cfg.SemanticSearchEnabled = true

	_, err := coord.IngestBytes(context.Background(), UploadRequest{
		TenantID:         "tenant-1",
		MediaType:        models.MediaImage,
		OriginalFilename: "photo.jpg",
		ContentType:      "image/jpeg",
		Data:             jpegBytes(t),
	})
	if err != nil {
		t.Fatalf("IngestBytes: %v", err)
	}
	found := false
	for _, p := range tasks.submitted {
		if p.Type == models.TaskGenerateEmbedding {
			found = true
		}
	}
	if !found {
		t.Fatal("expected GenerateEmbedding task when semantic search is enabled")
	}
}

func TestIngestBytesRejectsExtensionContentTypeMismatch(t *testing.T) {
	coord, _, _, _, _ := newTestCoordinator()

	_, err := coord.IngestBytes(context.Background(), UploadRequest{
		TenantID:         "tenant-1",
		MediaType:        models.MediaImage,
		OriginalFilename: "photo.pdf",
		ContentType:      "image/jpeg",
		Data:             jpegBytes(t),
	})
	if apperror.CodeOf(err) != apperror.CodeInvalidInput {
		t.Fatalf("expected invalid_input for extension/content-type mismatch, got %v", err)
	}
}

func TestIngestBytesRejectsOversizedUpload(t *testing.T) {
	coord, _, _, _, _ := newTestCoordinator()
	coord.cfg.Types[models.MediaImage] = TypeConfig{
		MaxBytes:            10,
		AllowedExtensions:    []string{"jpg", "jpeg"},
		AllowedContentTypes:  []string{"image/jpeg"},
	}

	_, err := coord.IngestBytes(context.Background(), UploadRequest{
		TenantID:         "tenant-1",
		MediaType:        models.MediaImage,
		OriginalFilename: "photo.jpg",
		ContentType:      "image/jpeg",
		Data:             jpegBytes(t),
	})
	if apperror.CodeOf(err) != apperror.CodePayloadTooLarge {
		t.Fatalf("expected payload_too_large, got %v", err)
	}
}

func TestIngestBytesCompensatesStorageOnCatalogFailure(t *testing.T) {
	coord, store, _, _, storage := newTestCoordinator()
	store.failCreate = true

	_, err := coord.IngestBytes(context.Background(), UploadRequest{
		TenantID:         "tenant-1",
		MediaType:        models.MediaImage,
		OriginalFilename: "photo.jpg",
		ContentType:      "image/jpeg",
		Data:             jpegBytes(t),
	})
	if err == nil {
		t.Fatal("expected catalog insert failure to propagate")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		storage.mu.Lock()
		deleted := len(storage.deleted) > 0
		storage.mu.Unlock()
		if deleted {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected compensating delete to remove the uploaded object")
}

func TestIngestBytesAntivirusFailOpenProceedsOnScanError(t *testing.T) {
	coord, store, _, _, _ := newTestCoordinator()
	coord.cfg.AntivirusEnabled = true
	coord.cfg.AntivirusFailClosed = false
	coord.scanner = fakeScanner{err: errors.New("scanner unavailable")}

	_, err := coord.IngestBytes(context.Background(), UploadRequest{
		TenantID:         "tenant-1",
		MediaType:        models.MediaImage,
		OriginalFilename: "photo.jpg",
		ContentType:      "image/jpeg",
		Data:             jpegBytes(t),
	})
	if err != nil {
		t.Fatalf("expected fail-open policy to proceed despite scanner error, got %v", err)
	}
	if len(store.created) != 1 {
		t.Fatal("expected media to be created under fail-open policy")
	}
}

func TestIngestBytesAntivirusFailClosedRejectsOnScanError(t *testing.T) {
	coord, _, _, _, _ := newTestCoordinator()
	coord.cfg.AntivirusEnabled = true
	coord.cfg.AntivirusFailClosed = true
	coord.scanner = fakeScanner{err: errors.New("scanner unavailable")}

	_, err := coord.IngestBytes(context.Background(), UploadRequest{
		TenantID:         "tenant-1",
		MediaType:        models.MediaImage,
		OriginalFilename: "photo.jpg",
		ContentType:      "image/jpeg",
		Data:             jpegBytes(t),
	})
	if apperror.CodeOf(err) != apperror.CodeInternal {
		t.Fatalf("expected internal error under fail-closed policy, got %v", err)
	}
}

func TestIngestBytesAntivirusRejectsInfectedFile(t *testing.T) {
	coord, _, _, _, _ := newTestCoordinator()
	coord.cfg.AntivirusEnabled = true
	coord.scanner = fakeScanner{infected: true}

	_, err := coord.IngestBytes(context.Background(), UploadRequest{
		TenantID:         "tenant-1",
		MediaType:        models.MediaImage,
		OriginalFilename: "photo.jpg",
		ContentType:      "image/jpeg",
		Data:             jpegBytes(t),
	})
	if apperror.CodeOf(err) != apperror.CodeInvalidInput {
		t.Fatalf("expected invalid_input for infected file, got %v", err)
	}
}

func TestParseStoreParamVariants(t *testing.T) {
	now := time.Now().UTC()
	if permanent, exp := parseStoreParam("0", true, time.Hour, now); permanent || exp == nil {
		t.Fatal("store=0 should always be temporary")
	}
	if permanent, exp := parseStoreParam("1", false, time.Hour, now); !permanent || exp != nil {
		t.Fatal("store=1 should always be permanent")
	}
	if permanent, _ := parseStoreParam("auto", true, time.Hour, now); !permanent {
		t.Fatal("store=auto should defer to the default")
	}
}
