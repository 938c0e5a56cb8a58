// Package cleanup is the hourly expiry sweep of spec §4.M: delete
// non-permanent media whose expires_at has passed (storage object first,
// then dependent embeddings, then the catalog row) and prune Tasks that
// settled into a terminal state long enough ago to be forgotten. Grounded
// on original_source's mindia-services/cleanup/service.rs for the
// per-media-kind sweep and best-effort error swallowing, and on the
// teacher's cmd/server/session_purger.go for the ticker/shutdown shape.
package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mindia/internal/catalog"
	"mindia/internal/models"
	"mindia/internal/objectstore"
	"mindia/internal/taskqueue"
)

// Store is the narrow catalog surface the cleanup sweep needs.
type Store interface {
	ListExpiredMedia(ctx context.Context, limit int) ([]models.Media, error)
	HardDeleteMedia(ctx context.Context, tenantID, id string) error
	DeleteEmbeddingsForEntity(ctx context.Context, tenantID, entityID string) error
}

var _ Store = (*catalog.Store)(nil)

// TaskPruner removes old finished tasks. *taskqueue.Queue satisfies this
// via PurgeFinished.
type TaskPruner interface {
	PurgeFinished(ctx context.Context, retention time.Duration) (int, error)
}

var _ TaskPruner = (*taskqueue.Queue)(nil)

const sweepBatchSize = 200

// Service runs the periodic expiry sweep.
type Service struct {
	store         Store
	storage       objectstore.Store
	tasks         TaskPruner
	taskRetention time.Duration
	logger        *slog.Logger
}

// NewService builds a Service. logger defaults to slog.Default when nil.
func NewService(store Store, storage objectstore.Store, tasks TaskPruner, taskRetention time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, storage: storage, tasks: tasks, taskRetention: taskRetention, logger: logger}
}

// sweepTicker is the minimal ticker surface Start depends on, so tests can
// drive the sweep loop without waiting on a real interval.
type sweepTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ ticker *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.ticker.C }
func (t timeTicker) Stop()               { t.ticker.Stop() }

type tickerFactory func(time.Duration) sweepTicker

// Start spawns the hourly sweep loop and returns a function that stops it
// and waits for the in-flight sweep, if any, to finish.
func (s *Service) Start(ctx context.Context, interval time.Duration) func() {
	return s.startWithTicker(ctx, interval, func(d time.Duration) sweepTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func (s *Service) startWithTicker(ctx context.Context, interval time.Duration, newTicker tickerFactory) func() {
	if interval <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C():
				s.Sweep(workerCtx)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

// Sweep runs one cleanup pass. Every error is logged and swallowed: a
// failed sweep must never crash the server, and a partial failure on one
// media item must not block the rest.
func (s *Service) Sweep(ctx context.Context) {
	s.logger.Info("starting scheduled cleanup sweep")

	mediaDeleted := s.sweepExpiredMedia(ctx)

	var tasksDeleted int
	if s.tasks != nil {
		n, err := s.tasks.PurgeFinished(ctx, s.taskRetention)
		if err != nil {
			s.logger.Error("cleanup: failed to purge finished tasks", "error", err)
		} else {
			tasksDeleted = n
		}
	}

	s.logger.Info("cleanup sweep completed", "media_deleted", mediaDeleted, "tasks_deleted", tasksDeleted)
}

func (s *Service) sweepExpiredMedia(ctx context.Context) int {
	expired, err := s.store.ListExpiredMedia(ctx, sweepBatchSize)
	if err != nil {
		s.logger.Error("cleanup: failed to list expired media", "error", err)
		return 0
	}

	count := 0
	for _, media := range expired {
		s.deleteExpiredMedia(ctx, media)
		count++
	}
	return count
}

func (s *Service) deleteExpiredMedia(ctx context.Context, media models.Media) {
	log := s.logger.With("media_id", media.ID, "tenant_id", media.TenantID, "storage_key", media.Storage.Key)
	log.Info("deleting expired media")

	if err := s.storage.Delete(ctx, media.Storage.Key); err != nil {
		log.Error("cleanup: failed to delete media object from storage, continuing with row deletion", "error", err)
	}

	if media.Type == models.MediaVideo {
		s.deleteHLSLadder(ctx, media)
	}

	if err := s.store.DeleteEmbeddingsForEntity(ctx, media.TenantID, media.ID); err != nil {
		log.Error("cleanup: failed to delete embeddings", "error", err)
	}

	if err := s.store.HardDeleteMedia(ctx, media.TenantID, media.ID); err != nil {
		log.Error("cleanup: failed to delete media row", "error", err)
	}
}

// deleteHLSLadder best-effort removes the master playlist and every
// variant rendition's playlist object alongside the primary object. This
// leaves rendition segment files behind when the storage backend has no
// prefix-delete primitive; acceptable for a best-effort sweep that already
// swallows every error.
func (s *Service) deleteHLSLadder(ctx context.Context, media models.Media) {
	if media.HLSMasterPlaylist != "" {
		if err := s.storage.Delete(ctx, media.HLSMasterPlaylist); err != nil {
			s.logger.Error("cleanup: failed to delete HLS master playlist", "media_id", media.ID, "error", err)
		}
	}
	for _, v := range media.Variants {
		if v.PlaylistPath == "" {
			continue
		}
		if err := s.storage.Delete(ctx, v.PlaylistPath); err != nil {
			s.logger.Error("cleanup: failed to delete HLS variant playlist", "media_id", media.ID, "variant", v.Name, "error", err)
		}
	}
}
