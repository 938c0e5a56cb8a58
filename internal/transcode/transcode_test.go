package transcode

import (
	"context"
	"testing"
	"time"

	"mindia/internal/apperror"
	"mindia/internal/catalog"
	"mindia/internal/models"
)

func TestBuildLadderFiltersToSourceHeight(t *testing.T) {
	ladder := buildLadder(720)
	if len(ladder) != 3 {
		t.Fatalf("expected 3 renditions at or below 720p, got %d", len(ladder))
	}
	for _, r := range ladder {
		if r.Height > 720 {
			t.Fatalf("rendition %s exceeds source height: %d", r.Name, r.Height)
		}
	}
}

func TestBuildLadderIncludesEqualHeight(t *testing.T) {
	ladder := buildLadder(1080)
	if len(ladder) != 4 {
		t.Fatalf("expected all 4 renditions when source is 1080p, got %d", len(ladder))
	}
}

func TestBuildLadderEmptyForLowResolutionSource(t *testing.T) {
	ladder := buildLadder(200)
	if len(ladder) != 0 {
		t.Fatalf("expected no renditions for a 200p source, got %d", len(ladder))
	}
}

func TestDefaultVideoBitrateDecreasesWithHeight(t *testing.T) {
	if b := defaultVideoBitrate(1080); b != 6000 {
		t.Fatalf("expected 6000 for 1080p, got %d", b)
	}
	if b := defaultVideoBitrate(360); b != 1200 {
		t.Fatalf("expected 1200 for 360p, got %d", b)
	}
}

func TestVideoProfileForHeight(t *testing.T) {
	if p := videoProfileForHeight(1080); p != "high" {
		t.Fatalf("expected high profile for 1080p, got %s", p)
	}
	if p := videoProfileForHeight(360); p != "baseline" {
		t.Fatalf("expected baseline profile for 360p, got %s", p)
	}
}

func TestEnsureEven(t *testing.T) {
	if ensureEven(641) != 642 {
		t.Fatalf("expected 641 rounded up to 642")
	}
	if ensureEven(640) != 640 {
		t.Fatalf("expected 640 to stay even")
	}
}

func TestEstimateTranscodeSpaceIsThreeTimesInput(t *testing.T) {
	if got := estimateTranscodeSpace(100); got != 300 {
		t.Fatalf("expected 300, got %d", got)
	}
}

func TestWriteMasterPlaylistReferencesEveryVariant(t *testing.T) {
	dir := t.TempDir()
	variants := []renderedVariant{
		{rendition: rendition{Name: "360p", Width: 640, Height: 360, VideoBitrate: 1200, AudioBitrate: 128}},
		{rendition: rendition{Name: "720p", Width: 1280, Height: 720, VideoBitrate: 4000, AudioBitrate: 160}},
	}
	path, err := writeMasterPlaylist(dir, variants)
	if err != nil {
		t.Fatalf("writeMasterPlaylist: %v", err)
	}
	if path == "" {
		t.Fatalf("expected non-empty playlist path")
	}
}

type fakeMediaStore struct {
	media  models.Media
	update catalog.MediaUpdate
}

func (f *fakeMediaStore) GetMedia(_ context.Context, _, _ string) (models.Media, error) {
	return f.media, nil
}

func (f *fakeMediaStore) UpdateMedia(_ context.Context, _, _ string, update catalog.MediaUpdate) (models.Media, error) {
	f.update = update
	if update.ProcessingStatus != nil {
		f.media.ProcessingStatus = *update.ProcessingStatus
	}
	if update.HLSMasterPlaylist != nil {
		f.media.HLSMasterPlaylist = *update.HLSMasterPlaylist
	}
	return f.media, nil
}

func TestRunRejectsNonVideoMedia(t *testing.T) {
	store := &fakeMediaStore{media: models.Media{ID: "m1", Type: models.MediaImage}}
	o := NewOrchestrator(Config{TempDir: t.TempDir()}, store, nil, nil, nil, nil)

	_, err := o.Run(context.Background(), "default", "m1")
	if err == nil {
		t.Fatalf("expected an error for non-video media")
	}
	appErr, ok := apperror.As(err)
	if !ok || appErr.Code != apperror.CodeInvalidInput {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestRunShortCircuitsAlreadyCompletedTranscode(t *testing.T) {
	store := &fakeMediaStore{media: models.Media{
		ID:                "m1",
		Type:              models.MediaVideo,
		ProcessingStatus:  models.ProcessingCompleted,
		HLSMasterPlaylist: "uploads/m1/master.m3u8",
		Variants:          []models.VideoVariant{{Name: "720p"}},
	}}
	o := NewOrchestrator(Config{TempDir: t.TempDir()}, store, nil, nil, nil, nil)

	result, err := o.Run(context.Background(), "default", "m1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.HLSMasterPlaylist != "uploads/m1/master.m3u8" {
		t.Fatalf("expected short-circuit to return the existing playlist, got %q", result.HLSMasterPlaylist)
	}
	if store.update.ProcessingStatus != nil {
		t.Fatalf("expected no status transition on an already-completed transcode")
	}
}

func TestCheckCapacityRejectsBelowDiskFloor(t *testing.T) {
	cfg := Config{TempDir: t.TempDir(), MinFreeDiskBytes: 1 << 62}.withDefaults()
	err := checkCapacity(cfg, 0)
	if err == nil {
		t.Fatalf("expected capacity check to fail with an unreasonable disk floor")
	}
	appErr, ok := apperror.As(err)
	if !ok || !appErr.Recoverable {
		t.Fatalf("expected a recoverable Storage error, got %v", err)
	}
}

func TestWatchCapacityCancelsOnFailure(t *testing.T) {
	cfg := Config{TempDir: t.TempDir(), MinFreeDiskBytes: 1 << 62, CapacityCheckInterval: 10 * time.Millisecond}.withDefaults()
	o := NewOrchestrator(cfg, nil, nil, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errOut := make(chan error, 1)
	go o.watchCapacity(ctx, cancel, errOut)

	select {
	case err := <-errOut:
		if err == nil {
			t.Fatalf("expected a capacity error")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected watchCapacity to report a failure within timeout")
	}
}
