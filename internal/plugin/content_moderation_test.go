package plugin

import (
	"context"
	"encoding/json"
	"testing"

	"mindia/internal/models"
	"mindia/internal/observability/metrics"
)

func moderationTaskPayload(mediaID string) []byte {
	b, _ := json.Marshal(moderationPayload{MediaID: mediaID})
	return b
}

func TestHandleContentModerationSkipsUnconfiguredTenant(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewModerationPlugin(), Info{Name: DefaultModerationPlugin})
	store := newFakeStore()
	store.media["media-1"] = models.Media{ID: "media-1", TenantID: "tenant-1", OriginalFilename: "vacation.jpg"}

	svc := NewService(registry, store, &fakeTaskSubmitter{}, nil, nil, metrics.New(), nil)
	result, err := svc.HandleContentModeration(context.Background(), models.Task{
		ID: "task-1", TenantID: "tenant-1", Payload: moderationTaskPayload("media-1"),
	})
	if err != nil {
		t.Fatalf("HandleContentModeration: %v", err)
	}
	resultMap, _ := result.(map[string]any)
	if resultMap["skipped"] == nil {
		t.Fatalf("expected skipped result for unconfigured tenant, got %+v", result)
	}
	if len(store.executions) != 0 {
		t.Fatalf("expected no execution row for unconfigured tenant, got %d", len(store.executions))
	}
}

func TestHandleContentModerationSkipsDisabledConfig(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewModerationPlugin(), Info{Name: DefaultModerationPlugin})
	store := newFakeStore()
	store.media["media-1"] = models.Media{ID: "media-1", TenantID: "tenant-1", OriginalFilename: "vacation.jpg"}
	store.configs[configKey("tenant-1", DefaultModerationPlugin)] = models.PluginConfig{TenantID: "tenant-1", PluginName: DefaultModerationPlugin, Enabled: false}

	svc := NewService(registry, store, &fakeTaskSubmitter{}, nil, nil, metrics.New(), nil)
	result, err := svc.HandleContentModeration(context.Background(), models.Task{
		ID: "task-1", TenantID: "tenant-1", Payload: moderationTaskPayload("media-1"),
	})
	if err != nil {
		t.Fatalf("HandleContentModeration: %v", err)
	}
	resultMap, _ := result.(map[string]any)
	if resultMap["skipped"] == nil {
		t.Fatalf("expected skipped result for disabled config, got %+v", result)
	}
}

func TestHandleContentModerationFlagsDenylistedFilenameAndRecordsMetadata(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewModerationPlugin(), Info{Name: DefaultModerationPlugin})
	store := newFakeStore()
	store.media["media-1"] = models.Media{
		ID: "media-1", TenantID: "tenant-1", OriginalFilename: "explicit_content.jpg",
		Metadata: map[string]any{"campaign": "q3-launch"},
	}
	store.configs[configKey("tenant-1", DefaultModerationPlugin)] = models.PluginConfig{
		TenantID: "tenant-1", PluginName: DefaultModerationPlugin, Enabled: true,
		PublicConfig: map[string]any{"denylist": []any{"explicit"}},
	}

	svc := NewService(registry, store, &fakeTaskSubmitter{}, nil, nil, metrics.New(), nil)
	_, err := svc.HandleContentModeration(context.Background(), models.Task{
		ID: "task-1", TenantID: "tenant-1", Payload: moderationTaskPayload("media-1"),
	})
	if err != nil {
		t.Fatalf("HandleContentModeration: %v", err)
	}

	if len(store.executions) != 1 {
		t.Fatalf("expected one plugin execution row, got %d", len(store.executions))
	}
	for _, exec := range store.executions {
		if exec.Status != models.PluginExecCompleted {
			t.Fatalf("expected completed execution, got %v", exec.Status)
		}
	}

	media := store.media["media-1"]
	moderation, ok := media.Metadata["moderation"].(map[string]any)
	if !ok {
		t.Fatalf("expected moderation metadata written, got %+v", media.Metadata)
	}
	labels, _ := moderation["labels"].([]string)
	if len(labels) != 1 || labels[0] != "explicit" {
		t.Fatalf("expected flagged label in metadata, got %+v", moderation["labels"])
	}
	if media.Metadata["campaign"] != "q3-launch" {
		t.Fatalf("expected existing metadata preserved, got %+v", media.Metadata)
	}
}

func TestHandleContentModerationRejectsUnregisteredPlugin(t *testing.T) {
	registry := NewRegistry()
	store := newFakeStore()
	store.configs[configKey("tenant-1", DefaultModerationPlugin)] = models.PluginConfig{TenantID: "tenant-1", PluginName: DefaultModerationPlugin, Enabled: true}

	svc := NewService(registry, store, &fakeTaskSubmitter{}, nil, nil, metrics.New(), nil)
	_, err := svc.HandleContentModeration(context.Background(), models.Task{
		ID: "task-1", TenantID: "tenant-1", Payload: moderationTaskPayload("media-1"),
	})
	if err == nil {
		t.Fatal("expected error when moderation plugin is not registered")
	}
}
