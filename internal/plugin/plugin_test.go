package plugin

import (
	"context"
	"testing"

	"mindia/internal/catalog"
	"mindia/internal/models"
	"mindia/internal/observability/metrics"
	"mindia/internal/taskqueue"
)

type fakeStore struct {
	configs    map[string]models.PluginConfig
	executions map[string]models.PluginExecution
	media      map[string]models.Media
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		configs:    map[string]models.PluginConfig{},
		executions: map[string]models.PluginExecution{},
		media:      map[string]models.Media{},
	}
}

func configKey(tenantID, pluginName string) string { return tenantID + "/" + pluginName }

func (f *fakeStore) GetPluginConfig(ctx context.Context, tenantID, pluginName string) (models.PluginConfig, error) {
	cfg, ok := f.configs[configKey(tenantID, pluginName)]
	if !ok {
		return models.PluginConfig{}, notFoundErr{}
	}
	return cfg, nil
}

func (f *fakeStore) CreatePluginExecution(ctx context.Context, e models.PluginExecution) (models.PluginExecution, error) {
	e.ID = "exec-" + e.PluginName
	f.executions[e.ID] = e
	return e, nil
}

func (f *fakeStore) GetPluginExecution(ctx context.Context, id string) (models.PluginExecution, error) {
	return f.executions[id], nil
}

func (f *fakeStore) UpdatePluginExecution(ctx context.Context, id string, status models.PluginExecutionStatus, result map[string]any, execErr string, usage models.Usage) (models.PluginExecution, error) {
	e := f.executions[id]
	e.Status = status
	e.Result = result
	e.Error = execErr
	e.Usage = usage
	f.executions[id] = e
	return e, nil
}

func (f *fakeStore) GetMedia(ctx context.Context, tenantID, id string) (models.Media, error) {
	return f.media[id], nil
}

func (f *fakeStore) UpdateMedia(ctx context.Context, tenantID, id string, update catalog.MediaUpdate) (models.Media, error) {
	m := f.media[id]
	if update.Metadata != nil {
		m.Metadata = update.Metadata
	}
	f.media[id] = m
	return m, nil
}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "not found" }
func (notFoundErr) Status() int   { return 404 }

type fakeTaskSubmitter struct {
	submitted []taskqueue.SubmitParams
}

func (f *fakeTaskSubmitter) Submit(ctx context.Context, p taskqueue.SubmitParams) (models.Task, error) {
	f.submitted = append(f.submitted, p)
	return models.Task{ID: "task-1"}, nil
}

type echoPlugin struct{}

func (echoPlugin) Name() string { return "echo" }
func (echoPlugin) ValidateConfig(map[string]any) error { return nil }
func (echoPlugin) Execute(ctx context.Context, pc Context) (Result, error) {
	return Result{Status: ResultSuccess, Data: map[string]any{"echoed": pc.MediaID}}, nil
}

func TestRegistryRegisterGetList(t *testing.T) {
	r := NewRegistry()
	if r.Contains("echo") {
		t.Fatal("expected empty registry")
	}
	r.Register(echoPlugin{}, Info{Name: "echo", Description: "echoes the media id"})
	if !r.Contains("echo") {
		t.Fatal("expected echo registered")
	}
	p, ok := r.Get("echo")
	if !ok || p.Name() != "echo" {
		t.Fatalf("unexpected Get result: %+v %v", p, ok)
	}
	if got := r.List(); len(got) != 1 || got[0].Name != "echo" {
		t.Fatalf("unexpected List result: %+v", got)
	}
}

func TestExecutePluginRejectsUnregisteredPlugin(t *testing.T) {
	svc := NewService(NewRegistry(), newFakeStore(), &fakeTaskSubmitter{}, nil, nil, metrics.New(), nil)
	_, err := svc.ExecutePlugin(context.Background(), "tenant-1", "ghost", "media-1")
	if err == nil {
		t.Fatal("expected error for unregistered plugin")
	}
}

func TestExecutePluginRejectsDisabledConfig(t *testing.T) {
	registry := NewRegistry()
	registry.Register(echoPlugin{}, Info{Name: "echo"})
	store := newFakeStore()
	store.configs[configKey("tenant-1", "echo")] = models.PluginConfig{TenantID: "tenant-1", PluginName: "echo", Enabled: false}

	svc := NewService(registry, store, &fakeTaskSubmitter{}, nil, nil, metrics.New(), nil)
	_, err := svc.ExecutePlugin(context.Background(), "tenant-1", "echo", "media-1")
	if err == nil {
		t.Fatal("expected error for disabled plugin config")
	}
}

func TestExecutePluginSubmitsTask(t *testing.T) {
	registry := NewRegistry()
	registry.Register(echoPlugin{}, Info{Name: "echo"})
	store := newFakeStore()
	store.configs[configKey("tenant-1", "echo")] = models.PluginConfig{TenantID: "tenant-1", PluginName: "echo", Enabled: true}
	tasks := &fakeTaskSubmitter{}

	svc := NewService(registry, store, tasks, nil, nil, metrics.New(), nil)
	taskID, err := svc.ExecutePlugin(context.Background(), "tenant-1", "echo", "media-1")
	if err != nil {
		t.Fatalf("ExecutePlugin: %v", err)
	}
	if taskID != "task-1" {
		t.Fatalf("unexpected task id: %s", taskID)
	}
	if len(tasks.submitted) != 1 || tasks.submitted[0].Type != models.TaskPluginExecution {
		t.Fatalf("unexpected submission: %+v", tasks.submitted)
	}
	if len(store.executions) != 1 {
		t.Fatalf("expected one execution row, got %d", len(store.executions))
	}
}

func TestModerationPluginFlagsDenylistedFilename(t *testing.T) {
	store := newFakeStore()
	store.media["media-1"] = models.Media{ID: "media-1", TenantID: "tenant-1", OriginalFilename: "explicit_content.jpg"}

	p := NewModerationPlugin()
	pc := Context{
		TenantID:  "tenant-1",
		MediaID:   "media-1",
		MediaRepo: mediaRepoAdapter{store: store},
		Config:    map[string]any{"denylist": []any{"explicit"}},
	}
	result, err := p.Execute(context.Background(), pc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != ResultSuccess {
		t.Fatalf("expected success status, got %v", result.Status)
	}
	labels, _ := result.Data["labels"].([]string)
	if len(labels) != 1 || labels[0] != "explicit" {
		t.Fatalf("expected flagged label, got %+v", result.Data["labels"])
	}
}

func TestModerationPluginPassesCleanFilename(t *testing.T) {
	store := newFakeStore()
	store.media["media-2"] = models.Media{ID: "media-2", TenantID: "tenant-1", OriginalFilename: "vacation_photo.jpg"}

	p := NewModerationPlugin()
	pc := Context{
		TenantID:  "tenant-1",
		MediaID:   "media-2",
		MediaRepo: mediaRepoAdapter{store: store},
		Config:    map[string]any{"denylist": []any{"explicit"}},
	}
	result, err := p.Execute(context.Background(), pc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	labels, _ := result.Data["labels"].([]string)
	if len(labels) != 1 || labels[0] != "safe" {
		t.Fatalf("expected safe label, got %+v", result.Data["labels"])
	}
}

func TestTranscriptionPluginReportsProcessingThenCompletes(t *testing.T) {
	store := newFakeStore()
	store.media["media-3"] = models.Media{ID: "media-3", TenantID: "tenant-1", Type: models.MediaAudio, DurationSeconds: 12.5}

	p := NewTranscriptionPlugin()
	pc := Context{TenantID: "tenant-1", MediaID: "media-3", MediaRepo: mediaRepoAdapter{store: store}, Config: map[string]any{}}

	first, err := p.Execute(context.Background(), pc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if first.Status != ResultProcessing {
		t.Fatalf("expected processing on first call, got %v", first.Status)
	}

	pc.Config["_job_id"] = first.Data["job_id"]
	second, err := p.Execute(context.Background(), pc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if second.Status != ResultSuccess {
		t.Fatalf("expected success on second call, got %v", second.Status)
	}
}

func TestTranscriptionPluginRejectsImageMedia(t *testing.T) {
	store := newFakeStore()
	store.media["media-4"] = models.Media{ID: "media-4", TenantID: "tenant-1", Type: models.MediaImage}

	p := NewTranscriptionPlugin()
	pc := Context{TenantID: "tenant-1", MediaID: "media-4", MediaRepo: mediaRepoAdapter{store: store}, Config: map[string]any{}}
	_, err := p.Execute(context.Background(), pc)
	if err == nil {
		t.Fatal("expected error for non-audio/video media")
	}
}
