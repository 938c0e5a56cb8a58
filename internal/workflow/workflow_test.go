package workflow

import (
	"context"
	"encoding/json"
	"testing"

	"mindia/internal/models"
	"mindia/internal/plugin"
	"mindia/internal/taskqueue"
)

func TestMatchesMediaTypeDisjunctionAcrossListsConjunction(t *testing.T) {
	filters := models.WorkflowFilters{
		MediaTypes:   []models.MediaType{models.MediaImage, models.MediaVideo},
		ContentTypes: []string{"image/png"},
	}
	folderID := "folder-1"
	media := models.Media{Type: models.MediaImage, ContentType: "image/png", FolderID: &folderID}
	if !Matches(filters, media) {
		t.Fatal("expected match: both media_types and content_types lists satisfied")
	}

	media.ContentType = "image/jpeg"
	if Matches(filters, media) {
		t.Fatal("expected no match: content_types list unsatisfied")
	}
}

func TestMatchesFolderIDsRequiresNonNilFolder(t *testing.T) {
	filters := models.WorkflowFilters{FolderIDs: []string{"folder-1"}}
	if Matches(filters, models.Media{FolderID: nil}) {
		t.Fatal("expected no match for media with no folder")
	}
	folderID := "folder-2"
	if Matches(filters, models.Media{FolderID: &folderID}) {
		t.Fatal("expected no match for folder not in list")
	}
}

func TestMatchesMetadataFilterIsSubsetMatch(t *testing.T) {
	filters := models.WorkflowFilters{MetadataFilter: map[string]any{"campaign": "q3-launch"}}
	media := models.Media{Metadata: map[string]any{"campaign": "q3-launch", "extra": "ignored"}}
	if !Matches(filters, media) {
		t.Fatal("expected match: metadata filter is a subset of media metadata")
	}

	media.Metadata["campaign"] = "q4-launch"
	if Matches(filters, media) {
		t.Fatal("expected no match: metadata value differs")
	}
}

func TestMatchesEmptyFiltersAlwaysMatch(t *testing.T) {
	if !Matches(models.WorkflowFilters{}, models.Media{}) {
		t.Fatal("expected empty filters to match anything")
	}
}

type fakeStore struct {
	workflows  map[string]models.Workflow
	executions map[string]models.WorkflowExecution
	configs    map[string]models.PluginConfig
	pluginExec map[string]models.PluginExecution
	media      map[string]models.Media
	advances   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		workflows:  map[string]models.Workflow{},
		executions: map[string]models.WorkflowExecution{},
		configs:    map[string]models.PluginConfig{},
		pluginExec: map[string]models.PluginExecution{},
		media:      map[string]models.Media{},
	}
}

func (f *fakeStore) GetWorkflow(ctx context.Context, tenantID, id string) (models.Workflow, error) {
	wf, ok := f.workflows[id]
	if !ok {
		return models.Workflow{}, notFoundErr{}
	}
	return wf, nil
}

func (f *fakeStore) ListUploadTriggeredWorkflows(ctx context.Context, tenantID string) ([]models.Workflow, error) {
	var out []models.Workflow
	for _, wf := range f.workflows {
		if wf.TenantID == tenantID && wf.Enabled && wf.TriggerOnUpload {
			out = append(out, wf)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateWorkflowExecution(ctx context.Context, we models.WorkflowExecution) (models.WorkflowExecution, error) {
	we.ID = "exec-" + we.WorkflowID
	we.Status = models.WorkflowExecRunning
	we.CurrentStep = 0
	f.executions[we.ID] = we
	return we, nil
}

func (f *fakeStore) GetWorkflowExecution(ctx context.Context, id string) (models.WorkflowExecution, error) {
	return f.executions[id], nil
}

func (f *fakeStore) AdvanceWorkflowExecution(ctx context.Context, id string, status models.WorkflowExecutionStatus, currentStep int, taskIDs []string) (models.WorkflowExecution, error) {
	we := f.executions[id]
	we.Status = status
	we.CurrentStep = currentStep
	we.TaskIDs = append(we.TaskIDs, taskIDs...)
	f.executions[id] = we
	f.advances = append(f.advances, string(status))
	return we, nil
}

func (f *fakeStore) GetPluginConfig(ctx context.Context, tenantID, pluginName string) (models.PluginConfig, error) {
	cfg, ok := f.configs[tenantID+"/"+pluginName]
	if !ok {
		return models.PluginConfig{}, notFoundErr{}
	}
	return cfg, nil
}

func (f *fakeStore) CreatePluginExecution(ctx context.Context, e models.PluginExecution) (models.PluginExecution, error) {
	e.ID = "plugin-exec-" + e.PluginName
	f.pluginExec[e.ID] = e
	return e, nil
}

func (f *fakeStore) UpdatePluginExecution(ctx context.Context, id string, status models.PluginExecutionStatus, result map[string]any, execErr string, usage models.Usage) (models.PluginExecution, error) {
	e := f.pluginExec[id]
	e.Status = status
	e.Result = result
	e.Error = execErr
	e.Usage = usage
	f.pluginExec[id] = e
	return e, nil
}

func (f *fakeStore) GetMedia(ctx context.Context, tenantID, id string) (models.Media, error) {
	return f.media[id], nil
}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "not found" }
func (notFoundErr) Status() int   { return 404 }

type fakeTasks struct {
	submitted []taskqueue.SubmitParams
}

func (f *fakeTasks) Submit(ctx context.Context, p taskqueue.SubmitParams) (models.Task, error) {
	f.submitted = append(f.submitted, p)
	return models.Task{ID: "task-1"}, nil
}

type fakeEmitter struct {
	events []string
}

func (f *fakeEmitter) Emit(ctx context.Context, tenantID, eventType string, data map[string]any) error {
	f.events = append(f.events, eventType)
	return nil
}

type alwaysSucceedsPlugin struct{}

func (alwaysSucceedsPlugin) Name() string                               { return "always-ok" }
func (alwaysSucceedsPlugin) ValidateConfig(map[string]any) error        { return nil }
func (alwaysSucceedsPlugin) Execute(ctx context.Context, pc plugin.Context) (plugin.Result, error) {
	return plugin.Result{Status: plugin.ResultSuccess, Data: map[string]any{"ok": true}}, nil
}

type alwaysFailsPlugin struct{}

func (alwaysFailsPlugin) Name() string                        { return "always-fail" }
func (alwaysFailsPlugin) ValidateConfig(map[string]any) error { return nil }
func (alwaysFailsPlugin) Execute(ctx context.Context, pc plugin.Context) (plugin.Result, error) {
	return plugin.Result{Status: plugin.ResultFailed, Error: "synthetic failure"}, nil
}

func newTestEngine(registry *plugin.Registry, store *fakeStore, tasks *fakeTasks, emitter *fakeEmitter) *Engine {
	return NewEngine(registry, store, tasks, nil, nil, emitter, nil, nil)
}

func twoStepWorkflow(tenantID string, stopOnFailure bool, second string) models.Workflow {
	return models.Workflow{
		ID:              "wf-1",
		TenantID:        tenantID,
		Name:            "two steps",
		Enabled:         true,
		TriggerOnUpload: true,
		StopOnFailure:   stopOnFailure,
		Steps: []models.WorkflowStep{
			{PluginName: "always-ok"},
			{PluginName: second},
		},
	}
}

func registerConfigs(store *fakeStore, tenantID string, names ...string) {
	for _, n := range names {
		store.configs[tenantID+"/"+n] = models.PluginConfig{TenantID: tenantID, PluginName: n, Enabled: true}
	}
}

func TestTriggerOnUploadStartsMatchingWorkflow(t *testing.T) {
	store := newFakeStore()
	wf := twoStepWorkflow("tenant-1", true, "always-ok")
	wf.Filters = models.WorkflowFilters{MediaTypes: []models.MediaType{models.MediaImage}}
	store.workflows[wf.ID] = wf
	registerConfigs(store, "tenant-1", "always-ok")

	registry := plugin.NewRegistry()
	registry.Register(alwaysSucceedsPlugin{}, plugin.Info{Name: "always-ok"})
	tasks := &fakeTasks{}
	engine := newTestEngine(registry, store, tasks, &fakeEmitter{})

	media := models.Media{ID: "media-1", TenantID: "tenant-1", Type: models.MediaImage}
	if err := engine.TriggerOnUpload(context.Background(), "tenant-1", media); err != nil {
		t.Fatalf("TriggerOnUpload: %v", err)
	}
	if len(tasks.submitted) != 1 || tasks.submitted[0].Type != models.TaskWorkflowStep {
		t.Fatalf("expected one workflow step task submitted, got %+v", tasks.submitted)
	}
	if len(store.executions) != 1 {
		t.Fatalf("expected one execution created, got %d", len(store.executions))
	}
}

func TestTriggerOnUploadSkipsNonMatchingWorkflow(t *testing.T) {
	store := newFakeStore()
	wf := twoStepWorkflow("tenant-1", true, "always-ok")
	wf.Filters = models.WorkflowFilters{MediaTypes: []models.MediaType{models.MediaVideo}}
	store.workflows[wf.ID] = wf

	registry := plugin.NewRegistry()
	tasks := &fakeTasks{}
	engine := newTestEngine(registry, store, tasks, &fakeEmitter{})

	media := models.Media{ID: "media-1", TenantID: "tenant-1", Type: models.MediaImage}
	if err := engine.TriggerOnUpload(context.Background(), "tenant-1", media); err != nil {
		t.Fatalf("TriggerOnUpload: %v", err)
	}
	if len(tasks.submitted) != 0 {
		t.Fatalf("expected no task submitted for non-matching workflow, got %+v", tasks.submitted)
	}
}

func TestHandleAdvancesToNextStepOnSuccess(t *testing.T) {
	store := newFakeStore()
	wf := twoStepWorkflow("tenant-1", true, "always-ok")
	store.workflows[wf.ID] = wf
	registerConfigs(store, "tenant-1", "always-ok")
	execution, _ := store.CreateWorkflowExecution(context.Background(), models.WorkflowExecution{WorkflowID: wf.ID, MediaID: "media-1"})

	registry := plugin.NewRegistry()
	registry.Register(alwaysSucceedsPlugin{}, plugin.Info{Name: "always-ok"})
	tasks := &fakeTasks{}
	engine := newTestEngine(registry, store, tasks, &fakeEmitter{})

	payload, _ := json.Marshal(stepPayload{ExecutionID: execution.ID, WorkflowID: wf.ID, TenantID: "tenant-1", MediaID: "media-1", StepIndex: 0})
	_, err := engine.Handle(context.Background(), models.Task{ID: "task-1", Payload: payload})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(tasks.submitted) != 1 {
		t.Fatalf("expected next step task submitted, got %+v", tasks.submitted)
	}
	var next stepPayload
	_ = json.Unmarshal(mustMarshal(tasks.submitted[0].Payload), &next)
	if next.StepIndex != 1 {
		t.Fatalf("expected step index 1, got %d", next.StepIndex)
	}
	if store.executions[execution.ID].Status != models.WorkflowExecRunning {
		t.Fatalf("expected execution still running, got %s", store.executions[execution.ID].Status)
	}
}

func TestHandleCompletesExecutionOnLastStepSuccess(t *testing.T) {
	store := newFakeStore()
	wf := twoStepWorkflow("tenant-1", true, "always-ok")
	store.workflows[wf.ID] = wf
	registerConfigs(store, "tenant-1", "always-ok")
	execution, _ := store.CreateWorkflowExecution(context.Background(), models.WorkflowExecution{WorkflowID: wf.ID, MediaID: "media-1"})

	registry := plugin.NewRegistry()
	registry.Register(alwaysSucceedsPlugin{}, plugin.Info{Name: "always-ok"})
	tasks := &fakeTasks{}
	emitter := &fakeEmitter{}
	engine := newTestEngine(registry, store, tasks, emitter)

	payload, _ := json.Marshal(stepPayload{ExecutionID: execution.ID, WorkflowID: wf.ID, TenantID: "tenant-1", MediaID: "media-1", StepIndex: 1})
	if _, err := engine.Handle(context.Background(), models.Task{ID: "task-2", Payload: payload}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(tasks.submitted) != 0 {
		t.Fatalf("expected no further task submitted after last step, got %+v", tasks.submitted)
	}
	if store.executions[execution.ID].Status != models.WorkflowExecCompleted {
		t.Fatalf("expected execution completed, got %s", store.executions[execution.ID].Status)
	}
	if len(emitter.events) != 1 || emitter.events[0] != "workflow.completed" {
		t.Fatalf("expected workflow.completed event, got %+v", emitter.events)
	}
}

func TestHandleStopsOnFailureWhenConfigured(t *testing.T) {
	store := newFakeStore()
	wf := twoStepWorkflow("tenant-1", true, "always-fail")
	store.workflows[wf.ID] = wf
	registerConfigs(store, "tenant-1", "always-ok", "always-fail")
	execution, _ := store.CreateWorkflowExecution(context.Background(), models.WorkflowExecution{WorkflowID: wf.ID, MediaID: "media-1"})

	registry := plugin.NewRegistry()
	registry.Register(alwaysSucceedsPlugin{}, plugin.Info{Name: "always-ok"})
	registry.Register(alwaysFailsPlugin{}, plugin.Info{Name: "always-fail"})
	tasks := &fakeTasks{}
	emitter := &fakeEmitter{}
	engine := newTestEngine(registry, store, tasks, emitter)

	payload, _ := json.Marshal(stepPayload{ExecutionID: execution.ID, WorkflowID: wf.ID, TenantID: "tenant-1", MediaID: "media-1", StepIndex: 1})
	if _, err := engine.Handle(context.Background(), models.Task{ID: "task-2", Payload: payload}); err == nil {
		t.Fatal("expected error from failing step")
	}
	if store.executions[execution.ID].Status != models.WorkflowExecFailed {
		t.Fatalf("expected execution failed, got %s", store.executions[execution.ID].Status)
	}
	if len(emitter.events) != 1 || emitter.events[0] != "workflow.failed" {
		t.Fatalf("expected workflow.failed event, got %+v", emitter.events)
	}
	if len(tasks.submitted) != 0 {
		t.Fatalf("expected no further task submitted after stop-on-failure, got %+v", tasks.submitted)
	}
}

func TestHandleContinuesPastFailureWhenNotStopping(t *testing.T) {
	store := newFakeStore()
	wf := twoStepWorkflow("tenant-1", false, "always-fail")
	store.workflows[wf.ID] = wf
	registerConfigs(store, "tenant-1", "always-ok", "always-fail")
	execution, _ := store.CreateWorkflowExecution(context.Background(), models.WorkflowExecution{WorkflowID: wf.ID, MediaID: "media-1"})

	registry := plugin.NewRegistry()
	registry.Register(alwaysSucceedsPlugin{}, plugin.Info{Name: "always-ok"})
	registry.Register(alwaysFailsPlugin{}, plugin.Info{Name: "always-fail"})
	tasks := &fakeTasks{}
	emitter := &fakeEmitter{}
	engine := newTestEngine(registry, store, tasks, emitter)

	// step 1 (the failing, last step) fails but stop_on_failure is false, so
	// the run still reaches completion instead of being marked failed.
	payload, _ := json.Marshal(stepPayload{ExecutionID: execution.ID, WorkflowID: wf.ID, TenantID: "tenant-1", MediaID: "media-1", StepIndex: 1})
	if _, err := engine.Handle(context.Background(), models.Task{ID: "task-2", Payload: payload}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if store.executions[execution.ID].Status != models.WorkflowExecCompleted {
		t.Fatalf("expected execution completed despite non-stopping failure, got %s", store.executions[execution.ID].Status)
	}
	if len(emitter.events) != 1 || emitter.events[0] != "workflow.completed" {
		t.Fatalf("expected workflow.completed event, got %+v", emitter.events)
	}
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
