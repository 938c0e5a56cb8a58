// Package plugin is the compile-time extension framework of spec §4.K: a
// read-mostly registry of named capabilities, a narrow PluginContext each
// execution is handed, and the Service that drives a plugin run through the
// task queue. Grounded on original_source's mindia-plugins/registry.rs
// (name -> Plugin map, reads never block writes) and handlers/plugins.rs
// (execute_plugin's verify/create-execution/submit-task flow); translated
// from an async RwLock map to a plain sync.RWMutex one, since registration
// here only ever happens at process startup.
package plugin

import (
	"context"

	"mindia/internal/models"
	"mindia/internal/objectstore"
)

// MediaRepo is the narrow media-catalog surface a plugin may read or write.
type MediaRepo interface {
	GetMedia(ctx context.Context, tenantID, id string) (models.Media, error)
}

// FileGroupRepo is the narrow file-group surface a plugin may read.
type FileGroupRepo interface {
	ListFileGroupItems(ctx context.Context, tenantID, groupID string) ([]models.FileGroupItem, error)
}

// Context is the only surface a plugin's Execute may touch: the tenant and
// media it runs against, handles to storage and the catalog, and its
// decrypted configuration merge.
type Context struct {
	TenantID      string
	MediaID       string
	Storage       objectstore.Store
	MediaRepo     MediaRepo
	FileGroupRepo FileGroupRepo
	Config        map[string]any
}

// ResultStatus is the outcome a plugin reports for one execution.
type ResultStatus string

const (
	// ResultSuccess means the plugin finished and Data/Usage are final.
	ResultSuccess ResultStatus = "success"
	// ResultProcessing means the plugin kicked off an external long-running
	// job; the engine stores Data's job id and schedules a follow-up check.
	ResultProcessing ResultStatus = "processing"
	// ResultFailed means the plugin could not complete the run.
	ResultFailed ResultStatus = "failed"
)

// Result is what a plugin hands back to the engine.
type Result struct {
	Status   ResultStatus
	Data     map[string]any
	Error    string
	Metadata map[string]any
	Usage    models.Usage
}

// Info describes a registered plugin for listing purposes.
type Info struct {
	Name                string
	Description         string
	SupportedMediaTypes []models.MediaType
}

// Plugin is the narrow capability every registered extension implements.
// Config validation is the plugin's own responsibility, since each plugin's
// schema is heterogeneous.
type Plugin interface {
	Name() string
	Execute(ctx context.Context, pc Context) (Result, error)
	ValidateConfig(config map[string]any) error
}
