// Package models defines the relational catalog's row types shared across
// the storage, catalog, task, webhook, plugin, and workflow packages.
package models

import "time"

// TenantStatus enumerates the lifecycle states of a Tenant.
type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
	TenantDeleted   TenantStatus = "deleted"
)

// Tenant is the isolation boundary for every row in the catalog.
type Tenant struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Status    TenantStatus `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// DefaultTenantID is the reserved tenant used for deployments that do not
// enable multi-tenant isolation.
const DefaultTenantID = "default"

// Active reports whether the tenant may authenticate and be served traffic.
func (t Tenant) Active() bool {
	return t.Status == TenantActive
}

// ApiKey is a hashed bearer credential scoped to a tenant.
type ApiKey struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenantId"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"keyPrefix"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	IsActive   bool       `json:"isActive"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Expired reports whether the key's expiry has passed as of now.
func (k ApiKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}

// MediaType discriminates the sum type backing the unified Media row.
type MediaType string

const (
	MediaImage    MediaType = "image"
	MediaVideo    MediaType = "video"
	MediaAudio    MediaType = "audio"
	MediaDocument MediaType = "document"
)

// ProcessingStatus tracks the lifecycle of asynchronous post-ingest work
// (transcoding, moderation) against a single media row.
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingProcessing ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
)

// StorageBackend names the object storage adapter backing a StorageLocation.
type StorageBackend string

const (
	BackendS3    StorageBackend = "s3"
	BackendLocal StorageBackend = "local"
	BackendNFS   StorageBackend = "nfs"
)

// StorageLocation identifies the single object backing a Media row.
type StorageLocation struct {
	Backend StorageBackend `json:"backend"`
	Bucket  string         `json:"bucket,omitempty"`
	Key     string         `json:"key"`
	URL     string         `json:"url"`
}

// VideoVariant describes one rung of an HLS transcoding ladder.
type VideoVariant struct {
	Name         string `json:"name"`
	Height       int    `json:"height"`
	Width        int    `json:"width"`
	BitrateKbps  int    `json:"bitrateKbps"`
	PlaylistPath string `json:"playlistPath"`
}

// Media is the discriminated union Image | Video | Audio | Document. Shared
// fields are hoisted to the top level; variant-specific fields are grouped
// and left zero-valued for types that don't use them.
type Media struct {
	ID                string           `json:"id"`
	TenantID          string           `json:"tenantId"`
	Type              MediaType        `json:"entityType"`
	Filename          string           `json:"filename"`
	OriginalFilename  string           `json:"originalFilename"`
	ContentType       string           `json:"contentType"`
	FileSize          int64            `json:"fileSize"`
	UploadedAt        time.Time        `json:"uploadedAt"`
	StorePermanently  bool             `json:"storePermanently"`
	ExpiresAt         *time.Time       `json:"expiresAt,omitempty"`
	FolderID          *string          `json:"folderId,omitempty"`
	Storage           StorageLocation  `json:"storage"`
	Metadata          map[string]any   `json:"metadata,omitempty"`
	ProcessingStatus  ProcessingStatus `json:"processingStatus,omitempty"`
	ErrorMessage      string           `json:"errorMessage,omitempty"`
	Width             int              `json:"width,omitempty"`
	Height            int              `json:"height,omitempty"`
	DurationSeconds   float64          `json:"durationSeconds,omitempty"`
	HLSMasterPlaylist string           `json:"hlsMasterPlaylist,omitempty"`
	Variants          []VideoVariant   `json:"variants,omitempty"`
	DeletedAt         *time.Time       `json:"deletedAt,omitempty"`
}

// Expired reports whether a non-permanent media row is past its TTL.
func (m Media) Expired(now time.Time) bool {
	return !m.StorePermanently && m.ExpiresAt != nil && m.ExpiresAt.Before(now)
}

// TranscodeComplete reports whether a video has already been through the
// HLS ladder, used by the transcode orchestrator's idempotency short-circuit.
func (m Media) TranscodeComplete() bool {
	return m.Type == MediaVideo && m.ProcessingStatus == ProcessingCompleted && m.HLSMasterPlaylist != ""
}

// Folder is a tenant-scoped node in an acyclic naming tree.
type Folder struct {
	ID       string  `json:"id"`
	TenantID string  `json:"tenantId"`
	ParentID *string `json:"parentId,omitempty"`
	Name     string  `json:"name"`
}

// MaxFileGroupItems bounds the number of media rows a FileGroup may
// reference.
const MaxFileGroupItems = 1000

// FileGroup is an ordered, size-bounded collection of media belonging to one
// tenant.
type FileGroup struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	CreatedAt time.Time `json:"createdAt"`
}

// FileGroupItem pins a Media row at a position within a FileGroup.
type FileGroupItem struct {
	GroupID string `json:"groupId"`
	MediaID string `json:"mediaId"`
	Index   int    `json:"index"`
}

// TaskPriority orders pending tasks within the lease query; higher values
// are leased first.
type TaskPriority int

const (
	PriorityLow TaskPriority = iota
	PriorityNormal
	PriorityHigh
)

// TaskStatus enumerates the task queue's state machine.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskLeased    TaskStatus = "leased"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// TaskType is the static dispatch key a worker uses to resolve a handler.
type TaskType string

const (
	TaskVideoTranscode    TaskType = "video_transcode"
	TaskContentModeration TaskType = "content_moderation"
	TaskPluginExecution   TaskType = "plugin_execution"
	TaskGenerateEmbedding TaskType = "generate_embedding"
	TaskWorkflowStep      TaskType = "workflow_step"
	TaskWebhookDelivery   TaskType = "webhook_delivery"
)

// Task is a durable, leasable unit of post-ingest work.
type Task struct {
	ID               string       `json:"id"`
	TenantID         string       `json:"tenantId"`
	Type             TaskType     `json:"taskType"`
	Payload          []byte       `json:"payload"`
	Priority         TaskPriority `json:"priority"`
	Status           TaskStatus   `json:"status"`
	Attempts         int          `json:"attempts"`
	MaxAttempts      int          `json:"maxAttempts"`
	ScheduledAt      time.Time    `json:"scheduledAt"`
	LeasedUntil      *time.Time   `json:"leasedUntil,omitempty"`
	LeasedBy         string       `json:"leasedBy,omitempty"`
	Result           []byte       `json:"result,omitempty"`
	LastError        string       `json:"lastError,omitempty"`
	DeduplicationKey string       `json:"deduplicationKey,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// Terminal reports whether the task has reached a state it cannot leave.
func (t Task) Terminal() bool {
	switch t.Status {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// LeaseExpired reports whether a leased task's lease has lapsed without a
// heartbeat, making it eligible for the janitor to reclaim.
func (t Task) LeaseExpired(now time.Time) bool {
	return t.Status == TaskLeased && t.LeasedUntil != nil && t.LeasedUntil.Before(now)
}

// WebhookEventStatus enumerates delivery outcomes recorded per attempt.
type WebhookEventStatus string

const (
	WebhookEventPending  WebhookEventStatus = "pending"
	WebhookEventSuccess  WebhookEventStatus = "success"
	WebhookEventFailed   WebhookEventStatus = "failed"
	WebhookEventRetrying WebhookEventStatus = "retrying"
)

// Webhook is a tenant-configured HTTP callback target for one event type.
type Webhook struct {
	ID                  string     `json:"id"`
	TenantID             string     `json:"tenantId"`
	URL                  string     `json:"url"`
	EventType            string     `json:"eventType"`
	SigningSecret        string     `json:"-"`
	IsActive             bool       `json:"isActive"`
	DeactivatedAt        *time.Time `json:"deactivatedAt,omitempty"`
	DeactivationReason   string     `json:"deactivationReason,omitempty"`
	ConsecutiveFailures  int        `json:"-"`
	CreatedAt            time.Time  `json:"createdAt"`
}

// WebhookEventLog records a single fan-out attempt for a Webhook.
type WebhookEventLog struct {
	ID             string             `json:"id"`
	WebhookID      string             `json:"webhookId"`
	TenantID       string             `json:"tenantId"`
	EventType      string             `json:"eventType"`
	Payload        []byte             `json:"payload"`
	Status         WebhookEventStatus `json:"status"`
	ResponseStatus *int               `json:"responseStatus,omitempty"`
	RetryCount     int                `json:"retryCount"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

// WebhookRetryQueueItem is the at-most-one-active-per-event retry row.
type WebhookRetryQueueItem struct {
	ID             string    `json:"id"`
	WebhookEventID string    `json:"webhookEventId"`
	WebhookID      string    `json:"webhookId"`
	TenantID       string    `json:"tenantId"`
	RetryCount     int       `json:"retryCount"`
	MaxRetries     int       `json:"maxRetries"`
	NextRetryAt    time.Time `json:"nextRetryAt"`
	LastError      string    `json:"lastError,omitempty"`
}

// Exhausted reports whether the retry item has used up its retry budget.
func (w WebhookRetryQueueItem) Exhausted() bool {
	return w.RetryCount >= w.MaxRetries
}

// PluginConfig is the tenant-scoped, partially-encrypted configuration for a
// named plugin.
type PluginConfig struct {
	TenantID        string         `json:"tenantId"`
	PluginName      string         `json:"pluginName"`
	Enabled         bool           `json:"enabled"`
	PublicConfig    map[string]any `json:"publicConfig"`
	EncryptedConfig []byte         `json:"-"`
	UsesEncryption  bool           `json:"usesEncryption"`
}

// PluginExecutionStatus enumerates the lifecycle of one plugin run.
type PluginExecutionStatus string

const (
	PluginExecPending    PluginExecutionStatus = "pending"
	PluginExecProcessing PluginExecutionStatus = "processing"
	PluginExecCompleted  PluginExecutionStatus = "completed"
	PluginExecFailed     PluginExecutionStatus = "failed"
)

// Usage captures billable unit accounting for one plugin execution.
type Usage struct {
	UnitType    string         `json:"unitType,omitempty"`
	InputUnits  float64        `json:"inputUnits,omitempty"`
	OutputUnits float64        `json:"outputUnits,omitempty"`
	TotalUnits  float64        `json:"totalUnits,omitempty"`
	Raw         map[string]any `json:"raw,omitempty"`
}

// PluginExecution records one invocation of a plugin against a media item.
type PluginExecution struct {
	ID         string                `json:"id"`
	TenantID   string                `json:"tenantId"`
	PluginName string                `json:"pluginName"`
	MediaID    string                `json:"mediaId"`
	TaskID     *string               `json:"taskId,omitempty"`
	Status     PluginExecutionStatus `json:"status"`
	Result     map[string]any        `json:"result,omitempty"`
	Error      string                `json:"error,omitempty"`
	Usage      Usage                 `json:"usage"`
	CreatedAt  time.Time             `json:"createdAt"`
	UpdatedAt  time.Time             `json:"updatedAt"`
}

// WorkflowStep is one plugin invocation within a Workflow's ordered steps.
type WorkflowStep struct {
	PluginName      string         `json:"pluginName"`
	ConfigOverrides map[string]any `json:"configOverrides,omitempty"`
}

// WorkflowFilters gates whether a Workflow triggers for a given upload.
type WorkflowFilters struct {
	MediaTypes     []MediaType    `json:"mediaTypes,omitempty"`
	FolderIDs      []string       `json:"folderIds,omitempty"`
	ContentTypes   []string       `json:"contentTypes,omitempty"`
	MetadataFilter map[string]any `json:"metadataFilter,omitempty"`
}

// Workflow is a declarative, linear pipeline of plugin invocations.
type Workflow struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenantId"`
	Name            string          `json:"name"`
	Enabled         bool            `json:"enabled"`
	Steps           []WorkflowStep  `json:"steps"`
	TriggerOnUpload bool            `json:"triggerOnUpload"`
	StopOnFailure   bool            `json:"stopOnFailure"`
	Filters         WorkflowFilters `json:"filters"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// WorkflowExecutionStatus enumerates the lifecycle of a WorkflowExecution.
type WorkflowExecutionStatus string

const (
	WorkflowExecRunning   WorkflowExecutionStatus = "running"
	WorkflowExecCompleted WorkflowExecutionStatus = "completed"
	WorkflowExecFailed    WorkflowExecutionStatus = "failed"
)

// WorkflowExecution tracks progress of one Workflow run over one media item.
type WorkflowExecution struct {
	ID          string                  `json:"id"`
	WorkflowID  string                  `json:"workflowId"`
	MediaID     string                  `json:"mediaId"`
	Status      WorkflowExecutionStatus `json:"status"`
	TaskIDs     []string                `json:"taskIds"`
	CurrentStep int                     `json:"currentStep"`
	CreatedAt   time.Time               `json:"createdAt"`
	UpdatedAt   time.Time               `json:"updatedAt"`
}

// Embedding is a tenant-scoped vector row used for semantic search.
type Embedding struct {
	TenantID   string    `json:"tenantId"`
	EntityID   string    `json:"entityId"`
	EntityType string    `json:"entityType"`
	Vector     []float32 `json:"vector"`
	Model      string    `json:"model"`
}

// NamedTransformation is a tenant-defined alias for a transformation string.
// Operations never reference another preset, so resolution never recurses.
type NamedTransformation struct {
	TenantID   string `json:"tenantId"`
	Name       string `json:"name"`
	Operations string `json:"operations"`
}

// PresignedUploadSessionStatus enumerates a chunked/presigned upload's
// state.
type PresignedUploadSessionStatus string

const (
	UploadSessionPending   PresignedUploadSessionStatus = "pending"
	UploadSessionUploading PresignedUploadSessionStatus = "uploading"
	UploadSessionCompleted PresignedUploadSessionStatus = "completed"
	UploadSessionFailed    PresignedUploadSessionStatus = "failed"
)

// PresignedUploadSession tracks a multi-request upload prior to catalog
// insertion.
type PresignedUploadSession struct {
	ID           string                       `json:"id"`
	TenantID     string                       `json:"tenantId"`
	Filename     string                       `json:"filename"`
	ContentType  string                       `json:"contentType"`
	FileSize     int64                        `json:"fileSize"`
	MediaType    MediaType                    `json:"mediaType"`
	StorageKey   string                       `json:"storageKey"`
	ExpiresAt    time.Time                    `json:"expiresAt"`
	Status       PresignedUploadSessionStatus `json:"status"`
	ChunkSize    *int64                       `json:"chunkSize,omitempty"`
	ChunkCount   *int                         `json:"chunkCount,omitempty"`
	UploadedSize int64                        `json:"uploadedSize"`
}

// Complete reports whether the uploaded byte count has reached the declared
// file size; the chunk count is not consulted.
func (s PresignedUploadSession) Complete() bool {
	if s.ChunkCount == nil {
		return s.UploadedSize >= s.FileSize
	}
	return s.UploadedSize >= s.FileSize
}

// Expired reports whether the session's upload window has lapsed.
func (s PresignedUploadSession) Expired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}

// UploadChunk records one received chunk of a chunked upload session.
type UploadChunk struct {
	SessionID string `json:"sessionId"`
	Index     int    `json:"index"`
	Size      int64  `json:"size"`
	ETag      string `json:"etag,omitempty"`
}
