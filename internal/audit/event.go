package audit

import "time"

// Origin — откуда пришло событие: локальное действие или air-gapped импорт.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginImport Origin = "import"
)

// Action — словарь security-significant действий. Append-only история:
// события никогда не обновляются и не удаляются, retention бесконечный.
type Action string

const (
	ActionClearanceGrant    Action = "clearance.grant"
	ActionClearanceRevoke   Action = "clearance.revoke"
	ActionClearanceFlushAll Action = "clearance.flush_all"
	ActionAccessDenied      Action = "access.denied"
	ActionSubCreate         Action = "subscription.create"
	ActionSubDelete         Action = "subscription.delete"
	ActionSubRejected       Action = "subscription.rejected"
	ActionSubSuspended      Action = "subscription.suspended"
	ActionSyncOK            Action = "sync.success"
	ActionSyncFailed        Action = "sync.failure"
	ActionExport            Action = "bundle.export"
	ActionImport            Action = "bundle.import"
	ActionImportRejected    Action = "bundle.import_rejected"
	ActionLabelChange       Action = "notebook.label_change"
	ActionGroupEdgeAdd      Action = "group.edge_add"
)

type Event struct {
	ID        string                 `json:"id"`               // UUID события
	TraceID   string                 `json:"trace_id"`         // Сквозной ID запроса
	Actor     string                 `json:"actor,omitempty"`  // Кто делал (пусто для фоновых процессов)
	Action    Action                 `json:"action"`           // Что произошло
	Resource  string                 `json:"resource"`         // Над чем (notebook/subscription/clearance id)
	Detail    map[string]interface{} `json:"detail,omitempty"` // Контекст решения
	Origin    Origin                 `json:"origin"`
	Timestamp time.Time              `json:"timestamp"`
}
