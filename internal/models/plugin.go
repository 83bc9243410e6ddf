package models

// Статусы plugin sync job
const (
	PluginJobPending   = "pending"
	PluginJobRetrying  = "retrying"
	PluginJobSucceeded = "succeeded"
	PluginJobFailed    = "failed"  // терминальный: retries исчерпаны, job хранится как audit запись
	PluginJobSkipped   = "skipped" // терминальный: событие устарело до отправки
)

// PluginWorkspace сопоставляет (cluster, domain) с workspace внешнего плагина
type PluginWorkspace struct {
	Slug      string `json:"slug"`      // детерминированный: data-core-<cluster>-<domain>
	Domain    string `json:"domain"`
	RemoteID  string `json:"remote_id"` // идентификатор workspace на стороне плагина
	CreatedAt int64  `json:"created_at"`
}

// PluginDocumentMapping связывает документ плагина с локальным (domain, canonical_path).
// Используется для резолвинга citations из hybrid-ответов плагина.
type PluginDocumentMapping struct {
	WorkspaceSlug string `json:"workspace_slug"`
	RemoteDocID   string `json:"remote_doc_id"`
	Domain        string `json:"domain"`
	CanonicalPath string `json:"canonical_path"`
}

// PluginSyncJob представляет отложенную доставку одного применённого события
// во внешний индекс. Локальный write path от него не зависит.
type PluginSyncJob struct {
	ID            string `json:"id"`
	EventID       string `json:"event_id"`
	Operation     string `json:"operation"`
	Domain        string `json:"domain"`
	CanonicalPath string `json:"canonical_path"`
	Status        string `json:"status"`
	LastError     string `json:"last_error"`
	AttemptCount  int    `json:"attempt_count"`
	NextAttemptAt int64  `json:"next_attempt_at"` // unix время следующей попытки
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

// IsTerminal возвращает true для статусов, после которых job не обрабатывается
func (j *PluginSyncJob) IsTerminal() bool {
	switch j.Status {
	case PluginJobSucceeded, PluginJobFailed, PluginJobSkipped:
		return true
	}
	return false
}
