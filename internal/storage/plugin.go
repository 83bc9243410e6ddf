package storage

import (
	"context"

	"github.com/armadahq/datacore/internal/models"
)

// PluginStorage определяет контракт очереди plugin sync jobs и
// таблиц соответствия workspace/document внешнего плагина.
type PluginStorage interface {
	// EnqueuePluginJob ставит job на доставку события в индекс плагина
	EnqueuePluginJob(ctx context.Context, job *models.PluginSyncJob) error

	// ClaimDuePluginJobs атомарно забирает jobs, готовые к попытке
	// (pending/retrying с next_attempt_at <= now), не более limit
	ClaimDuePluginJobs(ctx context.Context, now int64, limit int) ([]*models.PluginSyncJob, error)

	// UpdatePluginJob фиксирует результат попытки
	UpdatePluginJob(ctx context.Context, job *models.PluginSyncJob) error

	// GetPluginJob возвращает job по id; ErrEventNotFound если нет
	GetPluginJob(ctx context.Context, id string) (*models.PluginSyncJob, error)

	// UpsertWorkspace сохраняет сопоставление slug -> remote workspace id
	UpsertWorkspace(ctx context.Context, ws *models.PluginWorkspace) error

	// GetWorkspace возвращает workspace по slug; ErrWorkspaceNotFound если нет
	GetWorkspace(ctx context.Context, slug string) (*models.PluginWorkspace, error)

	// UpsertDocumentMapping сохраняет сопоставление удаленного документа
	UpsertDocumentMapping(ctx context.Context, m *models.PluginDocumentMapping) error

	// ResolveDocumentMapping возвращает (domain, path) для remote doc id;
	// ErrDocumentNotFound если сопоставления нет
	ResolveDocumentMapping(ctx context.Context, workspaceSlug, remoteDocID string) (*models.PluginDocumentMapping, error)

	// ResolveDocumentMappingByDocID ищет сопоставление по remote doc id
	// во всех workspace (для tenant-wide запросов без фильтра домена)
	ResolveDocumentMappingByDocID(ctx context.Context, remoteDocID string) (*models.PluginDocumentMapping, error)
}
