package edgequake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/armadahq/datacore/internal/models"
	"github.com/armadahq/datacore/internal/plugin"
	"github.com/armadahq/datacore/internal/storage"
)

// Projections определяет срез vault, нужный адаптеру для staleness-проверки
type Projections interface {
	GetLatest(ctx context.Context, domain, path string) (*models.DocumentProjection, error)
}

// Adapter реализует plugin.Index поверх внешнего EdgeQuake-style API.
// Контракт: идемпотентное применение per-event, подавление устаревших jobs,
// ограниченный экспоненциальный retry с терминальным failed. Локальный
// write path от адаптера не зависит ни при каких сбоях.
type Adapter struct {
	client     *Client
	catalog    *Catalog
	store      storage.PluginStorage
	docs       Projections
	logger     *slog.Logger
	clusterID  string
	maxRetries int
	drainBatch int
	now        func() int64
}

// NewAdapter creates a new plugin sync adapter
func NewAdapter(client *Client, catalog *Catalog, store storage.PluginStorage, docs Projections,
	logger *slog.Logger, clusterID string, maxRetries, drainBatch int) *Adapter {
	return &Adapter{
		client:     client,
		catalog:    catalog,
		store:      store,
		docs:       docs,
		logger:     logger,
		clusterID:  clusterID,
		maxRetries: maxRetries,
		drainBatch: drainBatch,
		now:        func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc подменяет источник времени (для тестов)
func (a *Adapter) SetNowFunc(now func() int64) {
	a.now = now
}

// Enabled always returns true: адаптер конструируется только при включенном плагине
func (a *Adapter) Enabled() bool { return true }

// QueryHybrid выполняет hybrid-запрос против workspace плагина
func (a *Adapter) QueryHybrid(ctx context.Context, q plugin.HybridQuery) ([]plugin.HybridResult, error) {
	workspaceID := ""
	slug := ""

	if q.Domain != "" {
		var err error
		slug = WorkspaceSlug(a.clusterID, q.Domain)
		workspaceID, err = a.resolveWorkspace(ctx, slug, q.Domain)
		if err != nil {
			return nil, err
		}
	}

	resp, err := a.client.QueryHybrid(ctx, workspaceID, q.Query, q.PathPrefix, q.K)
	if err != nil {
		return nil, err
	}

	results := make([]plugin.HybridResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, plugin.HybridResult{
			WorkspaceSlug: slug,
			RemoteDocID:   r.DocumentID,
			Snippet:       r.Snippet,
			Heading:       r.Heading,
			Score:         r.Score,
		})
	}

	return results, nil
}

// DrainPending обрабатывает один bounded батч накопленных sync jobs.
// Пустая очередь — no-op.
func (a *Adapter) DrainPending(ctx context.Context) error {
	jobs, err := a.store.ClaimDuePluginJobs(ctx, a.now(), a.drainBatch)
	if err != nil {
		return fmt.Errorf("failed to claim plugin jobs: %w", err)
	}

	for _, job := range jobs {
		a.executeJob(ctx, job)

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	return nil
}

// executeJob выполняет одну доставку; результат фиксируется на job
func (a *Adapter) executeJob(ctx context.Context, job *models.PluginSyncJob) {
	job.UpdatedAt = a.now()

	stale, latest, err := a.checkStale(ctx, job)
	if err != nil {
		a.recordFailure(ctx, job, err)
		return
	}
	if stale {
		// Более новое событие уже вытеснило это — доставлять нечего
		job.Status = models.PluginJobSkipped
		job.LastError = fmt.Sprintf("superseded by event %s", latest)
		a.updateJob(ctx, job)
		return
	}

	if err := a.dispatch(ctx, job); err != nil {
		a.recordFailure(ctx, job, err)
		return
	}

	job.Status = models.PluginJobSucceeded
	job.LastError = ""
	a.updateJob(ctx, job)
}

// checkStale возвращает true, если job устарел относительно projection
func (a *Adapter) checkStale(ctx context.Context, job *models.PluginSyncJob) (bool, string, error) {
	if job.Operation == models.OpDelete {
		return false, "", nil
	}

	doc, err := a.docs.GetLatest(ctx, job.Domain, job.CanonicalPath)
	if err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			// Projection исчезла — событие заведомо неактуально
			return true, "", nil
		}
		return false, "", fmt.Errorf("failed to load projection: %w", err)
	}

	if IsStaleSyncJob(job.Operation, job.EventID, doc.LatestEventID) {
		return true, doc.LatestEventID, nil
	}

	return false, "", nil
}

// dispatch выполняет вызов API плагина для job
func (a *Adapter) dispatch(ctx context.Context, job *models.PluginSyncJob) error {
	slug := WorkspaceSlug(a.clusterID, job.Domain)
	workspaceID, err := a.resolveWorkspace(ctx, slug, job.Domain)
	if err != nil {
		return err
	}

	if job.Operation == models.OpDelete {
		return a.client.DeleteDocument(ctx, workspaceID, job.CanonicalPath)
	}

	doc, err := a.docs.GetLatest(ctx, job.Domain, job.CanonicalPath)
	if err != nil {
		return fmt.Errorf("failed to load document for upload: %w", err)
	}

	remoteDocID, err := a.client.UpsertDocument(ctx, workspaceID, job.CanonicalPath, doc.Title, doc.Content)
	if err != nil {
		return err
	}

	mapping := &models.PluginDocumentMapping{
		WorkspaceSlug: slug,
		RemoteDocID:   remoteDocID,
		Domain:        job.Domain,
		CanonicalPath: job.CanonicalPath,
	}
	if err := a.store.UpsertDocumentMapping(ctx, mapping); err != nil {
		return fmt.Errorf("failed to record document mapping: %w", err)
	}

	return nil
}

// resolveWorkspace возвращает remote id workspace: кеш каталога ->
// локальная таблица -> создание через API плагина
func (a *Adapter) resolveWorkspace(ctx context.Context, slug, domain string) (string, error) {
	if remoteID, ok := a.catalog.Get(slug); ok {
		return remoteID, nil
	}

	if ws, err := a.store.GetWorkspace(ctx, slug); err == nil {
		if cerr := a.catalog.Put(slug, ws.RemoteID); cerr != nil {
			a.logger.Warn("Failed to cache workspace id", "slug", slug, "error", cerr)
		}
		return ws.RemoteID, nil
	} else if !errors.Is(err, storage.ErrWorkspaceNotFound) {
		return "", fmt.Errorf("failed to look up workspace: %w", err)
	}

	remoteID, err := a.client.EnsureWorkspace(ctx, slug)
	if err != nil {
		return "", fmt.Errorf("failed to ensure workspace %q: %w", slug, err)
	}

	ws := &models.PluginWorkspace{
		Slug:      slug,
		Domain:    domain,
		RemoteID:  remoteID,
		CreatedAt: a.now(),
	}
	if err := a.store.UpsertWorkspace(ctx, ws); err != nil {
		return "", fmt.Errorf("failed to persist workspace: %w", err)
	}
	if err := a.catalog.Put(slug, remoteID); err != nil {
		a.logger.Warn("Failed to cache workspace id", "slug", slug, "error", err)
	}

	return remoteID, nil
}

// recordFailure применяет retry-политику: экспоненциальный backoff с
// потолком, после maxRetries попыток — терминальный failed (job остается
// как audit запись, локальное хранилище не затронуто)
func (a *Adapter) recordFailure(ctx context.Context, job *models.PluginSyncJob, cause error) {
	job.AttemptCount++
	job.LastError = cause.Error()

	if job.AttemptCount >= a.maxRetries {
		job.Status = models.PluginJobFailed
		a.logger.Error("Plugin sync job failed terminally",
			"job_id", job.ID,
			"event_id", job.EventID,
			"attempts", job.AttemptCount,
			"error", cause)
	} else {
		job.Status = models.PluginJobRetrying
		backoffMs := ComputeRetryBackoffMs(job.AttemptCount)
		job.NextAttemptAt = a.now() + backoffMs/1000
		a.logger.Warn("Plugin sync job failed, will retry",
			"job_id", job.ID,
			"event_id", job.EventID,
			"attempts", job.AttemptCount,
			"backoff_ms", backoffMs,
			"error", cause)
	}

	a.updateJob(ctx, job)
}

func (a *Adapter) updateJob(ctx context.Context, job *models.PluginSyncJob) {
	job.UpdatedAt = a.now()
	if err := a.store.UpdatePluginJob(ctx, job); err != nil {
		a.logger.Error("Failed to update plugin job", "job_id", job.ID, "error", err)
	}
}
