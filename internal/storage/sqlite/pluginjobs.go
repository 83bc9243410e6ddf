package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/armadahq/datacore/internal/models"
	"github.com/armadahq/datacore/internal/storage"
)

const pluginJobColumns = `id, event_id, operation, domain, canonical_path,
	       status, attempt_count, next_attempt_at, last_error, created_at, updated_at`

// EnqueuePluginJob ставит job на доставку события во внешний индекс
func (s *Storage) EnqueuePluginJob(ctx context.Context, job *models.PluginSyncJob) error {
	query := `
		INSERT INTO plugin_sync_jobs (id, event_id, operation, domain, canonical_path,
		                              status, attempt_count, next_attempt_at, last_error,
		                              created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.EventID,
		job.Operation,
		job.Domain,
		job.CanonicalPath,
		job.Status,
		job.AttemptCount,
		job.NextAttemptAt,
		job.LastError,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue plugin job: %w", err)
	}

	return nil
}

// ClaimDuePluginJobs атомарно забирает jobs, готовые к попытке.
// UPDATE с подзапросом гарантирует, что job не достанется двум воркерам.
func (s *Storage) ClaimDuePluginJobs(ctx context.Context, now int64, limit int) ([]*models.PluginSyncJob, error) {
	query := `
		UPDATE plugin_sync_jobs
		SET claimed_at = ?
		WHERE id IN (
			SELECT id FROM plugin_sync_jobs
			WHERE status IN (?, ?)
			  AND next_attempt_at <= ?
			  AND (claimed_at IS NULL OR claimed_at < ?)
			ORDER BY next_attempt_at ASC, created_at ASC
			LIMIT ?
		)
		RETURNING ` + pluginJobColumns

	// аренда claim'а — 5 минут, как у merge jobs
	cutoff := now - 300

	rows, err := s.db.QueryContext(ctx, query,
		now, models.PluginJobPending, models.PluginJobRetrying, now, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim plugin jobs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var jobs []*models.PluginSyncJob
	for rows.Next() {
		job := &models.PluginSyncJob{}
		if err := scanPluginJob(rows, job); err != nil {
			return nil, fmt.Errorf("failed to scan plugin job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return jobs, nil
}

// UpdatePluginJob фиксирует результат попытки доставки
func (s *Storage) UpdatePluginJob(ctx context.Context, job *models.PluginSyncJob) error {
	query := `
		UPDATE plugin_sync_jobs
		SET status = ?, attempt_count = ?, next_attempt_at = ?,
		    last_error = ?, updated_at = ?, claimed_at = NULL
		WHERE id = ?
	`

	_, err := s.db.ExecContext(ctx, query,
		job.Status,
		job.AttemptCount,
		job.NextAttemptAt,
		job.LastError,
		job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update plugin job: %w", err)
	}

	return nil
}

// GetPluginJob возвращает job по id
func (s *Storage) GetPluginJob(ctx context.Context, id string) (*models.PluginSyncJob, error) {
	query := `SELECT ` + pluginJobColumns + ` FROM plugin_sync_jobs WHERE id = ?`

	job := &models.PluginSyncJob{}
	err := scanPluginJob(s.db.QueryRowContext(ctx, query, id), job)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get plugin job: %w", err)
	}

	return job, nil
}

// UpsertWorkspace сохраняет сопоставление slug -> remote workspace id
func (s *Storage) UpsertWorkspace(ctx context.Context, ws *models.PluginWorkspace) error {
	query := `
		INSERT INTO plugin_workspaces (slug, domain, remote_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (slug) DO UPDATE SET remote_id = excluded.remote_id
	`

	_, err := s.db.ExecContext(ctx, query, ws.Slug, ws.Domain, ws.RemoteID, ws.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert plugin workspace: %w", err)
	}

	return nil
}

// GetWorkspace возвращает workspace по slug
func (s *Storage) GetWorkspace(ctx context.Context, slug string) (*models.PluginWorkspace, error) {
	ws := &models.PluginWorkspace{}

	err := s.db.QueryRowContext(ctx,
		`SELECT slug, domain, remote_id, created_at FROM plugin_workspaces WHERE slug = ?`,
		slug).Scan(&ws.Slug, &ws.Domain, &ws.RemoteID, &ws.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrWorkspaceNotFound
		}
		return nil, fmt.Errorf("failed to get plugin workspace: %w", err)
	}

	return ws, nil
}

// UpsertDocumentMapping сохраняет сопоставление удаленного документа плагина
func (s *Storage) UpsertDocumentMapping(ctx context.Context, m *models.PluginDocumentMapping) error {
	query := `
		INSERT INTO plugin_documents (workspace_slug, remote_doc_id, domain, canonical_path)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (workspace_slug, remote_doc_id) DO UPDATE SET
			domain         = excluded.domain,
			canonical_path = excluded.canonical_path
	`

	_, err := s.db.ExecContext(ctx, query,
		m.WorkspaceSlug, m.RemoteDocID, m.Domain, m.CanonicalPath)
	if err != nil {
		return fmt.Errorf("failed to upsert document mapping: %w", err)
	}

	return nil
}

// ResolveDocumentMapping возвращает (domain, path) для удаленного документа
func (s *Storage) ResolveDocumentMapping(ctx context.Context, workspaceSlug, remoteDocID string) (*models.PluginDocumentMapping, error) {
	m := &models.PluginDocumentMapping{}

	err := s.db.QueryRowContext(ctx,
		`SELECT workspace_slug, remote_doc_id, domain, canonical_path
		 FROM plugin_documents WHERE workspace_slug = ? AND remote_doc_id = ?`,
		workspaceSlug, remoteDocID).Scan(
		&m.WorkspaceSlug, &m.RemoteDocID, &m.Domain, &m.CanonicalPath)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to resolve document mapping: %w", err)
	}

	return m, nil
}

// ResolveDocumentMappingByDocID ищет сопоставление по remote doc id во всех
// workspace. Используется для tenant-wide запросов без фильтра домена.
func (s *Storage) ResolveDocumentMappingByDocID(ctx context.Context, remoteDocID string) (*models.PluginDocumentMapping, error) {
	m := &models.PluginDocumentMapping{}

	err := s.db.QueryRowContext(ctx,
		`SELECT workspace_slug, remote_doc_id, domain, canonical_path
		 FROM plugin_documents WHERE remote_doc_id = ?
		 ORDER BY workspace_slug LIMIT 1`,
		remoteDocID).Scan(
		&m.WorkspaceSlug, &m.RemoteDocID, &m.Domain, &m.CanonicalPath)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to resolve document mapping: %w", err)
	}

	return m, nil
}

func scanPluginJob(row scanner, job *models.PluginSyncJob) error {
	return row.Scan(
		&job.ID,
		&job.EventID,
		&job.Operation,
		&job.Domain,
		&job.CanonicalPath,
		&job.Status,
		&job.AttemptCount,
		&job.NextAttemptAt,
		&job.LastError,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
}
