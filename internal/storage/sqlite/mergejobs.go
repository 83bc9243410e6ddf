package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/armadahq/datacore/internal/models"
	"github.com/armadahq/datacore/internal/storage"
)

// mergeClaimLease — срок аренды claim'а. Если воркер умер, не завершив job,
// через это время другой воркер сможет забрать job повторно.
const mergeClaimLease = 5 * time.Minute

// InsertMergeJob ставит обнаруженный конфликт в очередь
func (s *Storage) InsertMergeJob(ctx context.Context, job *models.MergeJob) error {
	query := `
		INSERT INTO merge_jobs (id, domain, canonical_path, base_event_id,
		                        incoming_event_id, status, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.Domain,
		job.CanonicalPath,
		job.BaseEventID,
		job.IncomingEventID,
		job.Status,
		job.Detail,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert merge job: %w", err)
	}

	return nil
}

// InsertMergeJobTx — вариант для вызова внутри транзакции применения события
func (s *Storage) InsertMergeJobTx(ctx context.Context, tx *sql.Tx, job *models.MergeJob) error {
	query := `
		INSERT INTO merge_jobs (id, domain, canonical_path, base_event_id,
		                        incoming_event_id, status, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := tx.ExecContext(ctx, query,
		job.ID,
		job.Domain,
		job.CanonicalPath,
		job.BaseEventID,
		job.IncomingEventID,
		job.Status,
		job.Detail,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert merge job: %w", err)
	}

	return nil
}

// ClaimPendingMergeJob атомарно забирает один pending job.
// Один UPDATE с подзапросом: под конкурирующими воркерами каждая строка
// достанется ровно одному (SQLite сериализует писателей).
// Returns ErrNoPendingJobs if the queue is empty.
func (s *Storage) ClaimPendingMergeJob(ctx context.Context, claimedBy string) (*models.MergeJob, error) {
	now := time.Now().Unix()
	cutoff := now - int64(mergeClaimLease.Seconds())

	query := `
		UPDATE merge_jobs
		SET claimed_by = ?, claimed_at = ?
		WHERE id = (
			SELECT id FROM merge_jobs
			WHERE status = ? AND (claimed_at IS NULL OR claimed_at < ?)
			ORDER BY created_at ASC, id ASC
			LIMIT 1
		)
		RETURNING id, domain, canonical_path, base_event_id, incoming_event_id,
		          status, detail, created_at
	`

	job := &models.MergeJob{}
	err := s.db.QueryRowContext(ctx, query, claimedBy, now, models.MergeStatusPending, cutoff).Scan(
		&job.ID,
		&job.Domain,
		&job.CanonicalPath,
		&job.BaseEventID,
		&job.IncomingEventID,
		&job.Status,
		&job.Detail,
		&job.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNoPendingJobs
		}
		return nil, fmt.Errorf("failed to claim merge job: %w", err)
	}

	return job, nil
}

// CompleteMergeJob переводит job в resolved или error
func (s *Storage) CompleteMergeJob(ctx context.Context, jobID, status, detail string, resolvedAt int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE merge_jobs SET status = ?, detail = ?, resolved_at = ? WHERE id = ?`,
		status, detail, resolvedAt, jobID)
	if err != nil {
		return fmt.Errorf("failed to complete merge job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return storage.ErrMergeJobNotFound
	}

	return nil
}

// CountMergeJobs возвращает количество jobs в данном статусе
func (s *Storage) CountMergeJobs(ctx context.Context, status string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM merge_jobs WHERE status = ?`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count merge jobs: %w", err)
	}
	return count, nil
}
