package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/armadahq/datacore/internal/models"
	"github.com/armadahq/datacore/internal/sign"
	"github.com/armadahq/datacore/internal/storage"
	"github.com/armadahq/datacore/pkg/api"
)

// Vault определяет срез vault-сервиса, нужный merge worker'у
type Vault interface {
	AppendEvent(ctx context.Context, candidate *models.EventCandidate) (*models.AppendOutcome, error)
	GetLatest(ctx context.Context, domain, path string) (*models.DocumentProjection, error)
}

// Store определяет срез хранилища, нужный merge worker'у
type Store interface {
	storage.MergeJobStorage
	GetEvent(ctx context.Context, id string) (*models.Event, error)
}

// Worker разрешает очередь конфликтов: каждый pending MergeJob превращается
// в одно новое merge событие (или помечается error для ручного вмешательства).
// Конфликт никогда не отбрасывается молча.
type Worker struct {
	store    Store
	vault    Vault
	signer   *sign.Signer
	logger   *slog.Logger
	workerID string
	now      func() int64
}

// NewWorker creates a new merge worker
func NewWorker(store Store, vault Vault, signer *sign.Signer, logger *slog.Logger, workerID string) *Worker {
	return &Worker{
		store:    store,
		vault:    vault,
		signer:   signer,
		logger:   logger,
		workerID: workerID,
		now:      func() int64 { return time.Now().Unix() },
	}
}

// Tick обрабатывает все pending jobs, доступные на момент вызова.
// Пустая очередь — no-op.
func (w *Worker) Tick(ctx context.Context) error {
	for {
		job, err := w.store.ClaimPendingMergeJob(ctx, w.workerID)
		if err != nil {
			if errors.Is(err, storage.ErrNoPendingJobs) {
				return nil
			}
			return fmt.Errorf("failed to claim merge job: %w", err)
		}

		if err := w.resolve(ctx, job); err != nil {
			// Ошибка резолюции фиксируется на job, не прерывая остальные
			w.logger.Error("Merge job failed",
				"merge_job_id", job.ID,
				"domain", job.Domain,
				"path", job.CanonicalPath,
				"error", err)

			if cerr := w.store.CompleteMergeJob(ctx, job.ID, models.MergeStatusError, err.Error(), w.now()); cerr != nil {
				return fmt.Errorf("failed to mark merge job error: %w", cerr)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// resolve превращает один конфликт в merge событие
func (w *Worker) resolve(ctx context.Context, job *models.MergeJob) error {
	incoming, err := w.store.GetEvent(ctx, job.IncomingEventID)
	if err != nil {
		return fmt.Errorf("incoming event %s unavailable: %w", job.IncomingEventID, err)
	}

	// База может отсутствовать (например, не реплицирована): тогда merge
	// выполняется от пустой базы и разногласия остаются помеченными
	baseContent := ""
	if job.BaseEventID != "" {
		base, err := w.store.GetEvent(ctx, job.BaseEventID)
		if err != nil && !errors.Is(err, storage.ErrEventNotFound) {
			return fmt.Errorf("failed to load base event: %w", err)
		}
		if base != nil {
			baseContent = base.Content
		}
	}

	currentContent := ""
	latestEventID := ""
	doc, err := w.vault.GetLatest(ctx, job.Domain, job.CanonicalPath)
	if err != nil && !errors.Is(err, storage.ErrDocumentNotFound) {
		return fmt.Errorf("failed to load current projection: %w", err)
	}
	if doc != nil && !doc.IsDeleted() {
		currentContent = doc.Content
		latestEventID = doc.LatestEventID
	}

	merged, conflict := Merge3(baseContent, currentContent, incoming.Content)

	payloadHash := sign.PayloadHash(job.Domain, job.CanonicalPath, models.OpMerge, merged)
	signature := ""
	if w.signer != nil {
		signature = w.signer.Sign(w.workerID, payloadHash)
	}

	candidate := &models.EventCandidate{
		IdempotencyKey:    "merge:" + job.ID,
		Operation:         models.OpMerge,
		Domain:            job.Domain,
		CanonicalPath:     job.CanonicalPath,
		Content:           merged,
		Metadata:          incoming.Metadata,
		WriterID:          w.workerID,
		Signature:         signature,
		PayloadHash:       payloadHash,
		BasedOnEventID:    latestEventID,
		SupersedesEventID: latestEventID,
	}

	outcome, err := w.vault.AppendEvent(ctx, candidate)
	if err != nil {
		return fmt.Errorf("failed to append merge event: %w", err)
	}

	detail := fmt.Sprintf("merge event %s", outcome.EventID)
	if conflict {
		detail += " (conflict markers retained)"
	}
	if outcome.Outcome == api.OutcomeMergeQueued {
		// Пока job обрабатывался, путь ушел вперед: merge событие само
		// встало в очередь, резолюцию продолжит следующий job
		detail = fmt.Sprintf("superseded by newer write, follow-up queued as event %s", outcome.EventID)
	}

	if err := w.store.CompleteMergeJob(ctx, job.ID, models.MergeStatusResolved, detail, w.now()); err != nil {
		return fmt.Errorf("failed to mark merge job resolved: %w", err)
	}

	w.logger.Info("Merge job resolved",
		"merge_job_id", job.ID,
		"domain", job.Domain,
		"path", job.CanonicalPath,
		"merge_event_id", outcome.EventID,
		"conflict_markers", conflict)

	return nil
}
