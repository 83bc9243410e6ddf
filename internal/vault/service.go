package vault

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/armadahq/datacore/internal/models"
	"github.com/armadahq/datacore/internal/sign"
	"github.com/armadahq/datacore/internal/storage"
	"github.com/armadahq/datacore/pkg/api"
)

// Store определяет срез хранилища, нужный event log & projection store
type Store interface {
	storage.EventStorage
	storage.DocumentStorage
	storage.MergeJobStorage
	storage.PluginStorage
}

// Service реализует event log & projection store — write/read путь vault.
// Каждое применение события атомарно: событие, projection и chunk index
// меняются в одной транзакции.
type Service struct {
	store  Store
	signer *sign.Signer
	logger *slog.Logger
	coreID string
	now    func() int64
}

// NewService creates a new vault service
func NewService(store Store, signer *sign.Signer, logger *slog.Logger, coreID string) *Service {
	return &Service{
		store:  store,
		signer: signer,
		logger: logger,
		coreID: coreID,
		now:    func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc подменяет источник времени (для тестов)
func (s *Service) SetNowFunc(now func() int64) {
	s.now = now
}

// AppendEvent применяет событие-кандидат к event log.
//  1. Повтор idempotency key возвращает прежний результат без нового события.
//  2. Если based-on совпадает с текущим latest_event_id (или документа нет
//     и это create) — событие применяется линейно.
//  3. Иначе (и операция не delete) событие записывается в лог, но projection
//     не трогается: создается MergeJob, caller получает merge_queued.
//  4. Delete применяется всегда, конфликт-очередь для него не используется.
//
// Проверка дубликата, чтение projection, назначение source_seq и само
// применение выполняются в одной транзакции: конкурирующий писатель не может
// протиснуться между проверкой конфликта и вставкой события.
//
// Применённое событие best-effort ставит PluginSyncJob; сбой постановки
// логируется и никогда не роняет запись.
func (s *Service) AppendEvent(ctx context.Context, candidate *models.EventCandidate) (*models.AppendOutcome, error) {
	if err := s.validateCandidate(candidate); err != nil {
		return nil, err
	}

	if s.signer != nil {
		if err := s.signer.Verify(candidate.WriterID, candidate.PayloadHash, candidate.Signature); err != nil {
			return nil, fmt.Errorf("event signature verification failed: %w", err)
		}
	}

	var (
		outcome *models.AppendOutcome
		applied *models.Event
		job     *models.MergeJob
		doc     *models.DocumentProjection
	)

	txErr := s.store.InTx(ctx, func(tx *sql.Tx) error {
		// Безопасные повторы: ключ уже потреблен — возвращаем прежний результат
		if rec, err := s.store.GetIdempotencyRecordTx(ctx, tx, candidate.IdempotencyKey); err == nil {
			outcome = &models.AppendOutcome{
				EventID: rec.EventID,
				Outcome: api.OutcomeDuplicate,
			}
			return nil
		} else if !errors.Is(err, storage.ErrEventNotFound) {
			return fmt.Errorf("failed to check idempotency key: %w", err)
		}

		var err error
		doc, err = s.store.GetDocumentTx(ctx, tx, candidate.Domain, candidate.CanonicalPath)
		if err != nil && !errors.Is(err, storage.ErrDocumentNotFound) {
			return fmt.Errorf("failed to load current projection: %w", err)
		}

		event, err := s.buildEvent(ctx, tx, candidate)
		if err != nil {
			return err
		}

		// Delete никогда не попадает в конфликт-очередь
		if !s.isLinear(candidate, doc) && candidate.Operation != models.OpDelete {
			job, err = s.queueConflict(ctx, tx, candidate, event)
			if err != nil {
				return fmt.Errorf("failed to queue conflicting event: %w", err)
			}
			outcome = &models.AppendOutcome{
				EventID: event.ID,
				Outcome: api.OutcomeMergeQueued,
			}
			return nil
		}

		if err := s.applyLinear(ctx, tx, event, doc); err != nil {
			return fmt.Errorf("failed to apply event: %w", err)
		}
		outcome = &models.AppendOutcome{
			EventID: event.ID,
			Outcome: api.OutcomeApplied,
			Cursor:  event.Cursor,
		}
		applied = event
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, storage.ErrDuplicateIdempotencyKey) {
			// Гонку одинаковых ключей выиграл другой писатель; возвращаем
			// зафиксированный им результат
			rec, err := s.store.GetIdempotencyRecord(ctx, candidate.IdempotencyKey)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve duplicate idempotency key: %w", err)
			}
			return &models.AppendOutcome{
				EventID: rec.EventID,
				Outcome: api.OutcomeDuplicate,
			}, nil
		}
		return nil, txErr
	}

	switch {
	case applied != nil:
		s.logger.Info("Event applied",
			"event_id", applied.ID,
			"operation", applied.Operation,
			"domain", applied.Domain,
			"path", applied.CanonicalPath,
			"cursor", applied.Cursor)
		s.enqueuePluginJob(ctx, applied)
	case job != nil:
		latestEventID := ""
		if doc != nil {
			latestEventID = doc.LatestEventID
		}
		s.logger.Warn("Concurrent edit detected, merge queued",
			"domain", candidate.Domain,
			"path", candidate.CanonicalPath,
			"base_event_id", candidate.BasedOnEventID,
			"incoming_event_id", job.IncomingEventID,
			"latest_event_id", latestEventID,
			"merge_job_id", job.ID)
	}

	return outcome, nil
}

// isLinear проверяет, можно ли применить кандидата без конфликта
func (s *Service) isLinear(candidate *models.EventCandidate, doc *models.DocumentProjection) bool {
	if doc == nil {
		// Создание нового документа: based-on должен быть пуст
		return candidate.BasedOnEventID == ""
	}
	if doc.IsDeleted() {
		// Пересоздание после удаления применяется линейно
		return true
	}
	return candidate.BasedOnEventID == doc.LatestEventID
}

// buildEvent собирает Event из кандидата, назначая идентичность источника.
// source_seq выделяется в транзакции вставки — конкурирующие локальные
// записи не могут получить одинаковый seq.
func (s *Service) buildEvent(ctx context.Context, tx *sql.Tx, candidate *models.EventCandidate) (*models.Event, error) {
	sourceCoreID := candidate.SourceCoreID
	sourceSeq := candidate.SourceSeq

	if sourceCoreID == "" {
		// Локальная запись: этот core является источником
		sourceCoreID = s.coreID
		maxSeq, err := s.store.MaxSourceSeq(ctx, tx, s.coreID)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate source seq: %w", err)
		}
		sourceSeq = maxSeq + 1
	}

	occurredAt := candidate.OccurredAt
	if occurredAt == 0 {
		occurredAt = s.now()
	}

	// supersedes_event_id фиксирует предшественника, заявленного писателем;
	// по нему реплики воспроизводят ту же проверку конфликта
	supersedes := candidate.SupersedesEventID
	if supersedes == "" {
		supersedes = candidate.BasedOnEventID
	}

	// Реплицированное событие сохраняет id источника: все узлы видят
	// один и тот же идентификатор в supersedes и latest_event_id
	id := candidate.ID
	if id == "" {
		id = uuid.New().String()
	}

	return &models.Event{
		ID:                id,
		SourceCoreID:      sourceCoreID,
		SourceSeq:         sourceSeq,
		IdempotencyKey:    candidate.IdempotencyKey,
		Operation:         candidate.Operation,
		Domain:            candidate.Domain,
		CanonicalPath:     candidate.CanonicalPath,
		Content:           candidate.Content,
		Metadata:          candidate.Metadata,
		WriterID:          candidate.WriterID,
		Signature:         candidate.Signature,
		PayloadHash:       candidate.PayloadHash,
		SupersedesEventID: supersedes,
		OccurredAt:        occurredAt,
		IngestedAt:        s.now(),
		Deleted:           candidate.Operation == models.OpDelete,
		Status:            models.EventStatusApplied,
	}, nil
}

// applyLinear применяет событие линейно в транзакции вызывающего:
// лог, idempotency запись, projection и chunk index вместе
func (s *Service) applyLinear(ctx context.Context, tx *sql.Tx, event *models.Event, prior *models.DocumentProjection) error {
	if _, err := s.store.InsertEvent(ctx, tx, event); err != nil {
		return err
	}

	rec := &models.IdempotencyRecord{
		Key:       event.IdempotencyKey,
		EventID:   event.ID,
		Outcome:   api.OutcomeApplied,
		CreatedAt: s.now(),
	}
	if err := s.store.InsertIdempotencyRecord(ctx, tx, rec); err != nil {
		return err
	}

	// Прежнее головное событие документа вытесняется
	if prior != nil && !prior.IsDeleted() && prior.LatestEventID != "" {
		if err := s.store.MarkEventSuperseded(ctx, tx, prior.LatestEventID); err != nil &&
			!errors.Is(err, storage.ErrEventNotFound) {
			return err
		}
	}

	return s.project(ctx, tx, event)
}

// project пересчитывает projection и chunk index под применённое событие
func (s *Service) project(ctx context.Context, tx *sql.Tx, event *models.Event) error {
	switch event.Operation {
	case models.OpDelete:
		doc := &models.DocumentProjection{
			Domain:        event.Domain,
			CanonicalPath: event.CanonicalPath,
			LatestEventID: event.ID,
			UpdatedAt:     event.IngestedAt,
			DeletedAt:     event.IngestedAt,
		}
		if err := s.store.UpsertDocument(ctx, tx, doc); err != nil {
			return err
		}
		return s.store.ReplaceChunks(ctx, tx, event.Domain, event.CanonicalPath, nil)

	case models.OpMove:
		if err := s.tombstoneMovedFrom(ctx, tx, event); err != nil {
			return err
		}
		fallthrough

	default: // upsert, merge и содержимое move по новому пути
		doc := &models.DocumentProjection{
			Domain:        event.Domain,
			CanonicalPath: event.CanonicalPath,
			LatestEventID: event.ID,
			Title:         DocumentTitle(event.CanonicalPath, event.Content),
			Content:       event.Content,
			Metadata:      event.Metadata,
			UpdatedAt:     event.IngestedAt,
		}
		if err := s.store.UpsertDocument(ctx, tx, doc); err != nil {
			return err
		}
		chunks := SplitChunks(event.Domain, event.CanonicalPath, event.ID, event.Content)
		return s.store.ReplaceChunks(ctx, tx, event.Domain, event.CanonicalPath, chunks)
	}
}

// tombstoneMovedFrom гасит projection старого пути при операции move.
// Старый путь берется из metadata события (moved_from), поэтому move
// реплицируется между узлами без дополнительных полей.
func (s *Service) tombstoneMovedFrom(ctx context.Context, tx *sql.Tx, event *models.Event) error {
	movedFrom := movedFromPath(event.Metadata)
	if movedFrom == "" || movedFrom == event.CanonicalPath {
		return nil
	}

	doc := &models.DocumentProjection{
		Domain:        event.Domain,
		CanonicalPath: movedFrom,
		LatestEventID: event.ID,
		UpdatedAt:     event.IngestedAt,
		DeletedAt:     event.IngestedAt,
	}
	if err := s.store.UpsertDocument(ctx, tx, doc); err != nil {
		return err
	}

	return s.store.ReplaceChunks(ctx, tx, event.Domain, movedFrom, nil)
}

// queueConflict записывает конфликтующее событие в лог и ставит MergeJob
// в транзакции вызывающего, не трогая текущую projection
func (s *Service) queueConflict(ctx context.Context, tx *sql.Tx, candidate *models.EventCandidate, event *models.Event) (*models.MergeJob, error) {
	job := &models.MergeJob{
		ID:              uuid.New().String(),
		Domain:          candidate.Domain,
		CanonicalPath:   candidate.CanonicalPath,
		BaseEventID:     candidate.BasedOnEventID,
		IncomingEventID: event.ID,
		Status:          models.MergeStatusPending,
		CreatedAt:       s.now(),
	}

	if _, err := s.store.InsertEvent(ctx, tx, event); err != nil {
		return nil, err
	}

	rec := &models.IdempotencyRecord{
		Key:       event.IdempotencyKey,
		EventID:   event.ID,
		Outcome:   api.OutcomeMergeQueued,
		CreatedAt: s.now(),
	}
	if err := s.store.InsertIdempotencyRecord(ctx, tx, rec); err != nil {
		return nil, err
	}

	if err := s.store.InsertMergeJobTx(ctx, tx, job); err != nil {
		return nil, err
	}

	return job, nil
}

// enqueuePluginJob ставит доставку события во внешний индекс.
// Best-effort: сбой логируется и не влияет на результат записи.
func (s *Service) enqueuePluginJob(ctx context.Context, event *models.Event) {
	job := &models.PluginSyncJob{
		ID:            uuid.New().String(),
		EventID:       event.ID,
		Operation:     event.Operation,
		Domain:        event.Domain,
		CanonicalPath: event.CanonicalPath,
		Status:        models.PluginJobPending,
		CreatedAt:     s.now(),
		UpdatedAt:     s.now(),
	}

	if err := s.store.EnqueuePluginJob(ctx, job); err != nil {
		s.logger.Error("Failed to enqueue plugin sync job",
			"event_id", event.ID, "error", err)
	}
}

// validateCandidate проверяет полноту кандидата перед применением
func (s *Service) validateCandidate(candidate *models.EventCandidate) error {
	if candidate.IdempotencyKey == "" {
		return fmt.Errorf("idempotency key is required")
	}
	if !models.ValidOperation(candidate.Operation) {
		return fmt.Errorf("unknown operation %q", candidate.Operation)
	}
	if candidate.Domain == "" || candidate.CanonicalPath == "" {
		return fmt.Errorf("domain and canonical path are required")
	}
	return nil
}

// GetLatest возвращает текущую projection документа
func (s *Service) GetLatest(ctx context.Context, domain, path string) (*models.DocumentProjection, error) {
	return s.store.GetDocument(ctx, domain, path)
}

// ListSince возвращает события после курсора для репликации
func (s *Service) ListSince(ctx context.Context, after int64, limit int) ([]*models.Event, error) {
	return s.store.ListEventsSince(ctx, after, limit)
}

// History возвращает историю событий документа, новые первыми
func (s *Service) History(ctx context.Context, domain, path string, limit int) ([]*models.Event, error) {
	return s.store.ListEventsForPath(ctx, domain, path, limit)
}

// movedFromPath достает moved_from из metadata JSON события move
func movedFromPath(metadata string) string {
	if metadata == "" {
		return ""
	}
	var meta struct {
		MovedFrom string `json:"moved_from"`
	}
	if err := json.Unmarshal([]byte(metadata), &meta); err != nil {
		return ""
	}
	return meta.MovedFrom
}
