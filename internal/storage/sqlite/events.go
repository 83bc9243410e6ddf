package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/armadahq/datacore/internal/models"
	"github.com/armadahq/datacore/internal/storage"
)

const eventColumns = `id, cursor, source_core_id, source_seq, idempotency_key,
	       operation, domain, canonical_path, content, metadata,
	       writer_id, signature, payload_hash, occurred_at, ingested_at,
	       deleted, supersedes_event_id, status`

// InsertEvent вставляет событие, назначая следующий локальный курсор.
// Курсор вычисляется внутри переданной транзакции, поэтому назначение
// монотонно даже при конкурирующих записях.
func (s *Storage) InsertEvent(ctx context.Context, tx *sql.Tx, event *models.Event) (int64, error) {
	var cursor int64
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(cursor), 0) + 1 FROM events`).Scan(&cursor)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate cursor: %w", err)
	}

	var supersedes interface{}
	if event.SupersedesEventID != "" {
		supersedes = event.SupersedesEventID
	}

	query := `
		INSERT INTO events (
			id, cursor, source_core_id, source_seq, idempotency_key,
			operation, domain, canonical_path, content, metadata,
			writer_id, signature, payload_hash, occurred_at, ingested_at,
			deleted, supersedes_event_id, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, query,
		event.ID,
		cursor,
		event.SourceCoreID,
		event.SourceSeq,
		event.IdempotencyKey,
		event.Operation,
		event.Domain,
		event.CanonicalPath,
		event.Content,
		event.Metadata,
		event.WriterID,
		event.Signature,
		event.PayloadHash,
		event.OccurredAt,
		event.IngestedAt,
		boolToInt(event.Deleted),
		supersedes,
		event.Status,
	)

	if err != nil {
		if isUniqueViolation(err, "events.idempotency_key") {
			return 0, storage.ErrDuplicateIdempotencyKey
		}
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}

	event.Cursor = cursor
	return cursor, nil
}

// GetEvent retrieves a single event by id.
// Returns ErrEventNotFound if event doesn't exist.
func (s *Storage) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = ?`

	event, err := scanEvent(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	return event, nil
}

// ListEventsSince возвращает события с cursor > after, в порядке курсора.
// Используется репликацией (listSince контракт).
func (s *Storage) ListEventsSince(ctx context.Context, after int64, limit int) ([]*models.Event, error) {
	query := `SELECT ` + eventColumns + `
		FROM events
		WHERE cursor > ?
		ORDER BY cursor ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events since cursor: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	return scanEvents(rows)
}

// ListEventsForPath возвращает историю событий документа, новые первыми
func (s *Storage) ListEventsForPath(ctx context.Context, domain, path string, limit int) ([]*models.Event, error) {
	query := `SELECT ` + eventColumns + `
		FROM events
		WHERE domain = ? AND canonical_path = ?
		ORDER BY cursor DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, domain, path, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query event history: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	return scanEvents(rows)
}

// MarkEventSuperseded переводит событие в status=superseded.
// Единственная разрешенная мутация события после вставки.
func (s *Storage) MarkEventSuperseded(ctx context.Context, tx *sql.Tx, id string) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE events SET status = ? WHERE id = ?`,
		models.EventStatusSuperseded, id)
	if err != nil {
		return fmt.Errorf("failed to mark event superseded: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return storage.ErrEventNotFound
	}

	return nil
}

// GetIdempotencyRecord возвращает запись по ключу
func (s *Storage) GetIdempotencyRecord(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	return getIdempotencyRecord(ctx, s.db, key)
}

// GetIdempotencyRecordTx читает запись внутри транзакции применения
func (s *Storage) GetIdempotencyRecordTx(ctx context.Context, tx *sql.Tx, key string) (*models.IdempotencyRecord, error) {
	return getIdempotencyRecord(ctx, tx, key)
}

func getIdempotencyRecord(ctx context.Context, q querier, key string) (*models.IdempotencyRecord, error) {
	rec := &models.IdempotencyRecord{}

	err := q.QueryRowContext(ctx,
		`SELECT key, event_id, outcome, created_at FROM idempotency_records WHERE key = ?`,
		key).Scan(&rec.Key, &rec.EventID, &rec.Outcome, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}

	return rec, nil
}

// InsertIdempotencyRecord фиксирует потребление ключа.
// UNIQUE constraint превращает гонку двух одинаковых ключей
// в ErrDuplicateIdempotencyKey.
func (s *Storage) InsertIdempotencyRecord(ctx context.Context, tx *sql.Tx, rec *models.IdempotencyRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO idempotency_records (key, event_id, outcome, created_at) VALUES (?, ?, ?, ?)`,
		rec.Key, rec.EventID, rec.Outcome, rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "idempotency_records.key") {
			return storage.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to insert idempotency record: %w", err)
	}
	return nil
}

// MaxSourceSeq возвращает максимальный source_seq для данного core.
// Читает в транзакции вставки: назначение seq и запись события видят
// один снимок лога.
func (s *Storage) MaxSourceSeq(ctx context.Context, tx *sql.Tx, coreID string) (int64, error) {
	var seq int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(source_seq), 0) FROM events WHERE source_core_id = ?`,
		coreID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to get max source seq: %w", err)
	}
	return seq, nil
}

// isUniqueViolation распознает нарушение конкретного UNIQUE constraint SQLite
func isUniqueViolation(err error, constraint string) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: "+constraint)
}

// scanner абстрагирует sql.Row и sql.Rows для scanEvent
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scanner) (*models.Event, error) {
	event := &models.Event{}
	var deleted int
	var supersedes sql.NullString

	err := row.Scan(
		&event.ID,
		&event.Cursor,
		&event.SourceCoreID,
		&event.SourceSeq,
		&event.IdempotencyKey,
		&event.Operation,
		&event.Domain,
		&event.CanonicalPath,
		&event.Content,
		&event.Metadata,
		&event.WriterID,
		&event.Signature,
		&event.PayloadHash,
		&event.OccurredAt,
		&event.IngestedAt,
		&deleted,
		&supersedes,
		&event.Status,
	)
	if err != nil {
		return nil, err
	}

	event.Deleted = intToBool(deleted)
	event.SupersedesEventID = supersedes.String

	return event, nil
}

func scanEvents(rows *sql.Rows) ([]*models.Event, error) {
	var events []*models.Event

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return events, nil
}
