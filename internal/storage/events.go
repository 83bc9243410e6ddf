package storage

import (
	"context"
	"database/sql"

	"github.com/armadahq/datacore/internal/models"
)

// EventStorage определяет контракт хранения event log и projections.
// Все мутации внутри ApplyEvent атомарны — projection и chunk index
// пересчитываются в той же транзакции, что и вставка события.
type EventStorage interface {
	// InTx выполняет fn внутри одной транзакции; rollback при любой ошибке
	InTx(ctx context.Context, fn func(tx *sql.Tx) error) error

	// InsertEvent вставляет событие, назначая ему следующий локальный курсор.
	// Возвращает назначенный курсор.
	InsertEvent(ctx context.Context, tx *sql.Tx, event *models.Event) (int64, error)

	// GetEvent возвращает событие по id; ErrEventNotFound если его нет
	GetEvent(ctx context.Context, id string) (*models.Event, error)

	// ListEventsSince возвращает события с cursor > after в порядке курсора
	ListEventsSince(ctx context.Context, after int64, limit int) ([]*models.Event, error)

	// ListEventsForPath возвращает историю событий документа, новые первыми
	ListEventsForPath(ctx context.Context, domain, path string, limit int) ([]*models.Event, error)

	// MarkEventSuperseded переводит событие в status=superseded
	MarkEventSuperseded(ctx context.Context, tx *sql.Tx, id string) error

	// GetIdempotencyRecord возвращает запись по ключу; ErrEventNotFound если нет
	GetIdempotencyRecord(ctx context.Context, key string) (*models.IdempotencyRecord, error)

	// GetIdempotencyRecordTx — то же чтение внутри транзакции применения:
	// проверка дубликата и вставка события обязаны видеть один снимок
	GetIdempotencyRecordTx(ctx context.Context, tx *sql.Tx, key string) (*models.IdempotencyRecord, error)

	// InsertIdempotencyRecord фиксирует потребление ключа в рамках транзакции.
	// Повторный ключ возвращает ErrDuplicateIdempotencyKey.
	InsertIdempotencyRecord(ctx context.Context, tx *sql.Tx, rec *models.IdempotencyRecord) error

	// MaxSourceSeq возвращает максимальный source_seq событий, порожденных
	// данным core (0, если таких нет). Выполняется в транзакции вставки,
	// чтобы конкурирующие локальные записи не получили один и тот же seq.
	MaxSourceSeq(ctx context.Context, tx *sql.Tx, coreID string) (int64, error)
}

// DocumentStorage определяет контракт чтения/записи projections и chunk index
type DocumentStorage interface {
	// GetDocument возвращает текущую projection; ErrDocumentNotFound если нет
	GetDocument(ctx context.Context, domain, path string) (*models.DocumentProjection, error)

	// GetDocumentTx читает projection внутри транзакции применения события;
	// от этого чтения зависит решение linear/conflict
	GetDocumentTx(ctx context.Context, tx *sql.Tx, domain, path string) (*models.DocumentProjection, error)

	// UpsertDocument перезаписывает projection в рамках транзакции
	UpsertDocument(ctx context.Context, tx *sql.Tx, doc *models.DocumentProjection) error

	// ReplaceChunks атомарно заменяет все chunks документа
	ReplaceChunks(ctx context.Context, tx *sql.Tx, domain, path string, chunks []*models.Chunk) error

	// SearchChunks возвращает кандидатов chunk index по фильтрам,
	// не более candidateLimit строк, в детерминированном порядке
	SearchChunks(ctx context.Context, domain, pathPrefix string, candidateLimit int) ([]*models.Chunk, error)
}
