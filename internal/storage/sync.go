package storage

import (
	"context"
	"database/sql"

	"github.com/armadahq/datacore/internal/models"
)

// PeerStorage определяет контракт реестра пиров и курсоров репликации
type PeerStorage interface {
	// UpsertPeer регистрирует или обновляет пира (идемпотентно по id)
	UpsertPeer(ctx context.Context, peer *models.SyncPeer) error

	// ListActivePeers возвращает всех активных пиров
	ListActivePeers(ctx context.Context) ([]*models.SyncPeer, error)

	// TouchPeer обновляет last_seen пира
	TouchPeer(ctx context.Context, peerID string, seenAt int64) error

	// GetCursor возвращает watermark для (peer, direction); 0 если не было обменов
	GetCursor(ctx context.Context, peerID, direction string) (int64, error)

	// AdvanceCursor продвигает watermark; вызывается только после
	// durable применения/подтверждения батча
	AdvanceCursor(ctx context.Context, peerID, direction string, cursor int64) error
}

// MergeJobStorage определяет контракт очереди конфликтов
type MergeJobStorage interface {
	// InsertMergeJob ставит конфликт в очередь
	InsertMergeJob(ctx context.Context, job *models.MergeJob) error

	// InsertMergeJobTx ставит конфликт в очередь внутри транзакции события
	InsertMergeJobTx(ctx context.Context, tx *sql.Tx, job *models.MergeJob) error

	// ClaimPendingMergeJob атомарно забирает один pending job.
	// Возвращает ErrNoPendingJobs, если очередь пуста.
	// Под конкурирующими воркерами один job достанется ровно одному.
	ClaimPendingMergeJob(ctx context.Context, claimedBy string) (*models.MergeJob, error)

	// CompleteMergeJob переводит job в resolved или error
	CompleteMergeJob(ctx context.Context, jobID, status, detail string, resolvedAt int64) error

	// CountMergeJobs возвращает количество jobs в данном статусе
	CountMergeJobs(ctx context.Context, status string) (int, error)
}
