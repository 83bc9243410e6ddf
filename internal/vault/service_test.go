package vault

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadahq/datacore/internal/models"
	"github.com/armadahq/datacore/internal/storage"
	"github.com/armadahq/datacore/internal/storage/sqlite"
	"github.com/armadahq/datacore/pkg/api"
)

func setupTestLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors in tests
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func setupTestService(t *testing.T) (*Service, *sqlite.Storage) {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(ctx, ":memory:", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := NewService(store, nil, setupTestLogger(), "core-test")
	return svc, store
}

func upsertCandidate(domain, path, content, basedOn string) *models.EventCandidate {
	return &models.EventCandidate{
		IdempotencyKey: uuid.New().String(),
		Operation:      models.OpUpsert,
		Domain:         domain,
		CanonicalPath:  path,
		Content:        content,
		WriterID:       "writer-1",
		BasedOnEventID: basedOn,
		OccurredAt:     time.Now().Unix(),
	}
}

func TestAppendEvent_CreateApplied(t *testing.T) {
	ctx := context.Background()
	svc, store := setupTestService(t)

	outcome, err := svc.AppendEvent(ctx, upsertCandidate("ops", "runbooks/restart.md", "# Restart\n\nSteps here", ""))
	require.NoError(t, err)

	assert.Equal(t, api.OutcomeApplied, outcome.Outcome)
	assert.NotEmpty(t, outcome.EventID)
	assert.Equal(t, int64(1), outcome.Cursor)

	doc, err := svc.GetLatest(ctx, "ops", "runbooks/restart.md")
	require.NoError(t, err)
	assert.Equal(t, outcome.EventID, doc.LatestEventID)
	assert.Equal(t, "Restart", doc.Title)
	assert.False(t, doc.IsDeleted())

	chunks, err := store.SearchChunks(ctx, "ops", "", 100)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, outcome.EventID, chunks[0].EventID)
}

func TestAppendEvent_DuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupTestService(t)

	candidate := upsertCandidate("ops", "guide.md", "content", "")

	first, err := svc.AppendEvent(ctx, candidate)
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeApplied, first.Outcome)

	// Повтор того же ключа — никакого нового события
	second, err := svc.AppendEvent(ctx, candidate)
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeDuplicate, second.Outcome)
	assert.Equal(t, first.EventID, second.EventID)

	events, err := svc.ListSince(ctx, 0, 100)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestAppendEvent_LinearUpdateSupersedesPrior(t *testing.T) {
	ctx := context.Background()
	svc, store := setupTestService(t)

	first, err := svc.AppendEvent(ctx, upsertCandidate("ops", "guide.md", "v1", ""))
	require.NoError(t, err)

	second, err := svc.AppendEvent(ctx, upsertCandidate("ops", "guide.md", "v2", first.EventID))
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeApplied, second.Outcome)
	assert.Equal(t, int64(2), second.Cursor)

	doc, err := svc.GetLatest(ctx, "ops", "guide.md")
	require.NoError(t, err)
	assert.Equal(t, second.EventID, doc.LatestEventID)
	assert.Equal(t, "v2", doc.Content)

	prior, err := store.GetEvent(ctx, first.EventID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusSuperseded, prior.Status)
}

func TestAppendEvent_ConcurrentEditQueuesMerge(t *testing.T) {
	ctx := context.Background()
	svc, store := setupTestService(t)

	base, err := svc.AppendEvent(ctx, upsertCandidate("ops", "guide.md", "base", ""))
	require.NoError(t, err)

	winner, err := svc.AppendEvent(ctx, upsertCandidate("ops", "guide.md", "winner", base.EventID))
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeApplied, winner.Outcome)

	// Второй писатель основывался на той же базе — конфликт
	loser, err := svc.AppendEvent(ctx, upsertCandidate("ops", "guide.md", "loser", base.EventID))
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeMergeQueued, loser.Outcome)

	// Projection не тронута конфликтующим событием
	doc, err := svc.GetLatest(ctx, "ops", "guide.md")
	require.NoError(t, err)
	assert.Equal(t, winner.EventID, doc.LatestEventID)
	assert.Equal(t, "winner", doc.Content)

	// Но событие в логе и job в очереди
	pending, err := store.CountMergeJobs(ctx, models.MergeStatusPending)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	events, err := svc.ListSince(ctx, 0, 100)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

// staleDocStore подменяет нетранзакционное чтение projection устаревшим
// снимком. Решение linear/conflict обязано читать внутри транзакции
// применения и игнорировать этот снимок.
type staleDocStore struct {
	*sqlite.Storage
	stale *models.DocumentProjection
}

func (s *staleDocStore) GetDocument(ctx context.Context, domain, path string) (*models.DocumentProjection, error) {
	return s.stale, nil
}

func TestAppendEvent_ConflictCheckReadsInsideTx(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(ctx, ":memory:", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	wrapped := &staleDocStore{Storage: store}
	svc := NewService(wrapped, nil, setupTestLogger(), "core-test")

	base, err := svc.AppendEvent(ctx, upsertCandidate("ops", "guide.md", "base", ""))
	require.NoError(t, err)
	winner, err := svc.AppendEvent(ctx, upsertCandidate("ops", "guide.md", "winner", base.EventID))
	require.NoError(t, err)

	// Снимок вне транзакции утверждает, что головой все еще является base
	wrapped.stale = &models.DocumentProjection{
		Domain:        "ops",
		CanonicalPath: "guide.md",
		LatestEventID: base.EventID,
		Content:       "base",
	}

	// Писатель с устаревшим based-on получает merge_queued, а не applied
	loser, err := svc.AppendEvent(ctx, upsertCandidate("ops", "guide.md", "loser", base.EventID))
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeMergeQueued, loser.Outcome)

	// Писатель с актуальным based-on применяется, несмотря на устаревший снимок
	next, err := svc.AppendEvent(ctx, upsertCandidate("ops", "guide.md", "next", winner.EventID))
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeApplied, next.Outcome)

	doc, err := store.GetDocument(ctx, "ops", "guide.md")
	require.NoError(t, err)
	assert.Equal(t, next.EventID, doc.LatestEventID)
	assert.Equal(t, "next", doc.Content)

	pending, err := store.CountMergeJobs(ctx, models.MergeStatusPending)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestAppendEvent_ConcurrentWritersSameBase(t *testing.T) {
	ctx := context.Background()
	svc, store := setupTestService(t)

	base, err := svc.AppendEvent(ctx, upsertCandidate("ops", "guide.md", "base", ""))
	require.NoError(t, err)

	const writers = 4
	outcomes := make(chan *models.AppendOutcome, writers)
	errs := make(chan error, writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c := upsertCandidate("ops", "guide.md", fmt.Sprintf("writer-%d", n), base.EventID)
			outcome, err := svc.AppendEvent(ctx, c)
			if err != nil {
				errs <- err
				return
			}
			outcomes <- outcome
		}(i)
	}
	wg.Wait()
	close(outcomes)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	appliedCount, queuedCount := 0, 0
	appliedID := ""
	for outcome := range outcomes {
		switch outcome.Outcome {
		case api.OutcomeApplied:
			appliedCount++
			appliedID = outcome.EventID
		case api.OutcomeMergeQueued:
			queuedCount++
		}
	}

	// Ровно один писатель выигрывает, остальные встают в очередь merge
	assert.Equal(t, 1, appliedCount)
	assert.Equal(t, writers-1, queuedCount)

	doc, err := svc.GetLatest(ctx, "ops", "guide.md")
	require.NoError(t, err)
	assert.Equal(t, appliedID, doc.LatestEventID)

	pending, err := store.CountMergeJobs(ctx, models.MergeStatusPending)
	require.NoError(t, err)
	assert.Equal(t, writers-1, pending)

	events, err := svc.ListSince(ctx, 0, 100)
	require.NoError(t, err)
	assert.Len(t, events, writers+1)
}

// blindIdemStore не видит записей idempotency внутри транзакции — моделирует
// проверку, проигравшую гонку конкурирующей вставке того же ключа
type blindIdemStore struct {
	*sqlite.Storage
}

func (s *blindIdemStore) GetIdempotencyRecordTx(ctx context.Context, tx *sql.Tx, key string) (*models.IdempotencyRecord, error) {
	return nil, storage.ErrEventNotFound
}

func TestAppendEvent_RacingDuplicateKeyResolvesToDuplicate(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(ctx, ":memory:", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := NewService(&blindIdemStore{Storage: store}, nil, setupTestLogger(), "core-test")

	candidate := upsertCandidate("ops", "guide.md", "content", "")
	first, err := svc.AppendEvent(ctx, candidate)
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeApplied, first.Outcome)

	// Повтор упирается в UNIQUE constraint, но caller получает duplicate,
	// а не ошибку
	second, err := svc.AppendEvent(ctx, candidate)
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeDuplicate, second.Outcome)
	assert.Equal(t, first.EventID, second.EventID)

	events, err := svc.ListSince(ctx, 0, 100)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestAppendEvent_DeleteNeverQueuesMerge(t *testing.T) {
	ctx := context.Background()
	svc, store := setupTestService(t)

	base, err := svc.AppendEvent(ctx, upsertCandidate("ops", "guide.md", "base", ""))
	require.NoError(t, err)

	_, err = svc.AppendEvent(ctx, upsertCandidate("ops", "guide.md", "updated", base.EventID))
	require.NoError(t, err)

	// Delete с устаревшим based-on все равно применяется линейно
	del := upsertCandidate("ops", "guide.md", "", base.EventID)
	del.Operation = models.OpDelete
	del.Deleted = true

	outcome, err := svc.AppendEvent(ctx, del)
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeApplied, outcome.Outcome)

	doc, err := svc.GetLatest(ctx, "ops", "guide.md")
	require.NoError(t, err)
	assert.True(t, doc.IsDeleted())

	chunks, err := store.SearchChunks(ctx, "ops", "", 100)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	pending, err := store.CountMergeJobs(ctx, models.MergeStatusPending)
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
}

func TestAppendEvent_RecreateAfterDelete(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupTestService(t)

	base, err := svc.AppendEvent(ctx, upsertCandidate("ops", "guide.md", "v1", ""))
	require.NoError(t, err)

	del := upsertCandidate("ops", "guide.md", "", base.EventID)
	del.Operation = models.OpDelete
	del.Deleted = true
	_, err = svc.AppendEvent(ctx, del)
	require.NoError(t, err)

	// Создание поверх tombstone применяется без конфликта
	recreated, err := svc.AppendEvent(ctx, upsertCandidate("ops", "guide.md", "v2", ""))
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeApplied, recreated.Outcome)

	doc, err := svc.GetLatest(ctx, "ops", "guide.md")
	require.NoError(t, err)
	assert.False(t, doc.IsDeleted())
	assert.Equal(t, "v2", doc.Content)
}

func TestAppendEvent_MoveTombstonesOldPath(t *testing.T) {
	ctx := context.Background()
	svc, store := setupTestService(t)

	_, err := svc.AppendEvent(ctx, upsertCandidate("ops", "old/guide.md", "# Guide\n\nbody", ""))
	require.NoError(t, err)

	mv := upsertCandidate("ops", "new/guide.md", "# Guide\n\nbody", "")
	mv.Operation = models.OpMove
	mv.Metadata = `{"moved_from":"old/guide.md"}`

	outcome, err := svc.AppendEvent(ctx, mv)
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeApplied, outcome.Outcome)

	oldDoc, err := svc.GetLatest(ctx, "ops", "old/guide.md")
	require.NoError(t, err)
	assert.True(t, oldDoc.IsDeleted())

	newDoc, err := svc.GetLatest(ctx, "ops", "new/guide.md")
	require.NoError(t, err)
	assert.False(t, newDoc.IsDeleted())
	assert.Equal(t, outcome.EventID, newDoc.LatestEventID)

	// Chunks старого пути удалены, нового — созданы
	chunks, err := store.SearchChunks(ctx, "ops", "old/", 100)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = store.SearchChunks(ctx, "ops", "new/", 100)
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)
}

func TestAppendEvent_ReplicatedEventKeepsSourceIdentity(t *testing.T) {
	ctx := context.Background()
	svc, store := setupTestService(t)

	candidate := upsertCandidate("ops", "guide.md", "remote content", "")
	candidate.ID = uuid.New().String()
	candidate.SourceCoreID = "core-remote"
	candidate.SourceSeq = 7

	outcome, err := svc.AppendEvent(ctx, candidate)
	require.NoError(t, err)
	assert.Equal(t, candidate.ID, outcome.EventID)

	event, err := store.GetEvent(ctx, candidate.ID)
	require.NoError(t, err)
	assert.Equal(t, "core-remote", event.SourceCoreID)
	assert.Equal(t, int64(7), event.SourceSeq)

	// Локальный курсор назначается принимающим узлом
	assert.Equal(t, int64(1), event.Cursor)
}

func TestAppendEvent_LocalSourceSeqMonotonic(t *testing.T) {
	ctx := context.Background()
	svc, store := setupTestService(t)

	first, err := svc.AppendEvent(ctx, upsertCandidate("ops", "a.md", "a", ""))
	require.NoError(t, err)
	second, err := svc.AppendEvent(ctx, upsertCandidate("ops", "b.md", "b", ""))
	require.NoError(t, err)

	ev1, err := store.GetEvent(ctx, first.EventID)
	require.NoError(t, err)
	ev2, err := store.GetEvent(ctx, second.EventID)
	require.NoError(t, err)

	assert.Equal(t, "core-test", ev1.SourceCoreID)
	assert.Equal(t, int64(1), ev1.SourceSeq)
	assert.Equal(t, int64(2), ev2.SourceSeq)
}

func TestAppendEvent_EnqueuesPluginJob(t *testing.T) {
	ctx := context.Background()
	svc, store := setupTestService(t)

	outcome, err := svc.AppendEvent(ctx, upsertCandidate("ops", "guide.md", "content", ""))
	require.NoError(t, err)

	jobs, err := store.ClaimDuePluginJobs(ctx, time.Now().Unix(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, outcome.EventID, jobs[0].EventID)
	assert.Equal(t, models.OpUpsert, jobs[0].Operation)
	assert.Equal(t, models.PluginJobPending, jobs[0].Status)
}

func TestAppendEvent_ValidatesCandidate(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupTestService(t)

	tests := []struct {
		mutate func(c *models.EventCandidate)
		name   string
	}{
		{
			name:   "missing idempotency key",
			mutate: func(c *models.EventCandidate) { c.IdempotencyKey = "" },
		},
		{
			name:   "unknown operation",
			mutate: func(c *models.EventCandidate) { c.Operation = "rename" },
		},
		{
			name:   "missing domain",
			mutate: func(c *models.EventCandidate) { c.Domain = "" },
		},
		{
			name:   "missing path",
			mutate: func(c *models.EventCandidate) { c.CanonicalPath = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidate := upsertCandidate("ops", "guide.md", "content", "")
			tt.mutate(candidate)

			_, err := svc.AppendEvent(ctx, candidate)
			assert.Error(t, err)
		})
	}
}

func TestHistory_NewestFirst(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupTestService(t)

	first, err := svc.AppendEvent(ctx, upsertCandidate("ops", "guide.md", "v1", ""))
	require.NoError(t, err)
	second, err := svc.AppendEvent(ctx, upsertCandidate("ops", "guide.md", "v2", first.EventID))
	require.NoError(t, err)

	history, err := svc.History(ctx, "ops", "guide.md", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.EventID, history[0].ID)
	assert.Equal(t, first.EventID, history[1].ID)
}
