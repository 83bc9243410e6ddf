package merge

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadahq/datacore/internal/models"
	"github.com/armadahq/datacore/internal/storage/sqlite"
	"github.com/armadahq/datacore/internal/vault"
	"github.com/armadahq/datacore/pkg/api"
)

func setupTestLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelError,
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func setupWorker(t *testing.T) (*Worker, *vault.Service, *sqlite.Storage) {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(ctx, ":memory:", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := setupTestLogger()
	vaultSvc := vault.NewService(store, nil, logger, "core-test")
	worker := NewWorker(store, vaultSvc, nil, logger, "merge-worker-test")

	return worker, vaultSvc, store
}

func appendUpsert(t *testing.T, svc *vault.Service, path, content, basedOn string) *models.AppendOutcome {
	t.Helper()
	outcome, err := svc.AppendEvent(context.Background(), &models.EventCandidate{
		IdempotencyKey: uuid.New().String(),
		Operation:      models.OpUpsert,
		Domain:         "ops",
		CanonicalPath:  path,
		Content:        content,
		WriterID:       "writer-1",
		BasedOnEventID: basedOn,
	})
	require.NoError(t, err)
	return outcome
}

func TestWorker_Tick_EmptyQueue(t *testing.T) {
	worker, _, _ := setupWorker(t)
	require.NoError(t, worker.Tick(context.Background()))
}

func TestWorker_Tick_ResolvesConflict(t *testing.T) {
	ctx := context.Background()
	worker, vaultSvc, store := setupWorker(t)

	base := appendUpsert(t, vaultSvc, "guide.md", "header\nbase\nfooter", "")
	appendUpsert(t, vaultSvc, "guide.md", "header\ncurrent\nfooter", base.EventID)

	// Конкурирующая правка от той же базы
	conflicting := appendUpsert(t, vaultSvc, "guide.md", "header\nincoming\nfooter", base.EventID)
	requireOutcome(t, conflicting, api.OutcomeMergeQueued)

	require.NoError(t, worker.Tick(ctx))

	// Job разрешен
	pending, err := store.CountMergeJobs(ctx, models.MergeStatusPending)
	require.NoError(t, err)
	assert.Equal(t, 0, pending)

	resolved, err := store.CountMergeJobs(ctx, models.MergeStatusResolved)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	// Projection обновлена merge событием с обоими вариантами
	doc, err := vaultSvc.GetLatest(ctx, "ops", "guide.md")
	require.NoError(t, err)
	assert.True(t, HasConflictMarkers(doc.Content))
	assert.Contains(t, doc.Content, "current")
	assert.Contains(t, doc.Content, "incoming")

	// Merge событие в логе с операцией merge
	history, err := vaultSvc.History(ctx, "ops", "guide.md", 10)
	require.NoError(t, err)
	assert.Equal(t, models.OpMerge, history[0].Operation)
}

func TestWorker_Tick_CleanMergeWhenOneSideUnchanged(t *testing.T) {
	ctx := context.Background()
	worker, vaultSvc, store := setupWorker(t)

	base := appendUpsert(t, vaultSvc, "guide.md", "original", "")

	// Первая правка применяется, вторая идентична базе — merge чистый
	appendUpsert(t, vaultSvc, "guide.md", "updated", base.EventID)
	conflicting := appendUpsert(t, vaultSvc, "guide.md", "original", base.EventID)
	requireOutcome(t, conflicting, api.OutcomeMergeQueued)

	require.NoError(t, worker.Tick(ctx))

	doc, err := vaultSvc.GetLatest(ctx, "ops", "guide.md")
	require.NoError(t, err)
	assert.False(t, HasConflictMarkers(doc.Content))
	assert.Equal(t, "updated", doc.Content)

	resolved, err := store.CountMergeJobs(ctx, models.MergeStatusResolved)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
}

func TestWorker_Tick_RepeatedTickIdempotent(t *testing.T) {
	ctx := context.Background()
	worker, vaultSvc, _ := setupWorker(t)

	base := appendUpsert(t, vaultSvc, "guide.md", "base", "")
	appendUpsert(t, vaultSvc, "guide.md", "current", base.EventID)
	appendUpsert(t, vaultSvc, "guide.md", "incoming", base.EventID)

	require.NoError(t, worker.Tick(ctx))

	docAfterFirst, err := vaultSvc.GetLatest(ctx, "ops", "guide.md")
	require.NoError(t, err)

	// Повторный tick ничего не меняет
	require.NoError(t, worker.Tick(ctx))

	docAfterSecond, err := vaultSvc.GetLatest(ctx, "ops", "guide.md")
	require.NoError(t, err)
	assert.Equal(t, docAfterFirst.LatestEventID, docAfterSecond.LatestEventID)
}

func requireOutcome(t *testing.T, outcome *models.AppendOutcome, want string) {
	t.Helper()
	require.Equal(t, want, outcome.Outcome)
}
