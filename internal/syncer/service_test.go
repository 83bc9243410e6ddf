package syncer

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

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

// fakeClient подменяет HTTP-обмен с пиром
type fakeClient struct {
	pushErr    error
	pullErr    error
	pushes     []*api.SyncPushRequest
	pullEvents []api.SyncEvent
	pulls      int
}

func (f *fakeClient) Push(_ context.Context, _ string, req *api.SyncPushRequest) (*api.SyncPushResponse, error) {
	if f.pushErr != nil {
		return nil, f.pushErr
	}
	f.pushes = append(f.pushes, req)
	resp := &api.SyncPushResponse{Applied: len(req.Events)}
	for _, ev := range req.Events {
		if ev.Cursor > resp.AckedCursor {
			resp.AckedCursor = ev.Cursor
		}
	}
	return resp, nil
}

func (f *fakeClient) Pull(_ context.Context, _ string, after int64, limit int) (*api.SyncPullResponse, error) {
	f.pulls++
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	resp := &api.SyncPullResponse{}
	for _, ev := range f.pullEvents {
		if ev.Cursor <= after {
			continue
		}
		resp.Events = append(resp.Events, ev)
		resp.MaxCursor = ev.Cursor
		if len(resp.Events) >= limit {
			break
		}
	}
	return resp, nil
}

func (f *fakeClient) Register(_ context.Context, _ string, req *api.PeerRequest) (*api.PeerResponse, error) {
	return &api.PeerResponse{ID: req.ID, Active: true}, nil
}

func setupSyncService(t *testing.T, client PeerClient) (*Service, *sqlite.Storage, *vault.Service) {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(ctx, ":memory:", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	v := vault.NewService(store, nil, setupTestLogger(), "core-local")
	svc := NewService(store, v, client, setupTestLogger(), "core-local", 100)
	svc.now = func() int64 { return 1700000000 }
	return svc, store, v
}

func registerPeer(t *testing.T, store *sqlite.Storage, id string) *models.SyncPeer {
	t.Helper()
	peer := &models.SyncPeer{
		ID:     id,
		URL:    "http://peer.example:8080",
		Role:   models.RoleFleet,
		Active: true,
	}
	require.NoError(t, store.UpsertPeer(context.Background(), peer))
	return peer
}

func appendLocal(t *testing.T, v *vault.Service, path, content string) {
	t.Helper()
	_, err := v.AppendEvent(context.Background(), &models.EventCandidate{
		IdempotencyKey: uuid.New().String(),
		Operation:      models.OpUpsert,
		Domain:         "ops",
		CanonicalPath:  path,
		Content:        content,
		WriterID:       "writer-1",
		OccurredAt:     time.Now().Unix(),
	})
	require.NoError(t, err)
}

func TestTickPush_AdvancesCursorAfterAck(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	svc, store, v := setupSyncService(t, client)
	registerPeer(t, store, "core-hub")

	appendLocal(t, v, "a.md", "alpha")
	appendLocal(t, v, "b.md", "bravo")

	require.NoError(t, svc.TickPush(ctx))

	require.Len(t, client.pushes, 1)
	assert.Len(t, client.pushes[0].Events, 2)
	assert.Equal(t, "core-local", client.pushes[0].CoreID)

	cursor, err := store.GetCursor(ctx, "core-hub", models.SyncDirectionPush)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cursor)

	// Повторный тик без новых событий ничего не шлет
	require.NoError(t, svc.TickPush(ctx))
	assert.Len(t, client.pushes, 1)
}

func TestTickPush_FailureKeepsCursorAndRetries(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{pushErr: errors.New("connection refused")}
	svc, store, v := setupSyncService(t, client)
	registerPeer(t, store, "core-hub")

	appendLocal(t, v, "a.md", "alpha")

	// Ошибка пира не роняет тик
	require.NoError(t, svc.TickPush(ctx))

	cursor, err := store.GetCursor(ctx, "core-hub", models.SyncDirectionPush)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cursor)

	// После восстановления тот же батч уходит целиком
	client.pushErr = nil
	require.NoError(t, svc.TickPush(ctx))
	require.Len(t, client.pushes, 1)
	assert.Len(t, client.pushes[0].Events, 1)

	cursor, err = store.GetCursor(ctx, "core-hub", models.SyncDirectionPush)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cursor)
}

func TestTickPush_SkipsPeerOwnEvents(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	svc, store, v := setupSyncService(t, client)
	registerPeer(t, store, "core-hub")

	// Событие, полученное от этого же пира, ему не возвращается
	_, err := v.AppendEvent(ctx, &models.EventCandidate{
		ID:             uuid.New().String(),
		SourceCoreID:   "core-hub",
		SourceSeq:      1,
		IdempotencyKey: uuid.New().String(),
		Operation:      models.OpUpsert,
		Domain:         "ops",
		CanonicalPath:  "hub.md",
		Content:        "from hub",
		WriterID:       "writer-hub",
		OccurredAt:     time.Now().Unix(),
	})
	require.NoError(t, err)
	appendLocal(t, v, "local.md", "local")

	require.NoError(t, svc.TickPush(ctx))

	require.Len(t, client.pushes, 1)
	require.Len(t, client.pushes[0].Events, 1)
	assert.Equal(t, "local.md", client.pushes[0].Events[0].CanonicalPath)

	// Курсор перешагивает отфильтрованное событие
	cursor, err := store.GetCursor(ctx, "core-hub", models.SyncDirectionPush)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cursor)
}

func wireUpsert(id string, cursor, seq int64, path, content string) api.SyncEvent {
	return api.SyncEvent{
		ID:             id,
		Cursor:         cursor,
		SourceCoreID:   "core-hub",
		SourceSeq:      seq,
		IdempotencyKey: "idem-" + id,
		Operation:      models.OpUpsert,
		Domain:         "ops",
		CanonicalPath:  path,
		Content:        content,
		WriterID:       "writer-hub",
		OccurredAt:     time.Now().Unix(),
	}
}

func TestTickPull_AppliesEventsAndAdvancesCursor(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{pullEvents: []api.SyncEvent{
		wireUpsert("ev-1", 1, 1, "guide.md", "# Guide\n\nfirst"),
		wireUpsert("ev-2", 2, 2, "notes.md", "# Notes\n\nsecond"),
	}}
	svc, store, _ := setupSyncService(t, client)
	registerPeer(t, store, "core-hub")

	require.NoError(t, svc.TickPull(ctx))

	doc, err := store.GetDocument(ctx, "ops", "guide.md")
	require.NoError(t, err)
	assert.Equal(t, "ev-1", doc.LatestEventID)

	cursor, err := store.GetCursor(ctx, "core-hub", models.SyncDirectionPull)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cursor)

	// Повторный pull с продвинутым курсором ничего не применяет заново
	require.NoError(t, svc.TickPull(ctx))
	events, err := store.ListEventsSince(ctx, 0, 100)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestTickPull_ReplayedBatchIsIdempotent(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{pullEvents: []api.SyncEvent{
		wireUpsert("ev-1", 1, 1, "guide.md", "# Guide\n\nfirst"),
	}}
	svc, store, v := setupSyncService(t, client)
	registerPeer(t, store, "core-hub")

	require.NoError(t, svc.TickPull(ctx))

	// Сбрасываем курсор, имитируя повторную доставку того же батча
	require.NoError(t, store.UpsertPeer(ctx, &models.SyncPeer{
		ID: "core-hub", URL: "http://peer.example:8080", Role: models.RoleFleet, Active: true,
	}))
	outcome, err := v.AppendEvent(ctx, CandidateFromWire(client.pullEvents[0]))
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeDuplicate, outcome.Outcome)

	events, err := store.ListEventsSince(ctx, 0, 100)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestTickPull_PartialFailureAdvancesToLastSuccess(t *testing.T) {
	ctx := context.Background()
	bad := wireUpsert("ev-2", 2, 2, "", "broken") // пустой domain не проходит валидацию
	client := &fakeClient{pullEvents: []api.SyncEvent{
		wireUpsert("ev-1", 1, 1, "guide.md", "first"),
		bad,
		wireUpsert("ev-3", 3, 3, "notes.md", "third"),
	}}
	svc, store, _ := setupSyncService(t, client)
	registerPeer(t, store, "core-hub")

	require.NoError(t, svc.TickPull(ctx))

	// Применилось только событие до сбоя
	events, err := store.ListEventsSince(ctx, 0, 100)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	cursor, err := store.GetCursor(ctx, "core-hub", models.SyncDirectionPull)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cursor)
}

func TestTickPull_SkipsOwnEventsButAdvances(t *testing.T) {
	ctx := context.Background()
	echoed := wireUpsert("ev-1", 1, 1, "mine.md", "mine")
	echoed.SourceCoreID = "core-local"
	client := &fakeClient{pullEvents: []api.SyncEvent{echoed}}
	svc, store, _ := setupSyncService(t, client)
	registerPeer(t, store, "core-hub")

	require.NoError(t, svc.TickPull(ctx))

	events, err := store.ListEventsSince(ctx, 0, 100)
	require.NoError(t, err)
	assert.Empty(t, events)

	cursor, err := store.GetCursor(ctx, "core-hub", models.SyncDirectionPull)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cursor)
}

func TestRegisterHub_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := setupSyncService(t, &fakeClient{})

	require.NoError(t, svc.RegisterHub(ctx, "http://hub.example:8080", "core-hub"))
	require.NoError(t, svc.RegisterHub(ctx, "http://hub.example:8080", "core-hub"))

	peers, err := store.ListActivePeers(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, models.RoleFleet, peers[0].Role)
}

func TestWireRoundTrip_PreservesIdentity(t *testing.T) {
	event := &models.Event{
		ID:                "ev-origin",
		Cursor:            42,
		SourceCoreID:      "core-hub",
		SourceSeq:         7,
		IdempotencyKey:    "idem-1",
		Operation:         models.OpUpsert,
		Domain:            "ops",
		CanonicalPath:     "guide.md",
		Content:           "body",
		WriterID:          "writer-1",
		SupersedesEventID: "ev-prior",
		OccurredAt:        1700000000,
	}

	candidate := CandidateFromWire(WireFromEvent(event))

	assert.Equal(t, "ev-origin", candidate.ID)
	assert.Equal(t, "core-hub", candidate.SourceCoreID)
	assert.Equal(t, int64(7), candidate.SourceSeq)
	// Реплика повторяет проверку конфликта источника
	assert.Equal(t, "ev-prior", candidate.BasedOnEventID)
	assert.Equal(t, "ev-prior", candidate.SupersedesEventID)
}
