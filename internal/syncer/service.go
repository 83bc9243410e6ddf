package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/armadahq/datacore/internal/models"
	"github.com/armadahq/datacore/internal/storage"
	"github.com/armadahq/datacore/pkg/api"
)

//go:generate moq -out client_mock.go . PeerClient

// PeerClient определяет интерфейс обмена с пиром (для подмены в тестах)
type PeerClient interface {
	Push(ctx context.Context, peerURL string, req *api.SyncPushRequest) (*api.SyncPushResponse, error)
	Pull(ctx context.Context, peerURL string, after int64, limit int) (*api.SyncPullResponse, error)
	Register(ctx context.Context, peerURL string, req *api.PeerRequest) (*api.PeerResponse, error)
}

// Vault определяет срез vault-сервиса, нужный репликации
type Vault interface {
	AppendEvent(ctx context.Context, candidate *models.EventCandidate) (*models.AppendOutcome, error)
	ListSince(ctx context.Context, after int64, limit int) ([]*models.Event, error)
}

// Service реплицирует события между зарегистрированными пирами.
// Push и pull — независимые идемпотентные операции с независимыми
// курсорами; сбой сети оставляет курсор на месте, батч повторяется
// следующим тиком. Повторная доставка безопасна: дубликаты отсекает
// idempotency key на принимающей стороне.
type Service struct {
	peers    storage.PeerStorage
	vault    Vault
	client   PeerClient
	logger   *slog.Logger
	coreID   string
	maxBatch int
	now      func() int64
}

// NewService creates a new sync service
func NewService(peers storage.PeerStorage, vault Vault, client PeerClient, logger *slog.Logger, coreID string, maxBatch int) *Service {
	return &Service{
		peers:    peers,
		vault:    vault,
		client:   client,
		logger:   logger,
		coreID:   coreID,
		maxBatch: maxBatch,
		now:      func() int64 { return time.Now().Unix() },
	}
}

// TickPush отправляет накопленные локальные события каждому активному пиру.
// Курсор пира продвигается только после успешного ответа.
func (s *Service) TickPush(ctx context.Context) error {
	peers, err := s.peers.ListActivePeers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list peers: %w", err)
	}

	for _, peer := range peers {
		if err := s.pushPeer(ctx, peer); err != nil {
			// Ошибка одного пира не мешает остальным; курсор не тронут,
			// батч уйдет на следующем тике
			s.logger.Warn("Push to peer failed", "peer_id", peer.ID, "error", err)
		}
	}

	return nil
}

func (s *Service) pushPeer(ctx context.Context, peer *models.SyncPeer) error {
	cursor, err := s.peers.GetCursor(ctx, peer.ID, models.SyncDirectionPush)
	if err != nil {
		return err
	}

	events, err := s.vault.ListSince(ctx, cursor, s.maxBatch)
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	req := &api.SyncPushRequest{CoreID: s.coreID}
	for _, event := range events {
		// Собственные события пира ему не возвращаем
		if event.SourceCoreID == peer.ID {
			continue
		}
		req.Events = append(req.Events, WireFromEvent(event))
	}

	lastCursor := events[len(events)-1].Cursor

	if len(req.Events) > 0 {
		resp, err := s.client.Push(ctx, peer.URL, req)
		if err != nil {
			return err
		}

		s.logger.Info("Pushed events to peer",
			"peer_id", peer.ID,
			"events", len(req.Events),
			"applied", resp.Applied,
			"merge_queued", resp.MergeQueued,
			"duplicates", resp.Duplicates)
	}

	// Продвигаем курсор только после подтвержденной доставки всего батча
	if err := s.peers.AdvanceCursor(ctx, peer.ID, models.SyncDirectionPush, lastCursor); err != nil {
		return fmt.Errorf("failed to advance push cursor: %w", err)
	}

	return s.peers.TouchPeer(ctx, peer.ID, s.now())
}

// TickPull забирает у каждого активного пира события после pull-курсора
// и применяет их через идемпотентный AppendEvent.
func (s *Service) TickPull(ctx context.Context) error {
	peers, err := s.peers.ListActivePeers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list peers: %w", err)
	}

	for _, peer := range peers {
		if err := s.pullPeer(ctx, peer); err != nil {
			s.logger.Warn("Pull from peer failed", "peer_id", peer.ID, "error", err)
		}
	}

	return nil
}

func (s *Service) pullPeer(ctx context.Context, peer *models.SyncPeer) error {
	cursor, err := s.peers.GetCursor(ctx, peer.ID, models.SyncDirectionPull)
	if err != nil {
		return err
	}

	resp, err := s.client.Pull(ctx, peer.URL, cursor, s.maxBatch)
	if err != nil {
		return err
	}
	if len(resp.Events) == 0 {
		return nil
	}

	applied := 0
	duplicates := 0
	// Каждое событие применяется в собственной транзакции: сбой в середине
	// батча продвигает курсор до последнего успешного события
	advanced := cursor
	for _, wireEvent := range resp.Events {
		// Собственные события не переприменяем
		if wireEvent.SourceCoreID == s.coreID {
			advanced = wireEvent.Cursor
			continue
		}

		outcome, err := s.vault.AppendEvent(ctx, CandidateFromWire(wireEvent))
		if err != nil {
			s.logger.Error("Failed to apply pulled event",
				"peer_id", peer.ID,
				"event_id", wireEvent.ID,
				"error", err)
			break
		}

		if outcome.Outcome == api.OutcomeDuplicate {
			duplicates++
		} else {
			applied++
		}
		advanced = wireEvent.Cursor
	}

	if advanced > cursor {
		if err := s.peers.AdvanceCursor(ctx, peer.ID, models.SyncDirectionPull, advanced); err != nil {
			return fmt.Errorf("failed to advance pull cursor: %w", err)
		}
	}

	s.logger.Info("Pulled events from peer",
		"peer_id", peer.ID,
		"received", len(resp.Events),
		"applied", applied,
		"duplicates", duplicates,
		"cursor", advanced)

	return s.peers.TouchPeer(ctx, peer.ID, s.now())
}

// RegisterHub регистрирует fleet hub как пира этого корабля и, зеркально,
// этот корабль на самом hub. Идемпотентно: повторный запуск безопасен.
func (s *Service) RegisterHub(ctx context.Context, hubURL, hubID string) error {
	if err := s.peers.UpsertPeer(ctx, &models.SyncPeer{
		ID:     hubID,
		URL:    hubURL,
		Role:   models.RoleFleet,
		Active: true,
	}); err != nil {
		return fmt.Errorf("failed to register hub peer: %w", err)
	}

	return nil
}

// WireFromEvent конвертирует событие в wire-формат репликации
func WireFromEvent(event *models.Event) api.SyncEvent {
	return api.SyncEvent{
		ID:                event.ID,
		Cursor:            event.Cursor,
		SourceCoreID:      event.SourceCoreID,
		SourceSeq:         event.SourceSeq,
		IdempotencyKey:    event.IdempotencyKey,
		Operation:         event.Operation,
		Domain:            event.Domain,
		CanonicalPath:     event.CanonicalPath,
		Content:           event.Content,
		Metadata:          event.Metadata,
		WriterID:          event.WriterID,
		Signature:         event.Signature,
		PayloadHash:       event.PayloadHash,
		SupersedesEventID: event.SupersedesEventID,
		OccurredAt:        event.OccurredAt,
		Deleted:           event.Deleted,
	}
}

// CandidateFromWire конвертирует wire-событие в кандидата применения.
// based-on восстанавливается из supersedes_event_id: реплика выполняет
// ту же проверку конфликта, что и узел-источник.
func CandidateFromWire(ev api.SyncEvent) *models.EventCandidate {
	return &models.EventCandidate{
		ID:                ev.ID,
		SourceCoreID:      ev.SourceCoreID,
		SourceSeq:         ev.SourceSeq,
		IdempotencyKey:    ev.IdempotencyKey,
		Operation:         ev.Operation,
		Domain:            ev.Domain,
		CanonicalPath:     ev.CanonicalPath,
		Content:           ev.Content,
		Metadata:          ev.Metadata,
		WriterID:          ev.WriterID,
		Signature:         ev.Signature,
		PayloadHash:       ev.PayloadHash,
		BasedOnEventID:    ev.SupersedesEventID,
		SupersedesEventID: ev.SupersedesEventID,
		OccurredAt:        ev.OccurredAt,
		Deleted:           ev.Deleted,
	}
}
