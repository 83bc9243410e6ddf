package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/armadahq/datacore/internal/models"
)

// UpsertPeer регистрирует или обновляет пира (идемпотентно по id)
func (s *Storage) UpsertPeer(ctx context.Context, peer *models.SyncPeer) error {
	query := `
		INSERT INTO sync_peers (id, url, role, active, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			url    = excluded.url,
			role   = excluded.role,
			active = excluded.active
	`

	var lastSeen interface{}
	if peer.LastSeen != 0 {
		lastSeen = peer.LastSeen
	}

	_, err := s.db.ExecContext(ctx, query,
		peer.ID, peer.URL, peer.Role, boolToInt(peer.Active), lastSeen)
	if err != nil {
		return fmt.Errorf("failed to upsert peer: %w", err)
	}

	return nil
}

// ListActivePeers возвращает всех активных пиров
func (s *Storage) ListActivePeers(ctx context.Context) ([]*models.SyncPeer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, role, active, last_seen FROM sync_peers WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query peers: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var peers []*models.SyncPeer
	for rows.Next() {
		peer := &models.SyncPeer{}
		var active int
		var lastSeen sql.NullInt64

		if err := rows.Scan(&peer.ID, &peer.URL, &peer.Role, &active, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan peer: %w", err)
		}

		peer.Active = intToBool(active)
		peer.LastSeen = lastSeen.Int64
		peers = append(peers, peer)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return peers, nil
}

// TouchPeer обновляет last_seen пира после успешного обмена
func (s *Storage) TouchPeer(ctx context.Context, peerID string, seenAt int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_peers SET last_seen = ? WHERE id = ?`, seenAt, peerID)
	if err != nil {
		return fmt.Errorf("failed to touch peer: %w", err)
	}
	return nil
}

// GetCursor возвращает watermark для (peer, direction).
// 0, если обменов еще не было.
func (s *Storage) GetCursor(ctx context.Context, peerID, direction string) (int64, error) {
	var cursor int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(
			(SELECT last_cursor FROM sync_cursors WHERE peer_id = ? AND direction = ?), 0)`,
		peerID, direction).Scan(&cursor)
	if err != nil {
		return 0, fmt.Errorf("failed to get sync cursor: %w", err)
	}
	return cursor, nil
}

// AdvanceCursor продвигает watermark для (peer, direction).
// Курсор никогда не откатывается назад.
func (s *Storage) AdvanceCursor(ctx context.Context, peerID, direction string, cursor int64) error {
	query := `
		INSERT INTO sync_cursors (peer_id, direction, last_cursor)
		VALUES (?, ?, ?)
		ON CONFLICT (peer_id, direction) DO UPDATE SET
			last_cursor = MAX(last_cursor, excluded.last_cursor)
	`

	_, err := s.db.ExecContext(ctx, query, peerID, direction, cursor)
	if err != nil {
		return fmt.Errorf("failed to advance sync cursor: %w", err)
	}

	return nil
}
