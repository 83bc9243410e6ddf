package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/armadahq/datacore/internal/models"
	"github.com/armadahq/datacore/internal/storage"
)

// GetDocument возвращает текущую projection документа.
// Returns ErrDocumentNotFound if no projection exists.
func (s *Storage) GetDocument(ctx context.Context, domain, path string) (*models.DocumentProjection, error) {
	return getDocument(ctx, s.db, domain, path)
}

// GetDocumentTx читает projection внутри транзакции применения события.
// Решение linear/conflict принимается по этому чтению, поэтому оно обязано
// видеть тот же снимок, что и вставка события.
func (s *Storage) GetDocumentTx(ctx context.Context, tx *sql.Tx, domain, path string) (*models.DocumentProjection, error) {
	return getDocument(ctx, tx, domain, path)
}

func getDocument(ctx context.Context, q querier, domain, path string) (*models.DocumentProjection, error) {
	query := `
		SELECT domain, canonical_path, latest_event_id, title, content,
		       metadata, updated_at, deleted_at
		FROM documents
		WHERE domain = ? AND canonical_path = ?
	`

	doc := &models.DocumentProjection{}
	var deletedAt sql.NullInt64

	err := q.QueryRowContext(ctx, query, domain, path).Scan(
		&doc.Domain,
		&doc.CanonicalPath,
		&doc.LatestEventID,
		&doc.Title,
		&doc.Content,
		&doc.Metadata,
		&doc.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.DeletedAt = deletedAt.Int64

	return doc, nil
}

// UpsertDocument перезаписывает projection в рамках транзакции события
func (s *Storage) UpsertDocument(ctx context.Context, tx *sql.Tx, doc *models.DocumentProjection) error {
	var deletedAt interface{}
	if doc.DeletedAt != 0 {
		deletedAt = doc.DeletedAt
	}

	query := `
		INSERT INTO documents (domain, canonical_path, latest_event_id, title,
		                       content, metadata, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (domain, canonical_path) DO UPDATE SET
			latest_event_id = excluded.latest_event_id,
			title           = excluded.title,
			content         = excluded.content,
			metadata        = excluded.metadata,
			updated_at      = excluded.updated_at,
			deleted_at      = excluded.deleted_at
	`

	_, err := tx.ExecContext(ctx, query,
		doc.Domain,
		doc.CanonicalPath,
		doc.LatestEventID,
		doc.Title,
		doc.Content,
		doc.Metadata,
		doc.UpdatedAt,
		deletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	return nil
}

// ReplaceChunks атомарно заменяет все chunks документа.
// Вызывается в транзакции применения события.
func (s *Storage) ReplaceChunks(ctx context.Context, tx *sql.Tx, domain, path string, chunks []*models.Chunk) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM chunks WHERE domain = ? AND canonical_path = ?`,
		domain, path)
	if err != nil {
		return fmt.Errorf("failed to delete old chunks: %w", err)
	}

	query := `
		INSERT INTO chunks (domain, canonical_path, chunk_index, heading,
		                    content, token_count, event_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	for _, chunk := range chunks {
		_, err := tx.ExecContext(ctx, query,
			chunk.Domain,
			chunk.CanonicalPath,
			chunk.ChunkIndex,
			chunk.Heading,
			chunk.Content,
			chunk.TokenCount,
			chunk.EventID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", chunk.ChunkIndex, err)
		}
	}

	return nil
}

// SearchChunks возвращает chunks-кандидатов для локального ранжирования.
// Порядок (domain, canonical_path, chunk_index) фиксирован — от него зависит
// детерминизм ранжирования при равных score.
func (s *Storage) SearchChunks(ctx context.Context, domain, pathPrefix string, candidateLimit int) ([]*models.Chunk, error) {
	query := `
		SELECT c.domain, c.canonical_path, c.chunk_index, c.heading,
		       c.content, c.token_count, c.event_id
		FROM chunks c
		JOIN documents d ON d.domain = c.domain AND d.canonical_path = c.canonical_path
		WHERE d.deleted_at IS NULL
	`
	args := []interface{}{}

	if domain != "" {
		query += ` AND c.domain = ?`
		args = append(args, domain)
	}
	if pathPrefix != "" {
		query += ` AND c.canonical_path LIKE ? ESCAPE '\'`
		args = append(args, escapeLike(pathPrefix)+"%")
	}

	query += ` ORDER BY c.domain, c.canonical_path, c.chunk_index LIMIT ?`
	args = append(args, candidateLimit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var chunks []*models.Chunk
	for rows.Next() {
		chunk := &models.Chunk{}
		err := rows.Scan(
			&chunk.Domain,
			&chunk.CanonicalPath,
			&chunk.ChunkIndex,
			&chunk.Heading,
			&chunk.Content,
			&chunk.TokenCount,
			&chunk.EventID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return chunks, nil
}

// escapeLike экранирует специальные символы LIKE в пользовательском префиксе
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
