package models

// DocumentProjection представляет текущее состояние документа,
// производное от ровно одного события (LatestEventID).
// Пересчитывается транзакционно вместе с каждым применённым событием.
type DocumentProjection struct {
	Domain        string `json:"domain"`
	CanonicalPath string `json:"canonical_path"`
	LatestEventID string `json:"latest_event_id"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	Metadata      string `json:"metadata"`
	UpdatedAt     int64  `json:"updated_at"`
	DeletedAt     int64  `json:"deleted_at"` // 0 = не удален
}

// IsDeleted возвращает true, если документ помечен удалённым
func (d *DocumentProjection) IsDeleted() bool {
	return d.DeletedAt != 0
}

// Chunk представляет один поисковый фрагмент документа.
// Chunks полностью перезаписываются при каждом изменении содержимого.
type Chunk struct {
	Domain        string `json:"domain"`
	CanonicalPath string `json:"canonical_path"`
	Heading       string `json:"heading"`
	Content       string `json:"content"`
	EventID       string `json:"event_id"` // событие, породившее эту версию chunks
	ChunkIndex    int    `json:"chunk_index"`
	TokenCount    int    `json:"token_count"`
}
