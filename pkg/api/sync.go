package api

// SyncEvent представляет одно событие event log в wire-формате репликации.
// Поля повторяют events таблицу; status намеренно не передается —
// каждая реплика выводит его сама при применении.
type SyncEvent struct {
	ID                string `json:"id"`
	SourceCoreID      string `json:"source_core_id"`
	IdempotencyKey    string `json:"idempotency_key"`
	Operation         string `json:"operation"`
	Domain            string `json:"domain"`
	CanonicalPath     string `json:"canonical_path"`
	Content           string `json:"content"`
	Metadata          string `json:"metadata,omitempty"`
	WriterID          string `json:"writer_id"`
	Signature         string `json:"signature"`
	PayloadHash       string `json:"payload_hash"`
	SupersedesEventID string `json:"supersedes_event_id,omitempty"`
	Cursor            int64  `json:"cursor"`     // курсор в логе отправителя
	SourceSeq         int64  `json:"source_seq"`
	OccurredAt        int64  `json:"occurred_at"`
	Deleted           bool   `json:"deleted"`
}

// SyncPushRequest представляет батч событий от пира
type SyncPushRequest struct {
	Events []SyncEvent `json:"events"`
	CoreID string      `json:"core_id"` // идентификатор отправителя
}

// SyncPushResult описывает результат применения одного события из батча
type SyncPushResult struct {
	EventID string `json:"event_id"`
	Outcome string `json:"outcome"` // applied | merge_queued | duplicate
}

// SyncPushResponse представляет ответ на push: per-event результаты и
// максимальный курсор отправителя, который получатель подтверждает.
type SyncPushResponse struct {
	Results      []SyncPushResult `json:"results"`
	AckedCursor  int64            `json:"acked_cursor"`
	Applied      int              `json:"applied"`
	MergeQueued  int              `json:"merge_queued"`
	Duplicates   int              `json:"duplicates"`
}

// SyncPullResponse представляет батч событий для pull-репликации
type SyncPullResponse struct {
	Events    []SyncEvent `json:"events"`
	MaxCursor int64       `json:"max_cursor"` // курсор последнего события в батче
}

// PeerRequest представляет регистрацию пира
type PeerRequest struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Role string `json:"role"` // ship | fleet
}

// PeerResponse подтверждает регистрацию пира
type PeerResponse struct {
	ID     string `json:"id"`
	Active bool   `json:"active"`
}
