package models

// Операции event log
const (
	OpUpsert = "upsert"
	OpDelete = "delete"
	OpMove   = "move"
	OpMerge  = "merge"
)

// Статусы события
const (
	EventStatusApplied    = "applied"
	EventStatusSuperseded = "superseded"
)

// Event представляет одну неизменяемую запись event log.
// После вставки меняться может только Status; все остальные поля
// фиксируются в момент записи.
type Event struct {
	ID                string `json:"id"`                  // UUID события
	SourceCoreID      string `json:"source_core_id"`      // core, на котором событие возникло
	IdempotencyKey    string `json:"idempotency_key"`     // глобально уникальный ключ exactly-once
	Operation         string `json:"operation"`           // upsert | delete | move | merge
	Domain            string `json:"domain"`              // домен документа
	CanonicalPath     string `json:"canonical_path"`      // нормализованный путь документа
	Content           string `json:"content"`             // markdown содержимое
	Metadata          string `json:"metadata"`            // JSON метаданные
	WriterID          string `json:"writer_id"`           // идентификатор автора
	Signature         string `json:"signature"`           // HMAC подпись payload_hash
	PayloadHash       string `json:"payload_hash"`        // SHA256 канонического payload
	SupersedesEventID string `json:"supersedes_event_id"` // событие, которое это событие заменяет
	Status            string `json:"status"`              // applied | superseded
	Cursor            int64  `json:"cursor"`              // локальный монотонный курсор
	SourceSeq         int64  `json:"source_seq"`          // порядковый номер на source core
	OccurredAt        int64  `json:"occurred_at"`         // unix время у автора
	IngestedAt        int64  `json:"ingested_at"`         // unix время применения локально
	Deleted           bool   `json:"deleted"`             // soft delete документа
}

// EventCandidate представляет полностью сформированное событие-кандидат
// до применения: то, что приходит от писателя или от пира.
type EventCandidate struct {
	ID                string // пустой для локальной записи; реплика сохраняет id источника
	SourceCoreID      string // пустой для локальной записи — заполнит vault
	IdempotencyKey    string
	Operation         string
	Domain            string
	CanonicalPath     string
	Content           string
	Metadata          string
	WriterID          string
	Signature         string
	PayloadHash       string
	BasedOnEventID    string // event id, который писатель считает текущим ("" = create)
	SupersedesEventID string // только для merge событий
	SourceSeq         int64  // 0 для локальной записи
	OccurredAt        int64
	Deleted           bool
}

// AppendOutcome описывает результат AppendEvent
type AppendOutcome struct {
	EventID string // id созданного или ранее созданного события
	Outcome string // api.OutcomeApplied | OutcomeMergeQueued | OutcomeDuplicate
	Cursor  int64  // локальный курсор применённого события (0 для merge_queued)
}

// ValidOperation проверяет, что операция известна event log
func ValidOperation(op string) bool {
	switch op {
	case OpUpsert, OpDelete, OpMove, OpMerge:
		return true
	}
	return false
}
