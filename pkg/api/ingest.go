package api

// Outcome результата применения события в event log
const (
	OutcomeApplied     = "applied"      // событие применено линейно
	OutcomeMergeQueued = "merge_queued" // обнаружен конфликт, создан MergeJob
	OutcomeDuplicate   = "duplicate"    // idempotency key уже известен, повтор
)

// IngestRequest представляет запрос на запись документа в vault
type IngestRequest struct {
	Domain         string `json:"domain"`                 // домен документа (например "ops", "research")
	CanonicalPath  string `json:"canonical_path"`         // канонический путь документа внутри домена
	Operation      string `json:"operation"`              // upsert | delete | move
	Content        string `json:"content"`                // markdown содержимое (пустое для delete)
	Metadata       string `json:"metadata,omitempty"`     // JSON метаданные
	MovedFrom      string `json:"moved_from,omitempty"`   // прежний путь для операции move
	IdempotencyKey string `json:"idempotency_key"`        // глобально уникальный ключ записи
	WriterID       string `json:"writer_id"`              // идентификатор автора
	Signature      string `json:"signature"`              // HMAC подпись payload_hash ключом кластера
	BasedOnEventID string `json:"based_on_event_id"`      // event id, который автор считает текущим ("" = create)
	OccurredAt     int64  `json:"occurred_at,omitempty"`  // unix время записи у автора
}

// IngestResponse представляет результат применения записи
type IngestResponse struct {
	EventID string `json:"event_id"` // id созданного (или ранее созданного) события
	Outcome string `json:"outcome"`  // applied | merge_queued | duplicate
	Cursor  int64  `json:"cursor"`   // локальный курсор события (0 для merge_queued)
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`             // описание ошибки
	Message string `json:"message,omitempty"` // дополнительное сообщение
}
