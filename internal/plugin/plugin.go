package plugin

import "context"

// HybridResult представляет один результат hybrid-запроса плагина.
// RemoteDocID резолвится в (domain, canonical_path) через таблицу
// сопоставления документов; результаты без сопоставления отбрасываются.
type HybridResult struct {
	WorkspaceSlug string  `json:"workspace_slug"`
	RemoteDocID   string  `json:"remote_doc_id"`
	Snippet       string  `json:"snippet"`
	Heading       string  `json:"heading"`
	Score         float64 `json:"score"`
}

// HybridQuery описывает запрос к внешнему индексу
type HybridQuery struct {
	Query      string
	Domain     string
	PathPrefix string
	K          int
}

// Index — полиморфная способность внешнего индекс-плагина.
// Выбирается на этапе конструирования: query path не ветвится по
// глобальным флагам, он просто вызывает инжектированную реализацию.
type Index interface {
	// Enabled сообщает, сконфигурирован ли внешний индекс
	Enabled() bool

	// QueryHybrid выполняет hybrid-запрос против внешнего индекса
	QueryHybrid(ctx context.Context, q HybridQuery) ([]HybridResult, error)

	// DrainPending обрабатывает накопленные sync jobs (один bounded батч)
	DrainPending(ctx context.Context) error
}

// Disabled — no-op реализация для развертываний без плагина
type Disabled struct{}

// NewDisabled returns the no-op index implementation
func NewDisabled() *Disabled {
	return &Disabled{}
}

// Enabled always returns false
func (*Disabled) Enabled() bool { return false }

// QueryHybrid возвращает пустой результат: query engine уходит в локальный поиск
func (*Disabled) QueryHybrid(ctx context.Context, q HybridQuery) ([]HybridResult, error) {
	return nil, nil
}

// DrainPending is a no-op
func (*Disabled) DrainPending(ctx context.Context) error { return nil }
