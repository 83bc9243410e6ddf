package api

// Режимы поиска
const (
	QueryModeHybrid  = "hybrid"  // lexical + внешний индекс-плагин (если включен)
	QueryModeLexical = "lexical" // только локальный chunk index
)

// QueryRequest представляет поисковый запрос к vault
type QueryRequest struct {
	Query      string `json:"query"`                 // текст запроса
	Domain     string `json:"domain,omitempty"`      // фильтр по домену
	PathPrefix string `json:"path_prefix,omitempty"` // фильтр по префиксу canonical_path
	Mode       string `json:"mode,omitempty"`        // hybrid | lexical (default hybrid)
	K          int    `json:"k,omitempty"`           // максимум результатов
}

// Citation указывает на конкретный chunk-источник результата
type Citation struct {
	Domain        string `json:"domain"`
	CanonicalPath string `json:"canonical_path"`
	Heading       string `json:"heading,omitempty"`
	ChunkIndex    int    `json:"chunk_index"`
}

// QueryResult представляет один ранжированный результат поиска
type QueryResult struct {
	CanonicalPath string     `json:"canonical_path"`
	Domain        string     `json:"domain"`
	Title         string     `json:"title"`
	Excerpt       string     `json:"excerpt"`
	Citations     []Citation `json:"citations"`
	Score         float64    `json:"score"`
}

// QueryResponse представляет ответ поискового движка
type QueryResponse struct {
	Mode         string        `json:"mode"`          // фактически использованный режим
	Results      []QueryResult `json:"results"`
	FallbackUsed bool          `json:"fallback_used"` // true, если плагин недоступен и сработал локальный поиск
}
