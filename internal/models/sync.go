package models

// Роли узлов кластера
const (
	RoleShip  = "ship"  // независимый узел с собственным vault
	RoleFleet = "fleet" // центральный hub, агрегирующий события кораблей
)

// Направления репликации для курсоров
const (
	SyncDirectionPush = "push"
	SyncDirectionPull = "pull"
)

// SyncPeer представляет удалённый core, с которым этот узел реплицируется
type SyncPeer struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Role     string `json:"role"`      // ship | fleet
	LastSeen int64  `json:"last_seen"` // unix время последнего успешного обмена, 0 = никогда
	Active   bool   `json:"active"`
}

// SyncCursor представляет watermark репликации с одним пиром в одном направлении.
// LastCursor продвигается только после durable применения/подтверждения батча.
type SyncCursor struct {
	PeerID     string `json:"peer_id"`
	Direction  string `json:"direction"` // push | pull
	LastCursor int64  `json:"last_cursor"`
}

// Статусы merge job
const (
	MergeStatusPending  = "pending"
	MergeStatusResolved = "resolved"
	MergeStatusError    = "error"
)

// MergeJob представляет обнаруженный конфликт конкурирующих правок,
// ожидающий разрешения в новое merge событие.
type MergeJob struct {
	ID              string `json:"id"`
	Domain          string `json:"domain"`
	CanonicalPath   string `json:"canonical_path"`
	BaseEventID     string `json:"base_event_id"`     // событие, на котором основана конфликтующая правка
	IncomingEventID string `json:"incoming_event_id"` // конфликтующее событие
	Status          string `json:"status"`            // pending | resolved | error
	Detail          string `json:"detail"`            // диагностика для status=error
	CreatedAt       int64  `json:"created_at"`
	ResolvedAt      int64  `json:"resolved_at"`
}

// IdempotencyRecord сопоставляет ключ идемпотентности с произведенным событием.
// Обеспечивает exactly-once применение при повторах и редоставке.
type IdempotencyRecord struct {
	Key       string `json:"key"`
	EventID   string `json:"event_id"`
	Outcome   string `json:"outcome"` // applied | merge_queued
	CreatedAt int64  `json:"created_at"`
}
