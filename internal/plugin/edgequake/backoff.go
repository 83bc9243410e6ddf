package edgequake

import (
	"strings"

	"github.com/armadahq/datacore/internal/models"
)

const (
	// backoffBaseMs базовая задержка повтора в миллисекундах
	backoffBaseMs = 1000
	// backoffCapMs потолок задержки (~17 минут)
	backoffCapMs = 1024000
)

// ComputeRetryBackoffMs возвращает задержку перед повтором после attemptCount
// неудачных попыток: min(2^attemptCount * 1000, 1024000) миллисекунд.
// Ряд: 2s, 4s, 8s, ... с потолком на attemptCount >= 10.
func ComputeRetryBackoffMs(attemptCount int) int64 {
	if attemptCount < 1 {
		attemptCount = 1
	}
	if attemptCount >= 10 {
		return backoffCapMs
	}
	return int64(backoffBaseMs) << attemptCount
}

// IsStaleSyncJob проверяет, устарел ли job: событие, которое он доставляет,
// уже вытеснено более новым событием того же пути. Delete никогда не
// считается устаревшим — удаление должно дойти до плагина всегда.
func IsStaleSyncJob(operation, eventID, latestEventID string) bool {
	if operation == models.OpDelete {
		return false
	}
	return eventID != latestEventID
}

// WorkspaceSlug выводит детерминированный slug workspace плагина для
// (cluster, domain): "data-core-<normalize(clusterID)>-<domain>".
// Нормализация: в нижний регистр, не-алфавитноцифровые символы — в дефис,
// серии дефисов схлопываются.
func WorkspaceSlug(clusterID, domain string) string {
	return "data-core-" + normalizeSlug(clusterID) + "-" + normalizeSlug(domain)
}

func normalizeSlug(s string) string {
	var b strings.Builder
	lastHyphen := false

	for _, r := range strings.ToLower(s) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if isAlnum {
			b.WriteRune(r)
			lastHyphen = false
			continue
		}
		if !lastHyphen && b.Len() > 0 {
			b.WriteByte('-')
			lastHyphen = true
		}
	}

	return strings.TrimSuffix(b.String(), "-")
}
