package merge

import "strings"

// Маркеры конфликта в содержимом merge события
const (
	ConflictMarkerBase     = "<<<<<<< base-event"
	ConflictMarkerSep      = "======="
	ConflictMarkerIncoming = ">>>>>>> incoming-event"
)

// Merge3 выполняет детерминированный трехсторонний merge построчно.
//
// Правила:
//   - сторона, совпадающая с базой, уступает изменившейся стороне;
//   - одинаковые изменения с обеих сторон берутся один раз;
//   - несовместимые изменения сохраняются обе, обернутые в маркеры
//     конфликта — содержимое ни одного писателя не теряется молча.
//
// Результат — чистая функция от (base, current, incoming): все реплики,
// выполнившие merge одного конфликта, получают одинаковый контент.
// Второй результат true, если в содержимом остались маркеры конфликта.
func Merge3(base, current, incoming string) (string, bool) {
	// Тривиальные случаи без конфликта
	if current == incoming {
		return current, false
	}
	if current == base {
		return incoming, false
	}
	if incoming == base {
		return current, false
	}

	baseLines := splitLines(base)
	currentLines := splitLines(current)
	incomingLines := splitLines(incoming)

	// Общие неизмененные префикс и суффикс всех трех версий выносятся
	// за скобки; конфликт ограничивается серединой.
	prefix := commonPrefix(baseLines, currentLines, incomingLines)

	baseTail := baseLines[prefix:]
	currentTail := currentLines[prefix:]
	incomingTail := incomingLines[prefix:]

	suffix := commonSuffix(baseTail, currentTail, incomingTail)

	baseMid := baseTail[:len(baseTail)-suffix]
	currentMid := currentTail[:len(currentTail)-suffix]
	incomingMid := incomingTail[:len(incomingTail)-suffix]

	var mid []string
	conflict := false

	switch {
	case equalLines(currentMid, incomingMid):
		mid = currentMid
	case equalLines(currentMid, baseMid):
		mid = incomingMid
	case equalLines(incomingMid, baseMid):
		mid = currentMid
	default:
		conflict = true
		mid = append(mid, ConflictMarkerBase)
		mid = append(mid, currentMid...)
		mid = append(mid, ConflictMarkerSep)
		mid = append(mid, incomingMid...)
		mid = append(mid, ConflictMarkerIncoming)
	}

	merged := make([]string, 0, prefix+len(mid)+suffix)
	merged = append(merged, currentLines[:prefix]...)
	merged = append(merged, mid...)
	merged = append(merged, currentTail[len(currentTail)-suffix:]...)

	return strings.Join(merged, "\n"), conflict
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// commonPrefix возвращает длину общего префикса трех списков строк
func commonPrefix(a, b, c []string) int {
	n := 0
	for n < len(a) && n < len(b) && n < len(c) && a[n] == b[n] && a[n] == c[n] {
		n++
	}
	return n
}

// commonSuffix возвращает длину общего суффикса трех списков строк
func commonSuffix(a, b, c []string) int {
	n := 0
	for n < len(a) && n < len(b) && n < len(c) &&
		a[len(a)-1-n] == b[len(b)-1-n] && a[len(a)-1-n] == c[len(c)-1-n] {
		n++
	}
	return n
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// HasConflictMarkers проверяет наличие маркеров неразрешенного конфликта
func HasConflictMarkers(content string) bool {
	return strings.Contains(content, ConflictMarkerBase) &&
		strings.Contains(content, ConflictMarkerIncoming)
}
