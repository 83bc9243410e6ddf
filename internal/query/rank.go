package query

import (
	"sort"
	"strings"
	"unicode"

	"github.com/armadahq/datacore/internal/models"
)

// scoredChunk — chunk с вычисленным лексическим score
type scoredChunk struct {
	chunk *models.Chunk
	score int
}

// Tokenize разбивает текст на поисковые термы: последовательности
// букв/цифр, приведенные к нижнему регистру
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ScoreChunk вычисляет детерминированный лексический score chunk'а:
// 3 за каждый уникальный терм запроса, встретившийся в chunk'е,
// плюс 1 за каждое вхождение. Чистая целочисленная арифметика —
// результат стабилен между запусками и платформами.
func ScoreChunk(queryTerms []string, chunk *models.Chunk) int {
	if len(queryTerms) == 0 {
		return 0
	}

	counts := make(map[string]int)
	for _, term := range Tokenize(chunk.Heading + " " + chunk.Content) {
		counts[term]++
	}

	seen := make(map[string]bool)
	score := 0
	for _, term := range queryTerms {
		occurrences := counts[term]
		if occurrences == 0 {
			continue
		}
		score += occurrences
		if !seen[term] {
			seen[term] = true
			score += 3
		}
	}

	return score
}

// rankChunks ранжирует кандидатов по score.
// Порядок при равных score фиксирован: (domain, canonical_path, chunk_index)
// по возрастанию — детерминизм требуется для воспроизводимости.
func rankChunks(queryTerms []string, chunks []*models.Chunk) []scoredChunk {
	scored := make([]scoredChunk, 0, len(chunks))
	for _, chunk := range chunks {
		score := ScoreChunk(queryTerms, chunk)
		if score == 0 {
			continue
		}
		scored = append(scored, scoredChunk{chunk: chunk, score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		a, b := scored[i].chunk, scored[j].chunk
		if a.Domain != b.Domain {
			return a.Domain < b.Domain
		}
		if a.CanonicalPath != b.CanonicalPath {
			return a.CanonicalPath < b.CanonicalPath
		}
		return a.ChunkIndex < b.ChunkIndex
	})

	return scored
}

// maxExcerptRunes максимальная длина excerpt в рунах
const maxExcerptRunes = 280

// excerpt возвращает усеченное содержимое chunk'а для выдачи
func excerpt(content string) string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) <= maxExcerptRunes {
		return string(runes)
	}
	return string(runes[:maxExcerptRunes]) + "…"
}
