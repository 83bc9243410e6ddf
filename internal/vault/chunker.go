package vault

import (
	"strings"

	"github.com/armadahq/datacore/internal/models"
)

const (
	// maxChunkRunes максимальный размер одного chunk в рунах
	maxChunkRunes = 1600
)

// SplitChunks разбивает markdown документ на поисковые фрагменты.
// Разбиение детерминировано: границы — заголовки markdown; секции длиннее
// maxChunkRunes дополнительно режутся по параграфам.
// Для одинакового содержимого всегда возвращается одинаковый набор chunks.
func SplitChunks(domain, path, eventID, content string) []*models.Chunk {
	sections := splitSections(content)

	var chunks []*models.Chunk
	for _, sec := range sections {
		for _, piece := range splitLong(sec.body) {
			text := strings.TrimSpace(piece)
			if text == "" {
				continue
			}
			chunks = append(chunks, &models.Chunk{
				Domain:        domain,
				CanonicalPath: path,
				ChunkIndex:    len(chunks),
				Heading:       sec.heading,
				Content:       text,
				TokenCount:    len(strings.Fields(text)),
				EventID:       eventID,
			})
		}
	}

	return chunks
}

type section struct {
	heading string
	body    string
}

// splitSections режет документ по заголовкам markdown.
// Текст до первого заголовка образует секцию с пустым heading.
func splitSections(content string) []section {
	var sections []section
	var current section
	var body strings.Builder

	flush := func() {
		current.body = body.String()
		if strings.TrimSpace(current.body) != "" {
			sections = append(sections, current)
		}
		body.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		if heading, ok := parseHeading(line); ok {
			flush()
			current = section{heading: heading}
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()

	return sections
}

// parseHeading возвращает текст заголовка markdown (# ... ######)
func parseHeading(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return "", false
	}

	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level > 6 || level == len(trimmed) || trimmed[level] != ' ' {
		return "", false
	}

	return strings.TrimSpace(trimmed[level:]), true
}

// splitLong режет длинную секцию по параграфам так, чтобы каждый кусок
// не превышал maxChunkRunes (параграф длиннее лимита остается целым куском)
func splitLong(body string) []string {
	if len([]rune(body)) <= maxChunkRunes {
		return []string{body}
	}

	paragraphs := strings.Split(body, "\n\n")

	var pieces []string
	var current strings.Builder
	currentRunes := 0

	for _, p := range paragraphs {
		pRunes := len([]rune(p))
		if currentRunes > 0 && currentRunes+pRunes > maxChunkRunes {
			pieces = append(pieces, current.String())
			current.Reset()
			currentRunes = 0
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
			currentRunes += 2
		}
		current.WriteString(p)
		currentRunes += pRunes
	}

	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}

	return pieces
}

// DocumentTitle выводит заголовок документа: первый markdown заголовок
// или последний сегмент canonical path
func DocumentTitle(path, content string) string {
	for _, line := range strings.Split(content, "\n") {
		if heading, ok := parseHeading(line); ok {
			return heading
		}
	}

	segments := strings.Split(path, "/")
	return segments[len(segments)-1]
}
