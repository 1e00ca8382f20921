// Package format converts engine output into platform content: rich-text
// detection, markdown-to-post conversion, and size-bounded chunking.
package format

import "strings"

// minBreakRatio rejects break points in the first half of the budget so a
// chunk is never pathologically short.
const minBreakRatio = 0.5

// ChunkText splits text into chunks of at most maxLength characters,
// preferring natural boundaries. Break points are tried in order (last
// paragraph break, last newline, last space), each accepted only beyond
// half the budget, with a hard break at the limit as the fallback. Emitted
// chunks and the carried remainder are whitespace-trimmed.
func ChunkText(text string, maxLength int) []string {
	if maxLength <= 0 || len(text) <= maxLength {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len(remaining) > 0 {
		if len(remaining) <= maxLength {
			chunks = append(chunks, remaining)
			break
		}

		window := remaining[:maxLength]
		threshold := int(float64(maxLength) * minBreakRatio)

		cutAt := maxLength
		if idx := strings.LastIndex(window, "\n\n"); idx > threshold {
			cutAt = idx
		} else if idx := strings.LastIndex(window, "\n"); idx > threshold {
			cutAt = idx
		} else if idx := strings.LastIndex(window, " "); idx > threshold {
			cutAt = idx
		}

		chunks = append(chunks, strings.TrimSpace(remaining[:cutAt]))
		remaining = strings.TrimSpace(remaining[cutAt:])
	}
	return chunks
}
