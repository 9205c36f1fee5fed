package text

import "strings"

// Split cuts content into chunks of at most size runes with overlap runes
// carried between neighbours. Breaks prefer paragraph, then sentence, then
// word boundaries inside the last quarter of each window.
func Split(content string, size, overlap int) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if size <= 0 {
		return []string{content}
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(content)
	var chunks []string
	for start := 0; start < len(runes); {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, strings.TrimSpace(string(runes[start:])))
			break
		}
		end = breakPoint(runes, start, end)
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			chunks = append(chunks, piece)
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

func breakPoint(runes []rune, start, end int) int {
	floor := end - (end-start)/4
	for _, seps := range [][]rune{{'\n'}, {'.', '!', '?', '。'}, {' ', '\t'}} {
		for i := end - 1; i >= floor; i-- {
			for _, s := range seps {
				if runes[i] == s {
					return i + 1
				}
			}
		}
	}
	return end
}
