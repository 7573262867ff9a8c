package chunking

import (
	"strings"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
)

// MinChunkChars drops fragments too short to carry a policy clause.
const MinChunkChars = 50

type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

// Split windows every page separately so each chunk belongs to exactly one page.
func (s *Splitter) Split(pages []domain.PageText) []domain.Chunk {
	var out []domain.Chunk
	for _, page := range pages {
		for _, text := range s.splitText(normalizeSpace(page.Text)) {
			if len([]rune(text)) < MinChunkChars {
				continue
			}
			out = append(out, domain.Chunk{
				Index:   len(out),
				PageNum: page.Number,
				Text:    text,
			})
		}
	}
	return out
}

// splitText cuts windows of ChunkSize runes, preferring to break on a space,
// and starts each next window Overlap runes before the previous end.
func (s *Splitter) splitText(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var out []string
	start := 0
	for start < len(runes) {
		end := start + s.ChunkSize
		if end >= len(runes) {
			end = len(runes)
		} else if cut := lastSpace(runes[start:end]); cut > s.ChunkSize/2 {
			end = start + cut
		}
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}
		next := end - s.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// lastSpace returns the index of the last space in window, or -1.
func lastSpace(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == ' ' {
			return i
		}
	}
	return -1
}

func normalizeSpace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
