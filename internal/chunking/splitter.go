package chunking

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunk sizes are process-wide and measured in characters. Stored materials are
// re-chunked on every read, so changing these changes every chunk id sequence.
const (
	ChunkSize    = 1000
	ChunkOverlap = 200
)

// DefaultSeparators are tried in order: paragraph, line, sentence, word, character
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter splits text into overlapping segments, preferring the coarsest
// boundary that keeps a segment under the target size
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// NewSplitter creates a splitter. overlap is clamped to [0, chunkSize).
func NewSplitter(chunkSize, chunkOverlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = ChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}
	return &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   DefaultSeparators,
	}
}

var defaultSplitter = NewSplitter(ChunkSize, ChunkOverlap)

// Split splits text with the process-wide chunk size and overlap
func Split(text string) []string {
	return defaultSplitter.Split(text)
}

// ChunkSize returns the configured target segment length
func (s *Splitter) ChunkSize() int { return s.chunkSize }

// Overlap returns the configured overlap length
func (s *Splitter) Overlap() int { return s.chunkOverlap }

// Split returns the ordered segments of text. Identical input always yields
// identical output.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.merge(s.pieces(text, s.separators))
}

// pieces breaks text into parts no longer than chunkSize-chunkOverlap, cutting
// only at the coarsest separator that works for each oversized part. The limit
// leaves room to carry an overlap in front of any piece.
func (s *Splitter) pieces(text string, separators []string) []string {
	limit := s.chunkSize - s.chunkOverlap
	sep := ""
	var finer []string
	for i, candidate := range separators {
		if candidate == "" || strings.Contains(text, candidate) {
			sep = candidate
			finer = separators[i+1:]
			break
		}
	}

	var out []string
	for _, piece := range splitKeepingSeparator(text, sep) {
		if runeLen(piece) <= limit || sep == "" {
			out = append(out, piece)
			continue
		}
		out = append(out, s.pieces(piece, finer)...)
	}
	return out
}

// merge packs pieces (each no longer than chunkSize-chunkOverlap) into segments, carrying
// trailing pieces totalling at most chunkOverlap into the next segment.
func (s *Splitter) merge(pieces []string) []string {
	var segments, window []string
	total := 0

	for _, piece := range pieces {
		n := runeLen(piece)
		if total+n > s.chunkSize && len(window) > 0 {
			previous := strings.Join(window, "")
			if seg := strings.TrimSpace(previous); seg != "" {
				segments = append(segments, seg)
			}
			for total > s.chunkOverlap || (total+n > s.chunkSize && total > 0) {
				total -= runeLen(window[0])
				window = window[1:]
			}
			if total == 0 {
				if tail := s.overlapTail(previous, s.chunkSize-n); tail != "" {
					window = append(window, tail)
					total = runeLen(tail)
				}
			}
		}
		window = append(window, piece)
		total += n
	}

	if seg := strings.TrimSpace(strings.Join(window, "")); seg != "" {
		segments = append(segments, seg)
	}
	return segments
}

// overlapTail returns the last characters of text, at most chunkOverlap and
// at most room long, starting on a word boundary when one exists. Used when no
// whole piece of the previous segment fits inside the overlap.
func (s *Splitter) overlapTail(text string, room int) string {
	limit := s.chunkOverlap
	if room < limit {
		limit = room
	}
	if limit <= 0 {
		return ""
	}
	if strings.TrimSpace(text) == "" {
		return ""
	}
	runes := []rune(text)
	if len(runes) > limit {
		runes = runes[len(runes)-limit:]
	}
	for i, r := range runes {
		if unicode.IsSpace(r) {
			if rest := strings.TrimSpace(string(runes[i:])); rest != "" {
				return string(runes[i:])
			}
			break
		}
	}
	if strings.TrimSpace(string(runes)) == "" {
		return ""
	}
	return string(runes)
}

// splitKeepingSeparator splits text after each separator so the pieces
// concatenate back to text. An empty separator splits into characters.
func splitKeepingSeparator(text, sep string) []string {
	if sep == "" {
		pieces := make([]string, 0, len(text))
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}
	pieces := strings.SplitAfter(text, sep)
	if n := len(pieces); n > 0 && pieces[n-1] == "" {
		pieces = pieces[:n-1]
	}
	return pieces
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
