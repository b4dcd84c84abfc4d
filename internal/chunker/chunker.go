// Package chunker splits long document text into overlapping fixed-size windows.
package chunker

import "unicode/utf8"

// DefaultSize is used when the caller passes a non-positive window size.
const DefaultSize = 4000

// Chunk is one window of the source text. Offset is the byte position of the
// window start in the original text; Seq is its 0-based position in the output.
type Chunk struct {
	Text   string
	Offset int
	Seq    int
}

// End returns the byte offset just past the chunk.
func (c Chunk) End() int {
	return c.Offset + len(c.Text)
}

// Split cuts text into windows of at most size bytes, each starting
// size-overlap bytes after the previous one. Window edges are kept on UTF-8
// rune boundaries, so a window may be a few bytes shorter than size.
//
// The start offset always advances by at least one rune, which keeps the
// loop finite when overlap >= size.
func Split(text string, size, overlap int) []Chunk {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = 0
	}

	n := len(text)
	if n == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < n {
		end := start + size
		if end > n {
			end = n
		}
		end = alignEnd(text, start, end)

		chunks = append(chunks, Chunk{
			Text:   text[start:end],
			Offset: start,
			Seq:    len(chunks),
		})
		if end == n {
			break
		}

		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = forwardToRune(text, next)
	}
	return chunks
}

// Texts returns the chunk texts in order.
func Texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

// alignEnd moves end back to a rune boundary. If that would leave the window
// empty it moves forward past the rune starting at start instead.
func alignEnd(text string, start, end int) int {
	if end >= len(text) {
		return len(text)
	}
	e := end
	for e > start && !utf8.RuneStart(text[e]) {
		e--
	}
	if e > start {
		return e
	}
	return forwardToRune(text, start+1)
}

func forwardToRune(text string, i int) int {
	for i < len(text) && !utf8.RuneStart(text[i]) {
		i++
	}
	return i
}
