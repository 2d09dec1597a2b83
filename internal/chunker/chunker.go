// Package chunker splits extracted document text into overlapping chunks.
package chunker

import (
	"sort"
	"strings"
	"unicode"

	"legalrag/internal/pkg/pdfextract"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	DefaultSeparator    = "\n\n"
)

// pageJoin separates pages in the text that is split, so page boundaries are
// preferred cut points.
const pageJoin = "\n\n"

var fallbackSeparators = []string{"\n\n", "\n", " "}

// Chunk is a span of the joined document text. Start is a rune offset and Page
// the 1-based page the chunk starts on.
type Chunk struct {
	Index int
	Text  string
	Page  int
	Start int
}

type Chunker struct {
	size       int
	overlap    int
	separators [][]rune
}

type Option func(*Chunker)

func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// WithSeparator makes sep the preferred cut point, ahead of paragraph, line
// and word boundaries.
func WithSeparator(sep string) Option {
	return func(c *Chunker) {
		if sep == "" {
			return
		}
		seps := [][]rune{[]rune(sep)}
		for _, s := range fallbackSeparators {
			if s != sep {
				seps = append(seps, []rune(s))
			}
		}
		c.separators = seps
	}
}

func New(opts ...Option) *Chunker {
	c := &Chunker{
		size:    DefaultChunkSize,
		overlap: DefaultChunkOverlap,
	}
	WithSeparator(DefaultSeparator)(c)
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.size {
		c.overlap = c.size / 2
	}
	return c
}

func (c *Chunker) ChunkSize() int { return c.size }

func (c *Chunker) Overlap() int { return c.overlap }

// Split joins pages and chunks the result, attributing each chunk to the page
// it starts on. It also returns the number of characters in the joined text.
func (c *Chunker) Split(pages []pdfextract.Page) ([]Chunk, int) {
	var (
		b          strings.Builder
		pageStarts []int
		pageNums   []int
		offset     int
	)
	for i, p := range pages {
		if i > 0 {
			b.WriteString(pageJoin)
			offset += len([]rune(pageJoin))
		}
		pageStarts = append(pageStarts, offset)
		pageNums = append(pageNums, p.Number)
		b.WriteString(p.Text)
		offset += len([]rune(p.Text))
	}

	runes := []rune(b.String())
	chunks := c.split(runes)
	for i := range chunks {
		idx := sort.SearchInts(pageStarts, chunks[i].Start+1) - 1
		if idx < 0 {
			idx = 0
		}
		if idx < len(pageNums) {
			chunks[i].Page = pageNums[idx]
		}
	}
	return chunks, len(runes)
}

// SplitText chunks a single block of text; every chunk is attributed to page 1.
func (c *Chunker) SplitText(text string) []Chunk {
	chunks, _ := c.Split([]pdfextract.Page{{Number: 1, Text: text}})
	return chunks
}

func (c *Chunker) split(runes []rune) []Chunk {
	n := len(runes)
	var chunks []Chunk
	pos := skipSpace(runes, 0)
	for pos < n {
		end := pos + c.size
		if end >= n {
			end = n
		} else {
			end = c.cut(runes, pos, end)
		}

		text := strings.TrimSpace(string(runes[pos:end]))
		if text != "" {
			chunks = append(chunks, Chunk{Index: len(chunks), Text: text, Start: pos})
		}
		if end >= n {
			break
		}

		next := end - c.overlap
		if next <= pos {
			next = end
		}
		// never start a chunk in the middle of a word
		if next < end && next > 0 && !unicode.IsSpace(runes[next-1]) {
			for next < end && !unicode.IsSpace(runes[next]) {
				next++
			}
		}
		pos = skipSpace(runes, next)
	}
	return chunks
}

// cut returns the end of the window [pos, end): just after the last occurrence
// of the highest-priority separator in the second half of the window, or end
// when no separator is found.
func (c *Chunker) cut(runes []rune, pos, end int) int {
	minEnd := pos + c.size/2
	for _, sep := range c.separators {
		for i := end - len(sep); i >= minEnd; i-- {
			if hasPrefixAt(runes, i, sep) {
				return i + len(sep)
			}
		}
	}
	return end
}

func hasPrefixAt(runes []rune, i int, sep []rune) bool {
	if i < 0 || i+len(sep) > len(runes) {
		return false
	}
	for j := range sep {
		if runes[i+j] != sep[j] {
			return false
		}
	}
	return true
}

func skipSpace(runes []rune, i int) int {
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}
	return i
}
