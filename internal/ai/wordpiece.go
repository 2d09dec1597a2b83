package ai

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	tokenCLS = "[CLS]"
	tokenSEP = "[SEP]"
	tokenUNK = "[UNK]"

	maxWordPieceChars = 100
)

// WordPiece is the uncased BERT tokenizer used by sentence-transformers
// MiniLM/MPNet exports.
type WordPiece struct {
	vocab map[string]int64
	cls   int64
	sep   int64
	unk   int64
}

func LoadWordPiece(path string) (*WordPiece, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab failed: %w", err)
	}
	defer f.Close()

	vocab := make(map[string]int64)
	sc := bufio.NewScanner(f)
	var id int64
	for sc.Scan() {
		vocab[strings.TrimRight(sc.Text(), "\r")] = id
		id++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read vocab failed: %w", err)
	}
	return NewWordPiece(vocab)
}

func NewWordPiece(vocab map[string]int64) (*WordPiece, error) {
	wp := &WordPiece{vocab: vocab}
	for tok, dst := range map[string]*int64{tokenCLS: &wp.cls, tokenSEP: &wp.sep, tokenUNK: &wp.unk} {
		id, ok := vocab[tok]
		if !ok {
			return nil, fmt.Errorf("vocab has no %s token", tok)
		}
		*dst = id
	}
	return wp, nil
}

// Encode returns [CLS] tokens [SEP] ids, truncated to maxLen.
func (w *WordPiece) Encode(text string, maxLen int) []int64 {
	ids := []int64{w.cls}
	for _, word := range basicTokenize(text) {
		for _, id := range w.wordPieces(word) {
			if len(ids) >= maxLen-1 {
				return append(ids, w.sep)
			}
			ids = append(ids, id)
		}
	}
	return append(ids, w.sep)
}

func (w *WordPiece) wordPieces(word string) []int64 {
	runes := []rune(word)
	if len(runes) > maxWordPieceChars {
		return []int64{w.unk}
	}
	var ids []int64
	for start := 0; start < len(runes); {
		end := len(runes)
		found := false
		var id int64
		for ; end > start; end-- {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if v, ok := w.vocab[piece]; ok {
				id, found = v, true
				break
			}
		}
		if !found {
			return []int64{w.unk}
		}
		ids = append(ids, id)
		start = end
	}
	return ids
}

// basicTokenize lower-cases, strips accents and splits on whitespace and
// punctuation; CJK ideographs become single tokens.
func basicTokenize(text string) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range norm.NFD.String(strings.ToLower(text)) {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case r == 0 || r == 0xfffd || (unicode.IsControl(r) && !unicode.IsSpace(r)):
			continue
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.Is(unicode.Han, r):
			flush()
			out = append(out, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}
