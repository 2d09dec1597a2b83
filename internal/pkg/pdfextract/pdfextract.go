package pdfextract

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoText is returned when a document yields no extractable text.
var ErrNoText = errors.New("document contains no extractable text")

var ErrUnsupported = errors.New("unsupported document format")

// Page is the extracted text of a single page, numbered from 1.
type Page struct {
	Number int
	Text   string
}

var supportedExtensions = map[string]bool{
	".pdf": true,
	".txt": true,
	".md":  true,
}

// IsSupported reports whether name has an extension ExtractPages understands.
func IsSupported(name string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(name))]
}

func SupportedExtensions() []string {
	return []string{".pdf", ".txt", ".md"}
}

// ExtractPages returns the non-empty pages of the document. Plain text files
// are split into pages on form feed characters.
func ExtractPages(name string, data []byte) ([]Page, error) {
	var (
		pages []Page
		err   error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		pages, err = extractPDF(data)
	case ".txt", ".md":
		pages = extractPlain(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(name))
	}
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, ErrNoText
	}
	return pages, nil
}

func extractPDF(data []byte) (pages []Page, err error) {
	if len(data) == 0 {
		return nil, nil
	}
	// the pdf reader panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("parse pdf failed: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf failed: %w", err)
	}
	for i := 1; i <= reader.NumPage(); i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d failed: %w", i, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	return pages, nil
}

func extractPlain(data []byte) []Page {
	var pages []Page
	for i, raw := range strings.Split(string(data), "\f") {
		text := strings.TrimSpace(strings.ReplaceAll(raw, "\r\n", "\n"))
		if text == "" {
			continue
		}
		pages = append(pages, Page{Number: i + 1, Text: text})
	}
	return pages
}
