// Package segmenter turns an uploaded PDF into per-page text.
package segmenter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

var (
	ErrNotPDF = errors.New("not a pdf")
	ErrNoText = errors.New("no extractable text")
)

// PDFSegmenter extracts plain text page by page. Pages that yield only
// whitespace are dropped, so the result is dense and index i is the i-th
// page that had text.
type PDFSegmenter struct{}

func NewPDFSegmenter() *PDFSegmenter { return &PDFSegmenter{} }

func (s *PDFSegmenter) Segment(ctx context.Context, raw []byte) (pages []string, err error) {
	if !bytes.HasPrefix(raw, []byte("%PDF-")) {
		return nil, ErrNotPDF
	}

	// the parser panics on some malformed streams
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("%w: parser panic: %v", ErrNotPDF, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPDF, err)
	}

	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		if text = normalize(text); text != "" {
			pages = append(pages, text)
		}
	}
	if len(pages) == 0 {
		return nil, ErrNoText
	}
	return pages, nil
}

// normalize collapses runs of whitespace inside each line and drops blank lines.
func normalize(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
