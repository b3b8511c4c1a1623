// Package extract turns uploaded documents into per-page plain text.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// ErrInvalidDocument is returned when the input cannot be parsed as a PDF.
var ErrInvalidDocument = errors.New("invalid document")

// PDFExtractor reads the text of every page of a PDF.
type PDFExtractor struct {
	logger *zap.Logger
}

// NewPDFExtractor creates a PDFExtractor.
func NewPDFExtractor(logger *zap.Logger) *PDFExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PDFExtractor{logger: logger}
}

// Extract returns one string per page, in page order. A page whose text
// cannot be decoded is returned empty so later pages keep their numbers.
func (e *PDFExtractor) Extract(ctx context.Context, r io.ReaderAt, size int64) (pages []string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			pages = nil
			err = fmt.Errorf("%w: %v", ErrInvalidDocument, rec)
		}
	}()

	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	n := reader.NumPage()
	pages = make([]string, 0, n)
	fonts := make(map[string]*pdf.Font)

	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		for _, name := range page.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := page.Font(name)
				fonts[name] = &f
			}
		}

		text, err := page.GetPlainText(fonts)
		if err != nil {
			e.logger.Warn("page text extraction failed",
				zap.Int("page", i),
				zap.Error(err))
			text = ""
		}
		pages = append(pages, text)
	}

	return pages, nil
}

// ExtractBytes extracts pages from an in-memory document.
func (e *PDFExtractor) ExtractBytes(ctx context.Context, data []byte) ([]string, error) {
	return e.Extract(ctx, bytes.NewReader(data), int64(len(data)))
}

// ExtractFile extracts pages from a document on disk.
func (e *PDFExtractor) ExtractFile(ctx context.Context, path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return e.Extract(ctx, f, info.Size())
}
