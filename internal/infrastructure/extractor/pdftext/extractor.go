package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
	"github.com/kirillkom/policy-analyzer/internal/core/ports"
)

// Extractor reads stored PDFs page by page.
type Extractor struct {
	storage ports.ObjectStorage
	logger  *slog.Logger
}

func NewExtractor(storage ports.ObjectStorage, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{storage: storage, logger: logger}
}

// Extract returns the plain text of every page that has any. Pages that fail
// to decode are skipped and logged.
func (e *Extractor) Extract(ctx context.Context, doc *domain.Document) ([]domain.PageText, error) {
	reader, err := e.open(ctx, doc)
	if err != nil {
		return nil, err
	}

	var pages []domain.PageText
	total := reader.NumPage()
	for n := 1; n <= total; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := pageText(reader, n)
		if err != nil {
			e.logger.Warn("pdf_page_extract_failed", "document_id", doc.ID, "page", n, "error", err)
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, domain.PageText{Number: n, Text: text})
	}
	if len(pages) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "extract pdf text", fmt.Errorf("no text content found in %s", doc.Filename))
	}
	return pages, nil
}

func (e *Extractor) CountPages(ctx context.Context, doc *domain.Document) (int, error) {
	reader, err := e.open(ctx, doc)
	if err != nil {
		return 0, err
	}
	return reader.NumPage(), nil
}

func (e *Extractor) open(ctx context.Context, doc *domain.Document) (*pdf.Reader, error) {
	rc, err := e.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open source document: %w", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read source document: %w", err)
	}
	return NewReader(raw)
}

// NewReader parses raw PDF bytes. The parser panics on some malformed
// inputs, so panics are turned into invalid-input errors.
func NewReader(raw []byte) (r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r = nil
			err = domain.WrapError(domain.ErrInvalidInput, "parse pdf", fmt.Errorf("malformed pdf: %v", rec))
		}
	}()
	r, err = pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse pdf", err)
	}
	return r, nil
}

func pageText(reader *pdf.Reader, n int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("decode page %d: %v", n, rec)
		}
	}()
	page := reader.Page(n)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}
