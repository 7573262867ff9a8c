package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
	"github.com/kirillkom/policy-analyzer/internal/core/ports"
)

var pdfMagic = []byte("%PDF-")

type IngestDocumentUseCase struct {
	repo      ports.DocumentRepository
	storage   ports.ObjectStorage
	extractor ports.TextExtractor
	queue     ports.MessageQueue
	maxBytes  int64
	logger    *slog.Logger
	now       func() time.Time
}

func NewIngestDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	extractor ports.TextExtractor,
	queue ports.MessageQueue,
	maxBytes int64,
	logger *slog.Logger,
) *IngestDocumentUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestDocumentUseCase{
		repo:      repo,
		storage:   storage,
		extractor: extractor,
		queue:     queue,
		maxBytes:  maxBytes,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Ingest stores a policy PDF under the hex SHA-256 of its bytes and queues it
// for analysis. Uploading the same bytes again discards the previous findings.
func (uc *IngestDocumentUseCase) Ingest(ctx context.Context, filename string, body io.Reader) (*domain.Document, error) {
	raw, err := uc.readBody(body)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(raw)
	id := hex.EncodeToString(sum[:])
	now := uc.now()

	doc := &domain.Document{
		ID:          id,
		Filename:    cleanFilename(filename),
		StoragePath: id + ".pdf",
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := uc.storage.Save(ctx, doc.StoragePath, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	pages, err := uc.extractor.CountPages(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("count pages: %w", err)
	}
	doc.TotalPages = pages

	if err := uc.upsert(ctx, doc); err != nil {
		return nil, err
	}

	if err := uc.queue.PublishDocumentIngested(ctx, doc.ID); err != nil {
		if markErr := uc.repo.UpdateStatus(ctx, doc.ID, domain.StatusFailed, "queue unavailable"); markErr != nil {
			uc.logger.Error("mark_unqueued_document_failed", "document_id", doc.ID, "error", markErr)
		}
		return nil, fmt.Errorf("publish ingestion event: %w", err)
	}

	uc.logger.Info("document_ingested", "document_id", doc.ID, "filename", doc.Filename, "total_pages", doc.TotalPages, "bytes", len(raw))
	return doc, nil
}

func (uc *IngestDocumentUseCase) readBody(body io.Reader) ([]byte, error) {
	reader := body
	if uc.maxBytes > 0 {
		reader = io.LimitReader(body, uc.maxBytes+1)
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if uc.maxBytes > 0 && int64(len(raw)) > uc.maxBytes {
		return nil, domain.WrapError(domain.ErrPayloadTooLarge, "read upload",
			fmt.Errorf("file too large, maximum size is %dMB", uc.maxBytes>>20))
	}
	if len(raw) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read upload", errors.New("empty file received"))
	}
	if !bytes.HasPrefix(raw, pdfMagic) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read upload", errors.New("only PDF files are supported"))
	}
	return raw, nil
}

func (uc *IngestDocumentUseCase) upsert(ctx context.Context, doc *domain.Document) error {
	existing, err := uc.repo.GetByID(ctx, doc.ID)
	switch {
	case err == nil:
		uc.logger.Warn("document_reanalysis", "document_id", doc.ID, "previous_status", existing.Status)
		if err := uc.repo.ResetForReanalysis(ctx, doc.ID, doc.TotalPages); err != nil {
			return fmt.Errorf("reset document for reanalysis: %w", err)
		}
		doc.Filename = existing.Filename
		doc.CreatedAt = existing.CreatedAt
		return nil
	case domain.IsKind(err, domain.ErrDocumentNotFound):
		if err := uc.repo.Create(ctx, doc); err != nil {
			return fmt.Errorf("create document metadata: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("lookup existing document: %w", err)
	}
}

func cleanFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "" || base == "." || base == "/" {
		return "document.pdf"
	}
	return base
}
