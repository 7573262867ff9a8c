package usecase

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
	"github.com/kirillkom/policy-analyzer/internal/core/ports"
)

type AnalysisReaderUseCase struct {
	repo     ports.DocumentRepository
	findings ports.FindingRepository
	storage  ports.ObjectStorage
	now      func() time.Time
}

func NewAnalysisReaderUseCase(
	repo ports.DocumentRepository,
	findings ports.FindingRepository,
	storage ports.ObjectStorage,
) *AnalysisReaderUseCase {
	return &AnalysisReaderUseCase{
		repo:     repo,
		findings: findings,
		storage:  storage,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (uc *AnalysisReaderUseCase) Status(ctx context.Context, documentID string) (*domain.StatusView, error) {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}
	count, err := uc.findings.CountByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("count findings: %w", err)
	}
	return &domain.StatusView{
		DocumentID:    doc.ID,
		Status:        doc.Status,
		FindingsCount: count,
	}, nil
}

// Progress never fails for unknown ids; it reports a not_found snapshot instead.
func (uc *AnalysisReaderUseCase) Progress(ctx context.Context, documentID string) (domain.ProgressSnapshot, error) {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if domain.IsKind(err, domain.ErrDocumentNotFound) {
		return domain.ProgressNotFound(uc.now()), nil
	}
	if err != nil {
		return domain.ProgressSnapshot{}, fmt.Errorf("fetch document: %w", err)
	}
	return domain.ProgressFor(doc.Status, uc.now()), nil
}

// Findings lists a document's findings by severity then page, one per distinct summary.
func (uc *AnalysisReaderUseCase) Findings(ctx context.Context, documentID string, category domain.Category) ([]domain.Finding, error) {
	if category == "" {
		category = domain.CategoryAll
	}
	if category != domain.CategoryAll && !category.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list findings", fmt.Errorf("unknown category %q", category))
	}
	findings, err := uc.findings.ListByDocument(ctx, documentID, category)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	return domain.DedupeBySummary(findings), nil
}

func (uc *AnalysisReaderUseCase) OpenPDF(ctx context.Context, documentID string) (*domain.Document, io.ReadCloser, error) {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch document: %w", err)
	}
	body, err := uc.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open stored pdf: %w", err)
	}
	return doc, body, nil
}
