package ports

import (
	"context"
	"io"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
)

// DocumentIngestor is the inbound contract for policy upload orchestration.
type DocumentIngestor interface {
	Ingest(ctx context.Context, filename string, body io.Reader) (*domain.Document, error)
}

// AnalysisReader serves the polling and findings read models.
type AnalysisReader interface {
	Status(ctx context.Context, documentID string) (*domain.StatusView, error)
	Progress(ctx context.Context, documentID string) (domain.ProgressSnapshot, error)
	Findings(ctx context.Context, documentID string, category domain.Category) ([]domain.Finding, error)
	OpenPDF(ctx context.Context, documentID string) (*domain.Document, io.ReadCloser, error)
}

// FindingChat answers questions scoped to a single finding.
type FindingChat interface {
	Ask(ctx context.Context, findingID int64, question string) (*domain.ChatAnswer, error)
}

// DocumentProcessor is the inbound contract for asynchronous document analysis.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}
