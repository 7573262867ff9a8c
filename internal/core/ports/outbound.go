package ports

import (
	"context"
	"io"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
)

// DocumentRepository persists and reads document state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.AnalysisStatus, errMessage string) error
	ResetForReanalysis(ctx context.Context, id string, totalPages int) error
}

// FindingRepository persists findings produced by the analysis worker.
type FindingRepository interface {
	Save(ctx context.Context, finding *domain.Finding) error
	GetByID(ctx context.Context, id int64) (*domain.Finding, error)
	ListByDocument(ctx context.Context, documentID string, category domain.Category) ([]domain.Finding, error)
	CountByDocument(ctx context.Context, documentID string) (int, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}

// AnalysisCache memoizes per-chunk LLM verdicts keyed by content hash.
type AnalysisCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue publishes/consumes ingestion events.
type MessageQueue interface {
	PublishDocumentIngested(ctx context.Context, documentID string) error
	SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor extracts per-page plain text from a stored PDF.
type TextExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) ([]domain.PageText, error)
	CountPages(ctx context.Context, doc *domain.Document) (int, error)
}

// Chunker splits page text into analysis-sized chunks.
type Chunker interface {
	Split(pages []domain.PageText) []domain.Chunk
}

// ConcernAnalyzer asks the LLM whether a chunk contains a policyholder concern.
type ConcernAnalyzer interface {
	Analyze(ctx context.Context, chunk domain.Chunk) (domain.Concern, error)
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorStore indexes chunks and finds related passages of a document.
type VectorStore interface {
	IndexChunks(ctx context.Context, doc *domain.Document, chunks []domain.Chunk, vectors [][]float32) error
	SearchDocument(ctx context.Context, documentID string, queryVector []float32, limit int) ([]domain.RelatedPassage, error)
}

// FindingAnswerer generates the answer to a question about a finding.
type FindingAnswerer interface {
	AnswerAboutFinding(ctx context.Context, finding domain.Finding, related []domain.RelatedPassage, question string) (string, error)
}

// AnalysisObserver receives per-chunk and per-document analysis outcomes.
type AnalysisObserver interface {
	ChunkAnalyzed(outcome string)
	DocumentAnalyzed(findings int)
}
