package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
	"github.com/kirillkom/policy-analyzer/internal/core/ports"
)

const (
	ChunkCached  = "cached"
	ChunkConcern = "concern"
	ChunkClean   = "clean"
	ChunkDropped = "dropped"
	ChunkErrored = "error"

	defaultWorkers = 4

	// terminalStatusTimeout bounds the final status write once the pipeline context is gone.
	terminalStatusTimeout = 5 * time.Second
)

type ProcessDocumentUseCase struct {
	repo        ports.DocumentRepository
	findings    ports.FindingRepository
	extractor   ports.TextExtractor
	chunker     ports.Chunker
	analyzer    ports.ConcernAnalyzer
	concurrency int
	logger      *slog.Logger

	cache    ports.AnalysisCache
	embedder ports.Embedder
	vectorDB ports.VectorStore
	observer ports.AnalysisObserver
}

func NewProcessDocumentUseCase(
	repo ports.DocumentRepository,
	findings ports.FindingRepository,
	extractor ports.TextExtractor,
	chunker ports.Chunker,
	analyzer ports.ConcernAnalyzer,
	concurrency int,
	logger *slog.Logger,
) *ProcessDocumentUseCase {
	if concurrency <= 0 {
		concurrency = defaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessDocumentUseCase{
		repo:        repo,
		findings:    findings,
		extractor:   extractor,
		chunker:     chunker,
		analyzer:    analyzer,
		concurrency: concurrency,
		logger:      logger,
	}
}

// WithCache memoizes concern verdicts by chunk content.
func (uc *ProcessDocumentUseCase) WithCache(cache ports.AnalysisCache) *ProcessDocumentUseCase {
	uc.cache = cache
	return uc
}

// WithIndex indexes chunks for chat context. Indexing failures never fail a document.
func (uc *ProcessDocumentUseCase) WithIndex(embedder ports.Embedder, vectorDB ports.VectorStore) *ProcessDocumentUseCase {
	uc.embedder = embedder
	uc.vectorDB = vectorDB
	return uc
}

func (uc *ProcessDocumentUseCase) WithObserver(observer ports.AnalysisObserver) *ProcessDocumentUseCase {
	uc.observer = observer
	return uc
}

func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	if err := uc.markStatus(ctx, documentID, domain.StatusAnalyzing, ""); err != nil {
		return fmt.Errorf("set status=analyzing: %w", err)
	}

	count, err := uc.processPipeline(ctx, documentID)

	statusCtx, cancel := terminalStatusContext(ctx)
	defer cancel()
	if err != nil {
		if failErr := uc.markFailed(statusCtx, documentID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.markStatus(statusCtx, documentID, domain.StatusCompleted, ""); err != nil {
		return fmt.Errorf("set status=completed: %w", err)
	}
	if uc.observer != nil {
		uc.observer.DocumentAnalyzed(count)
	}
	uc.logger.Info("document_analyzed", "document_id", documentID, "findings", count)
	return nil
}

func (uc *ProcessDocumentUseCase) processPipeline(ctx context.Context, documentID string) (int, error) {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("fetch document by id: %w", err)
	}

	pages, err := uc.extractor.Extract(ctx, doc)
	if err != nil {
		return 0, fmt.Errorf("extract text: %w", err)
	}

	chunks := uc.chunker.Split(pages)
	if len(chunks) == 0 {
		return 0, domain.WrapError(domain.ErrInvalidInput, "chunk document", errors.New("chunking produced zero chunks"))
	}

	uc.index(ctx, doc, chunks)

	concerns, err := uc.analyzeChunks(ctx, documentID, chunks)
	if err != nil {
		return 0, err
	}

	return uc.saveFindings(ctx, doc, chunks, concerns)
}

// analyzeChunks returns one verdict per chunk; nil marks a chunk whose analysis failed.
func (uc *ProcessDocumentUseCase) analyzeChunks(ctx context.Context, documentID string, chunks []domain.Chunk) ([]*domain.Concern, error) {
	results := make([]*domain.Concern, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.concurrency)
	for i := range chunks {
		g.Go(func() error {
			concern, err := uc.analyzeChunk(gctx, chunks[i])
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				uc.logger.Warn("chunk_analysis_failed",
					"document_id", documentID,
					"chunk_index", chunks[i].Index,
					"page_num", chunks[i].PageNum,
					"error", err,
				)
				uc.recordChunk(ChunkErrored)
				return nil
			}
			results[i] = &concern
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("analyze chunks: %w", err)
	}

	for _, r := range results {
		if r != nil {
			return results, nil
		}
	}
	return nil, domain.WrapError(domain.ErrTemporary, "analyze chunks", fmt.Errorf("all %d chunks failed", len(chunks)))
}

func (uc *ProcessDocumentUseCase) analyzeChunk(ctx context.Context, chunk domain.Chunk) (domain.Concern, error) {
	key := analysisCacheKey(chunk.Text)
	if concern, ok := uc.cachedConcern(ctx, key); ok {
		uc.recordChunk(ChunkCached)
		return concern, nil
	}

	concern, err := uc.analyzer.Analyze(ctx, chunk)
	if err != nil {
		return domain.Concern{}, err
	}

	switch {
	case !concern.IsConcern:
		uc.recordChunk(ChunkClean)
	case !concern.Reportable():
		uc.recordChunk(ChunkDropped)
	default:
		uc.recordChunk(ChunkConcern)
		uc.storeConcern(ctx, key, concern)
	}
	return concern, nil
}

func (uc *ProcessDocumentUseCase) saveFindings(ctx context.Context, doc *domain.Document, chunks []domain.Chunk, concerns []*domain.Concern) (int, error) {
	if err := uc.findings.DeleteByDocument(ctx, doc.ID); err != nil {
		return 0, fmt.Errorf("clear previous findings: %w", err)
	}

	saved := 0
	for i, concern := range concerns {
		if concern == nil || !concern.IsConcern {
			continue
		}
		if !concern.Reportable() {
			uc.logger.Debug("finding_dropped",
				"document_id", doc.ID,
				"category", concern.Category,
				"severity", concern.Severity,
				"page_num", chunks[i].PageNum,
			)
			continue
		}
		finding := concern.ToFinding(doc.ID, chunks[i])
		if err := uc.findings.Save(ctx, &finding); err != nil {
			return saved, fmt.Errorf("save finding: %w", err)
		}
		saved++
	}
	return saved, nil
}

func (uc *ProcessDocumentUseCase) index(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) {
	if uc.embedder == nil || uc.vectorDB == nil {
		return
	}
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	vectors, err := uc.embedder.Embed(ctx, texts)
	if err == nil {
		err = uc.vectorDB.IndexChunks(ctx, doc, chunks, vectors)
	}
	if err != nil {
		uc.logger.Warn("chunk_indexing_failed", "document_id", doc.ID, "chunks", len(chunks), "error", err)
	}
}

func (uc *ProcessDocumentUseCase) cachedConcern(ctx context.Context, key string) (domain.Concern, bool) {
	if uc.cache == nil {
		return domain.Concern{}, false
	}
	raw, ok, err := uc.cache.Get(ctx, key)
	if err != nil {
		uc.logger.Warn("analysis_cache_lookup_failed", "key", key, "error", err)
		return domain.Concern{}, false
	}
	if !ok {
		return domain.Concern{}, false
	}
	var concern domain.Concern
	if err := json.Unmarshal(raw, &concern); err != nil {
		uc.logger.Warn("analysis_cache_corrupt", "key", key, "error", err)
		return domain.Concern{}, false
	}
	return concern, true
}

func (uc *ProcessDocumentUseCase) storeConcern(ctx context.Context, key string, concern domain.Concern) {
	if uc.cache == nil {
		return
	}
	raw, err := json.Marshal(concern)
	if err == nil {
		err = uc.cache.Put(ctx, key, raw)
	}
	if err != nil {
		uc.logger.Warn("analysis_cache_save_failed", "key", key, "error", err)
	}
}

func (uc *ProcessDocumentUseCase) recordChunk(outcome string) {
	if uc.observer != nil {
		uc.observer.ChunkAnalyzed(outcome)
	}
}

func (uc *ProcessDocumentUseCase) markStatus(ctx context.Context, documentID string, status domain.AnalysisStatus, errMessage string) error {
	return uc.repo.UpdateStatus(ctx, documentID, status, errMessage)
}

func (uc *ProcessDocumentUseCase) markFailed(ctx context.Context, documentID string, processErr error) error {
	if processErr == nil {
		return nil
	}
	uc.logger.Error("document_analysis_failed", "document_id", documentID, "error", processErr)
	return uc.markStatus(ctx, documentID, domain.StatusFailed, processErr.Error())
}

// terminalStatusContext keeps the caller's values but not its deadline, so a
// timed out pipeline still records where it ended.
func terminalStatusContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), terminalStatusTimeout)
}

func analysisCacheKey(text string) string {
	sum := sha1.Sum([]byte(text))
	return "analysis:" + hex.EncodeToString(sum[:])
}
