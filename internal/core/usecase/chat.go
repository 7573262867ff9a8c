package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
	"github.com/kirillkom/policy-analyzer/internal/core/ports"
)

type FindingChatUseCase struct {
	findings ports.FindingRepository
	answerer ports.FindingAnswerer
	embedder ports.Embedder
	vectorDB ports.VectorStore
	topK     int
	logger   *slog.Logger
}

func NewFindingChatUseCase(
	findings ports.FindingRepository,
	answerer ports.FindingAnswerer,
	embedder ports.Embedder,
	vectorDB ports.VectorStore,
	topK int,
	logger *slog.Logger,
) *FindingChatUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &FindingChatUseCase{
		findings: findings,
		answerer: answerer,
		embedder: embedder,
		vectorDB: vectorDB,
		topK:     topK,
		logger:   logger,
	}
}

func (uc *FindingChatUseCase) Ask(ctx context.Context, findingID int64, question string) (*domain.ChatAnswer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ask finding", errors.New("question is required"))
	}

	finding, err := uc.findings.GetByID(ctx, findingID)
	if err != nil {
		return nil, fmt.Errorf("fetch finding: %w", err)
	}

	related := uc.relatedPassages(ctx, finding, question)

	answer, err := uc.answerer.AnswerAboutFinding(ctx, *finding, related, question)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	return &domain.ChatAnswer{
		Answer:    answer,
		FindingID: finding.ID,
		Context: domain.ChatContext{
			Category:    finding.Category,
			Summary:     finding.Summary,
			TextContent: finding.TextContent,
		},
		PassagesUsed: len(related),
	}, nil
}

// relatedPassages is best-effort: chat still answers from the finding alone.
func (uc *FindingChatUseCase) relatedPassages(ctx context.Context, finding *domain.Finding, question string) []domain.RelatedPassage {
	if uc.embedder == nil || uc.vectorDB == nil || uc.topK <= 0 {
		return nil
	}
	vector, err := uc.embedder.EmbedQuery(ctx, question)
	if err != nil {
		uc.logger.Warn("chat_context_embed_failed", "finding_id", finding.ID, "error", err)
		return nil
	}
	passages, err := uc.vectorDB.SearchDocument(ctx, finding.DocumentID, vector, uc.topK+1)
	if err != nil {
		uc.logger.Warn("chat_context_search_failed", "finding_id", finding.ID, "document_id", finding.DocumentID, "error", err)
		return nil
	}

	out := make([]domain.RelatedPassage, 0, len(passages))
	for _, p := range passages {
		if strings.TrimSpace(p.Text) == strings.TrimSpace(finding.TextContent) {
			continue
		}
		out = append(out, p)
		if len(out) == uc.topK {
			break
		}
	}
	return out
}
