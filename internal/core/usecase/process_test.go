package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
)

func processFixture(pages []domain.PageText, analyzer *analyzerFake) (*ProcessDocumentUseCase, *docRepoFake, *findingRepoFake) {
	repo := newDocRepoFake(&domain.Document{ID: "doc-1", Filename: "policy.pdf", TotalPages: len(pages), Status: domain.StatusPending})
	findings := &findingRepoFake{}
	uc := NewProcessDocumentUseCase(repo, findings, &extractorFake{pages: pages}, pageChunker{}, analyzer, 2, nil)
	return uc, repo, findings
}

func TestProcessByIDSavesValidConcerns(t *testing.T) {
	pages := []domain.PageText{
		{Number: 1, Text: "flood exclusion"},
		{Number: 2, Text: "plain definitions"},
		{Number: 3, Text: "annual limit"},
		{Number: 4, Text: "500 deductible"},
		{Number: 5, Text: "vague clause"},
	}
	analyzer := &analyzerFake{verdicts: map[string]domain.Concern{
		"flood exclusion":   {IsConcern: true, Category: domain.CategoryExclusion, Severity: domain.SeverityHigh, Summary: "Flood damage is not covered at all.", Recommendation: "Buy separate flood cover."},
		"plain definitions": {IsConcern: false},
		"annual limit":      {IsConcern: true, Category: "LIMITATION", Severity: domain.SeverityMedium, Summary: "Benefits are capped."},
		"500 deductible":    {IsConcern: true, Category: domain.CategoryDeductible, Severity: domain.SeverityLow, Summary: "short"},
		"vague clause":      {IsConcern: true, Category: domain.CategoryDeductible, Severity: "UNKNOWN", Summary: "The deductible may apply twice."},
	}}
	uc, repo, findings := processFixture(pages, analyzer)
	observer := &observerFake{}
	vectors := &vectorStoreFake{}
	uc.WithObserver(observer).WithIndex(&embedderFake{}, vectors)

	if err := uc.ProcessByID(context.Background(), "doc-1"); err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}

	if len(repo.statusCalls) != 2 || repo.statusCalls[0].status != domain.StatusAnalyzing || repo.statusCalls[1].status != domain.StatusCompleted {
		t.Fatalf("unexpected status transitions: %+v", repo.statusCalls)
	}
	if len(findings.saved) != 2 {
		t.Fatalf("expected 2 findings, got %+v", findings.saved)
	}
	first := findings.saved[0]
	if first.PageNum != 1 || first.Category != domain.CategoryExclusion || first.ConfidenceScore != 1 || first.TextContent != "flood exclusion" {
		t.Fatalf("unexpected first finding: %+v", first)
	}
	second := findings.saved[1]
	if second.PageNum != 4 || second.ConfidenceScore != 0.8 || second.Severity != domain.SeverityLow || second.Recommendation != nil {
		t.Fatalf("unexpected second finding: %+v", second)
	}
	for _, f := range findings.saved {
		if !f.Severity.Valid() {
			t.Fatalf("finding saved with severity %q", f.Severity)
		}
	}
	if vectors.indexed != 5 {
		t.Fatalf("expected 5 chunks indexed, got %d", vectors.indexed)
	}
	if observer.outcomes[ChunkConcern] != 2 || observer.outcomes[ChunkClean] != 1 || observer.outcomes[ChunkDropped] != 2 {
		t.Fatalf("unexpected chunk outcomes: %v", observer.outcomes)
	}
	if len(observer.findings) != 1 || observer.findings[0] != 2 {
		t.Fatalf("unexpected findings observation: %v", observer.findings)
	}
}

func TestProcessByIDDoesNotCacheUnknownSeverity(t *testing.T) {
	pages := []domain.PageText{{Number: 1, Text: "vague clause"}}
	analyzer := &analyzerFake{verdicts: map[string]domain.Concern{
		"vague clause": {IsConcern: true, Category: domain.CategoryDeductible, Severity: "UNKNOWN", Summary: "The deductible may apply twice."},
	}}
	uc, repo, findings := processFixture(pages, analyzer)
	cache := newCacheFake()
	uc.WithCache(cache)

	if err := uc.ProcessByID(context.Background(), "doc-1"); err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if len(findings.saved) != 0 {
		t.Fatalf("expected no findings, got %+v", findings.saved)
	}
	if len(cache.entries) != 0 {
		t.Fatalf("expected nothing cached, got %d entries", len(cache.entries))
	}
	if repo.lastStatus() != domain.StatusCompleted {
		t.Fatalf("expected completed, got %q", repo.lastStatus())
	}
}

func TestProcessByIDUsesCacheForRepeatedChunks(t *testing.T) {
	pages := []domain.PageText{{Number: 1, Text: "waiting period clause"}}
	analyzer := &analyzerFake{verdicts: map[string]domain.Concern{
		"waiting period clause": {IsConcern: true, Category: domain.CategoryWaitingPeriod, Severity: domain.SeverityLow, Summary: "Surgery waits twenty four months."},
	}}
	uc, _, findings := processFixture(pages, analyzer)
	cache := newCacheFake()
	uc.WithCache(cache)

	for i := 0; i < 2; i++ {
		if err := uc.ProcessByID(context.Background(), "doc-1"); err != nil {
			t.Fatalf("ProcessByID() run %d error = %v", i, err)
		}
	}
	if analyzer.calls != 1 {
		t.Fatalf("expected one model call, got %d", analyzer.calls)
	}
	if _, ok := cache.entries[analysisCacheKey("waiting period clause")]; !ok {
		t.Fatalf("expected cache entry under analysis key")
	}
	if len(findings.saved) != 1 {
		t.Fatalf("expected rerun to replace findings, got %d", len(findings.saved))
	}
}

func TestProcessByIDToleratesPartialChunkFailures(t *testing.T) {
	pages := []domain.PageText{{Number: 1, Text: "a"}, {Number: 2, Text: "b"}}
	analyzer := &analyzerFake{
		verdicts: map[string]domain.Concern{"b": {IsConcern: true, Category: domain.CategoryCopayment, Severity: domain.SeverityLow, Summary: "Copay of 20 percent applies."}},
		errs:     map[string]error{"a": errors.New("timeout")},
	}
	uc, repo, findings := processFixture(pages, analyzer)
	uc.WithIndex(&embedderFake{err: errors.New("embed down")}, &vectorStoreFake{})

	if err := uc.ProcessByID(context.Background(), "doc-1"); err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if repo.lastStatus() != domain.StatusCompleted || len(findings.saved) != 1 {
		t.Fatalf("expected completed with one finding, status=%s findings=%d", repo.lastStatus(), len(findings.saved))
	}
}

func TestProcessByIDFailsWhenEveryChunkFails(t *testing.T) {
	pages := []domain.PageText{{Number: 1, Text: "a"}}
	analyzer := &analyzerFake{errs: map[string]error{"a": errors.New("model offline")}}
	uc, repo, _ := processFixture(pages, analyzer)

	err := uc.ProcessByID(context.Background(), "doc-1")
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if repo.lastStatus() != domain.StatusFailed || repo.statusCalls[len(repo.statusCalls)-1].errMsg == "" {
		t.Fatalf("expected failed status with message, got %+v", repo.statusCalls)
	}
}

func TestProcessByIDFailsOnEmptyText(t *testing.T) {
	uc, repo, _ := processFixture(nil, &analyzerFake{})

	err := uc.ProcessByID(context.Background(), "doc-1")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if repo.lastStatus() != domain.StatusFailed {
		t.Fatalf("expected failed status, got %s", repo.lastStatus())
	}
}

func TestAnalysisCacheKeyUsesSHA1(t *testing.T) {
	if got := analysisCacheKey("abc"); got != "analysis:a9993e364706816aba3e25717850c26c9cd0d89d" {
		t.Fatalf("unexpected cache key %q", got)
	}
}

func TestProcessByIDMarksFailedAfterDeadline(t *testing.T) {
	pages := []domain.PageText{{Number: 1, Text: "slow clause"}}
	uc, repo, _ := processFixture(pages, &analyzerFake{block: true})
	repo.honorCtx = true

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := uc.ProcessByID(ctx, "doc-1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if strings.Contains(err.Error(), "mark failed status") {
		t.Fatalf("failed status was not recorded: %v", err)
	}
	if got := repo.docs["doc-1"].Status; got != domain.StatusFailed {
		t.Fatalf("expected stored status failed, got %q", got)
	}
	if repo.docs["doc-1"].Error == "" {
		t.Fatal("expected failure reason to be stored")
	}
}
