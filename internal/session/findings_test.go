package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
)

func completedDoc(id string, pages int) domain.Document {
	return domain.Document{ID: id, TotalPages: pages, Status: domain.StatusCompleted}
}

func sampleFindings() []domain.Finding {
	return []domain.Finding{
		{ID: 1, Category: domain.CategoryExclusion, Severity: domain.SeverityHigh, Summary: "Flood damage excluded", PageNum: 3, ConfidenceScore: 0.92},
		{ID: 2, Category: domain.CategoryDeductible, Severity: domain.SeverityMedium, Summary: "500 deductible", PageNum: 4, ConfidenceScore: 0.8},
		{ID: 3, Category: domain.CategoryExclusion, Severity: domain.SeverityLow, Summary: "Wear and tear excluded", PageNum: 5, ConfidenceScore: 0.7},
		{ID: 4, Category: domain.CategoryWaitingPeriod, Severity: domain.SeverityMedium, Summary: "30 day wait", PageNum: 6, ConfidenceScore: 0.9},
		{ID: 5, Category: domain.CategoryClaimProcess, Severity: domain.SeverityLow, Summary: "Claims within 14 days", PageNum: 7, ConfidenceScore: 0.6},
	}
}

func TestLoadRequiresCompletedDocument(t *testing.T) {
	api := &fakeAPI{findings: sampleFindings()}
	store := NewFindingsStore(api, nil)

	for _, status := range []domain.AnalysisStatus{domain.StatusPending, domain.StatusAnalyzing, domain.StatusFailed} {
		_, err := store.Load(context.Background(), domain.Document{ID: "abc", Status: status})
		var loadErr *FindingsLoadError
		require.ErrorAs(t, err, &loadErr)
		assert.ErrorIs(t, err, ErrNotCompleted)
	}
	_, _, findingsCalls, _ := api.counts()
	assert.Zero(t, findingsCalls)
}

func TestLoadIsCachedPerDocument(t *testing.T) {
	api := &fakeAPI{findings: sampleFindings()}
	store := NewFindingsStore(api, nil)
	doc := completedDoc("abc", 10)

	first, err := store.Load(context.Background(), doc)
	require.NoError(t, err)
	second, err := store.Load(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, _, findingsCalls, _ := api.counts()
	assert.Equal(t, 1, findingsCalls)

	_, err = store.Load(context.Background(), completedDoc("other", 10))
	require.NoError(t, err)
	_, _, findingsCalls, _ = api.counts()
	assert.Equal(t, 2, findingsCalls)
}

func TestConcurrentLoadsFetchOnce(t *testing.T) {
	api := &fakeAPI{findings: sampleFindings()}
	store := NewFindingsStore(api, nil)
	doc := completedDoc("abc", 10)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.Load(context.Background(), doc)
		}()
	}
	wg.Wait()

	_, _, findingsCalls, _ := api.counts()
	assert.Equal(t, 1, findingsCalls)
}

func TestLoadEmptyListIsValid(t *testing.T) {
	store := NewFindingsStore(&fakeAPI{}, nil)

	findings, err := store.Load(context.Background(), completedDoc("abc", 2))
	require.NoError(t, err)
	assert.Empty(t, findings)
	assert.Zero(t, store.PageCount(10))
	assert.Empty(t, store.Page(0, 10))
}

func TestLoadFlagsOutOfRangePages(t *testing.T) {
	findings := sampleFindings()
	findings = append(findings,
		domain.Finding{ID: 6, Category: domain.CategoryCopayment, Summary: "beyond the end", PageNum: 40},
		domain.Finding{ID: 7, Category: domain.CategoryCopayment, Summary: "page zero", PageNum: 0},
	)
	store := NewFindingsStore(&fakeAPI{findings: findings}, nil)

	surfaced, err := store.Load(context.Background(), completedDoc("abc", 10))
	require.NoError(t, err)
	assert.Len(t, surfaced, 5)
	require.Len(t, store.Flagged(), 2)
	assert.Equal(t, int64(6), store.Flagged()[0].ID)
	_, ok := store.Lookup(6)
	assert.False(t, ok)
}

func TestFilterAndPaginate(t *testing.T) {
	store := NewFindingsStore(&fakeAPI{findings: sampleFindings()}, nil)
	_, err := store.Load(context.Background(), completedDoc("abc", 10))
	require.NoError(t, err)

	assert.Equal(t, 3, store.PageCount(2))
	assert.Equal(t, []int64{1, 2}, ids(store.Page(0, 2)))
	assert.Equal(t, []int64{5}, ids(store.Page(2, 2)))
	assert.Empty(t, store.Page(3, 2))
	assert.Empty(t, store.Page(-1, 2))

	exclusions, err := store.FilterBy("EXCLUSION")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids(exclusions))
	assert.Equal(t, []int64{3}, ids(store.Page(1, 1)))
	assert.Equal(t, domain.CategoryExclusion, store.Filter())

	none, err := store.FilterBy("RENEWAL_RESTRICTION")
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.Zero(t, store.PageCount(5))

	all, err := store.FilterBy("all")
	require.NoError(t, err)
	assert.Len(t, all, 5)

	_, err = store.FilterBy("LIMITATION")
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))
}

func numberedFindings(n int) []domain.Finding {
	out := make([]domain.Finding, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, domain.Finding{
			ID:       int64(i),
			Category: domain.CategoryExclusion,
			Severity: domain.SeverityLow,
			Summary:  fmt.Sprintf("clause %d", i),
			PageNum:  i,
		})
	}
	return out
}

func TestPaginateByTen(t *testing.T) {
	cases := []struct {
		total    int
		pages    int
		lastPage int
	}{
		{total: 23, pages: 3, lastPage: 3},
		{total: 20, pages: 2, lastPage: 10},
		{total: 10, pages: 1, lastPage: 10},
		{total: 1, pages: 1, lastPage: 1},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d findings", tc.total), func(t *testing.T) {
			store := NewFindingsStore(&fakeAPI{findings: numberedFindings(tc.total)}, nil)
			_, err := store.Load(context.Background(), completedDoc("abc", 50))
			require.NoError(t, err)

			require.Equal(t, tc.pages, store.PageCount(10))
			for i := 0; i < tc.pages-1; i++ {
				assert.Len(t, store.Page(i, 10), 10, "page %d", i)
			}
			last := store.Page(tc.pages-1, 10)
			require.Len(t, last, tc.lastPage)
			assert.Equal(t, int64(tc.total), last[len(last)-1].ID)
			assert.Empty(t, store.Page(tc.pages, 10))
		})
	}
}

func TestPagesCoverViewWithoutOverlap(t *testing.T) {
	store := NewFindingsStore(&fakeAPI{findings: sampleFindings()}, nil)
	_, err := store.Load(context.Background(), completedDoc("abc", 10))
	require.NoError(t, err)

	for size := 1; size <= 6; size++ {
		var collected []int64
		for i := 0; i < store.PageCount(size); i++ {
			collected = append(collected, ids(store.Page(i, size))...)
		}
		assert.Equal(t, []int64{1, 2, 3, 4, 5}, collected, "page size %d", size)
	}
}

func TestLoadWithRetryRecoversFromTransientFailures(t *testing.T) {
	api := &fakeAPI{findings: sampleFindings(), findingsErrs: []error{errNetwork, errNetwork}}
	store := NewFindingsStore(api, nil)
	store.retryBackoff = time.Millisecond

	findings, err := store.LoadWithRetry(context.Background(), completedDoc("abc", 10), 3)
	require.NoError(t, err)
	assert.Len(t, findings, 5)
	_, _, findingsCalls, _ := api.counts()
	assert.Equal(t, 3, findingsCalls)
}

func TestLoadWithRetryGivesUp(t *testing.T) {
	api := &fakeAPI{findingsErrs: []error{errNetwork, errNetwork, errNetwork, errNetwork}}
	store := NewFindingsStore(api, nil)
	store.retryBackoff = time.Millisecond

	_, err := store.LoadWithRetry(context.Background(), completedDoc("abc", 10), 3)
	var loadErr *FindingsLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.ErrorIs(t, err, errNetwork)
	_, _, findingsCalls, _ := api.counts()
	assert.Equal(t, 3, findingsCalls)
}

func ids(findings []domain.Finding) []int64 {
	out := make([]int64, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.ID)
	}
	return out
}
