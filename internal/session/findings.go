package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
)

const DefaultMaxLoadAttempts = 3

type FindingsFetcher interface {
	Findings(ctx context.Context, documentID string) ([]domain.Finding, error)
}

// FindingsStore caches the findings of one completed document and serves
// filtered, paginated views of them.
type FindingsStore struct {
	api          FindingsFetcher
	logger       *slog.Logger
	retryBackoff time.Duration

	loadMu sync.Mutex

	mu         sync.RWMutex
	documentID string
	loaded     bool
	all        []domain.Finding
	flagged    []domain.Finding
	filter     domain.Category
	view       []domain.Finding
}

func NewFindingsStore(api FindingsFetcher, logger *slog.Logger) *FindingsStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FindingsStore{
		api:          api,
		logger:       logger,
		retryBackoff: 500 * time.Millisecond,
		filter:       domain.CategoryAll,
	}
}

// Load fetches the findings of doc once. Later calls for the same document
// return the cached list; a different document replaces the cache.
func (s *FindingsStore) Load(ctx context.Context, doc domain.Document) ([]domain.Finding, error) {
	if doc.Status != domain.StatusCompleted {
		return nil, &FindingsLoadError{DocumentID: doc.ID, Err: ErrNotCompleted}
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if cached, ok := s.cached(doc.ID); ok {
		return cached, nil
	}

	findings, err := s.api.Findings(ctx, doc.ID)
	if err != nil {
		s.logger.Warn("findings_load_failed", "document_id", doc.ID, "error", err)
		return nil, &FindingsLoadError{DocumentID: doc.ID, Err: err}
	}

	surfaced := make([]domain.Finding, 0, len(findings))
	var flagged []domain.Finding
	for _, f := range findings {
		if !pageInRange(doc, f.PageNum) {
			s.logger.Warn("finding_page_out_of_range",
				"document_id", doc.ID,
				"finding_id", f.ID,
				"page_num", f.PageNum,
				"total_pages", doc.TotalPages,
			)
			flagged = append(flagged, f)
			continue
		}
		surfaced = append(surfaced, f)
	}

	s.mu.Lock()
	s.documentID = doc.ID
	s.loaded = true
	s.all = surfaced
	s.flagged = flagged
	s.filter = domain.CategoryAll
	s.view = surfaced
	s.mu.Unlock()

	return cloneFindings(surfaced), nil
}

// LoadWithRetry calls Load up to attempts times with a fixed pause between tries.
func (s *FindingsStore) LoadWithRetry(ctx context.Context, doc domain.Document, attempts int) ([]domain.Finding, error) {
	if attempts <= 0 {
		attempts = DefaultMaxLoadAttempts
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		findings, err := s.Load(ctx, doc)
		if err == nil {
			return findings, nil
		}
		lastErr = err
		if doc.Status != domain.StatusCompleted || attempt == attempts {
			break
		}
		timer := time.NewTimer(s.retryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, lastErr
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (s *FindingsStore) cached(documentID string) ([]domain.Finding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded || s.documentID != documentID {
		return nil, false
	}
	return cloneFindings(s.all), true
}

// FilterBy narrows the view to one category; "all" clears the filter.
func (s *FindingsStore) FilterBy(category string) ([]domain.Finding, error) {
	c, err := domain.ParseCategoryFilter(category)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = c
	if c == domain.CategoryAll {
		s.view = s.all
		return cloneFindings(s.view), nil
	}
	view := make([]domain.Finding, 0, len(s.all))
	for _, f := range s.all {
		if f.Category == c {
			view = append(view, f)
		}
	}
	s.view = view
	return cloneFindings(view), nil
}

func (s *FindingsStore) Filter() domain.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter
}

// Findings returns the current filtered view.
func (s *FindingsStore) Findings() []domain.Finding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneFindings(s.view)
}

// Flagged returns findings dropped because their page is outside the document.
func (s *FindingsStore) Flagged() []domain.Finding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneFindings(s.flagged)
}

// Page returns the slice [index*size, (index+1)*size) of the current view.
func (s *FindingsStore) Page(index, size int) []domain.Finding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || size <= 0 {
		return []domain.Finding{}
	}
	start := index * size
	if start >= len(s.view) {
		return []domain.Finding{}
	}
	end := start + size
	if end > len(s.view) {
		end = len(s.view)
	}
	return cloneFindings(s.view[start:end])
}

func (s *FindingsStore) PageCount(size int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if size <= 0 {
		return 0
	}
	return (len(s.view) + size - 1) / size
}

// Lookup finds a surfaced finding by id, ignoring the filter.
func (s *FindingsStore) Lookup(id int64) (domain.Finding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.all {
		if f.ID == id {
			return f, true
		}
	}
	return domain.Finding{}, false
}

func pageInRange(doc domain.Document, page int) bool {
	if doc.TotalPages <= 0 {
		return page >= 1
	}
	return doc.ContainsPage(page)
}

func cloneFindings(in []domain.Finding) []domain.Finding {
	out := make([]domain.Finding, len(in))
	copy(out, in)
	return out
}
