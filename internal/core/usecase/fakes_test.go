package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
)

type statusCall struct {
	status domain.AnalysisStatus
	errMsg string
}

type docRepoFake struct {
	docs        map[string]*domain.Document
	getErr      error
	createErr   error
	resets      []string
	statusCalls []statusCall
	honorCtx    bool
}

func newDocRepoFake(docs ...*domain.Document) *docRepoFake {
	f := &docRepoFake{docs: map[string]*domain.Document{}}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return f
}

func (f *docRepoFake) Create(_ context.Context, doc *domain.Document) error {
	if f.createErr != nil {
		return f.createErr
	}
	copyDoc := *doc
	f.docs[doc.ID] = &copyDoc
	return nil
}

func (f *docRepoFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New(id))
	}
	copyDoc := *doc
	return &copyDoc, nil
}

func (f *docRepoFake) UpdateStatus(ctx context.Context, id string, status domain.AnalysisStatus, errMessage string) error {
	if f.honorCtx {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	f.statusCalls = append(f.statusCalls, statusCall{status: status, errMsg: errMessage})
	doc, ok := f.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "update status", errors.New(id))
	}
	doc.Status = status
	doc.Error = errMessage
	return nil
}

func (f *docRepoFake) ResetForReanalysis(_ context.Context, id string, totalPages int) error {
	f.resets = append(f.resets, id)
	doc := f.docs[id]
	doc.Status = domain.StatusPending
	doc.TotalPages = totalPages
	return nil
}

func (f *docRepoFake) lastStatus() domain.AnalysisStatus {
	if len(f.statusCalls) == 0 {
		return ""
	}
	return f.statusCalls[len(f.statusCalls)-1].status
}

type findingRepoFake struct {
	mu      sync.Mutex
	nextID  int64
	saved   []domain.Finding
	deleted []string
	saveErr error
}

func (f *findingRepoFake) Save(_ context.Context, finding *domain.Finding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.nextID++
	finding.ID = f.nextID
	f.saved = append(f.saved, *finding)
	return nil
}

func (f *findingRepoFake) GetByID(_ context.Context, id int64) (*domain.Finding, error) {
	for _, finding := range f.saved {
		if finding.ID == id {
			out := finding
			return &out, nil
		}
	}
	return nil, domain.WrapError(domain.ErrFindingNotFound, "get finding", errors.New("missing"))
}

func (f *findingRepoFake) ListByDocument(_ context.Context, documentID string, category domain.Category) ([]domain.Finding, error) {
	var out []domain.Finding
	for _, finding := range f.saved {
		if finding.DocumentID != documentID {
			continue
		}
		if category != domain.CategoryAll && finding.Category != category {
			continue
		}
		out = append(out, finding)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PageNum < out[j].PageNum })
	return out, nil
}

func (f *findingRepoFake) CountByDocument(ctx context.Context, documentID string) (int, error) {
	list, _ := f.ListByDocument(ctx, documentID, domain.CategoryAll)
	return len(list), nil
}

func (f *findingRepoFake) DeleteByDocument(_ context.Context, documentID string) error {
	f.deleted = append(f.deleted, documentID)
	kept := f.saved[:0]
	for _, finding := range f.saved {
		if finding.DocumentID != documentID {
			kept = append(kept, finding)
		}
	}
	f.saved = kept
	return nil
}

type storageFake struct {
	objects map[string][]byte
	saveErr error
}

func newStorageFake() *storageFake {
	return &storageFake{objects: map[string][]byte{}}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[key] = raw
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	raw, ok := f.objects[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "open", errors.New(key))
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

type queueFake struct {
	published []string
	err       error
}

func (f *queueFake) PublishDocumentIngested(_ context.Context, documentID string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, documentID)
	return nil
}

func (f *queueFake) SubscribeDocumentIngested(context.Context, func(context.Context, string) error) error {
	return errors.New("not implemented")
}

type extractorFake struct {
	pages    []domain.PageText
	pageNum  int
	err      error
	countErr error
}

func (f *extractorFake) Extract(context.Context, *domain.Document) ([]domain.PageText, error) {
	return f.pages, f.err
}

func (f *extractorFake) CountPages(context.Context, *domain.Document) (int, error) {
	return f.pageNum, f.countErr
}

// pageChunker turns every page into exactly one chunk.
type pageChunker struct{}

func (pageChunker) Split(pages []domain.PageText) []domain.Chunk {
	out := make([]domain.Chunk, 0, len(pages))
	for i, p := range pages {
		out = append(out, domain.Chunk{Index: i, PageNum: p.Number, Text: p.Text})
	}
	return out
}

type analyzerFake struct {
	mu       sync.Mutex
	verdicts map[string]domain.Concern
	errs     map[string]error
	calls    int
	block    bool // wait for ctx to end instead of answering
}

func (f *analyzerFake) Analyze(ctx context.Context, chunk domain.Chunk) (domain.Concern, error) {
	if f.block {
		<-ctx.Done()
		return domain.Concern{}, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[chunk.Text]; err != nil {
		return domain.Concern{}, err
	}
	return f.verdicts[chunk.Text], nil
}

type cacheFake struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newCacheFake() *cacheFake {
	return &cacheFake{entries: map[string][]byte{}}
}

func (f *cacheFake) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.entries[key]
	return v, ok, nil
}

func (f *cacheFake) Put(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = value
	return nil
}

type embedderFake struct {
	err error
}

func (f *embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

func (f *embedderFake) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1}, nil
}

type vectorStoreFake struct {
	indexed    int
	indexErr   error
	passages   []domain.RelatedPassage
	searchErr  error
	searchedID string
	limit      int
}

func (f *vectorStoreFake) IndexChunks(_ context.Context, _ *domain.Document, chunks []domain.Chunk, _ [][]float32) error {
	if f.indexErr != nil {
		return f.indexErr
	}
	f.indexed += len(chunks)
	return nil
}

func (f *vectorStoreFake) SearchDocument(_ context.Context, documentID string, _ []float32, limit int) ([]domain.RelatedPassage, error) {
	f.searchedID = documentID
	f.limit = limit
	return f.passages, f.searchErr
}

type answererFake struct {
	answer   string
	err      error
	related  []domain.RelatedPassage
	question string
}

func (f *answererFake) AnswerAboutFinding(_ context.Context, _ domain.Finding, related []domain.RelatedPassage, question string) (string, error) {
	f.related = related
	f.question = question
	return f.answer, f.err
}

type observerFake struct {
	mu       sync.Mutex
	outcomes map[string]int
	findings []int
}

func (f *observerFake) ChunkAnalyzed(outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outcomes == nil {
		f.outcomes = map[string]int{}
	}
	f.outcomes[outcome]++
}

func (f *observerFake) DocumentAnalyzed(findings int) {
	f.findings = append(f.findings, findings)
}
