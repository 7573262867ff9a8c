package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
	"github.com/kirillkom/policy-analyzer/internal/infrastructure/analysisapi"
)

var errNetwork = errors.New("connection refused")

type statusStep struct {
	status   string
	progress int
	err      error
}

type fakeAPI struct {
	mu sync.Mutex

	uploadCalls   int
	statusCalls   int
	progressCalls int
	findingsCalls int
	chatCalls     int

	uploadResp *analysisapi.IngestResponse
	uploadErr  error

	steps       []statusStep
	lastStep    statusStep
	statusDocID string

	// statusGate, when set, blocks Status until it is closed; statusEntered is signalled first.
	statusGate    chan struct{}
	statusEntered chan struct{}

	findings     []domain.Finding
	findingsErrs []error

	chatAnswer   string
	chatErr      error
	chatGate     chan struct{}
	chatEntered  chan struct{}
	lastQuestion string
	lastFinding  int64
}

func (f *fakeAPI) Upload(_ context.Context, filename string, body io.Reader) (*analysisapi.IngestResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCalls++
	_, _ = io.Copy(io.Discard, body)
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	if f.uploadResp != nil {
		return f.uploadResp, nil
	}
	return &analysisapi.IngestResponse{DocumentID: "doc-1", Filename: filename, TotalPages: 1, AnalysisStatus: "pending"}, nil
}

func (f *fakeAPI) Status(ctx context.Context, documentID string) (*analysisapi.StatusResponse, error) {
	f.mu.Lock()
	idx := f.statusCalls
	f.statusCalls++
	gate, entered := f.statusGate, f.statusEntered
	respID := documentID
	if f.statusDocID != "" {
		respID = f.statusDocID
	}
	step := statusStep{status: "pending"}
	if len(f.steps) > 0 {
		if idx >= len(f.steps) {
			idx = len(f.steps) - 1
		}
		step = f.steps[idx]
	}
	f.lastStep = step
	f.mu.Unlock()

	if gate != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if step.err != nil {
		return nil, step.err
	}
	return &analysisapi.StatusResponse{DocumentID: respID, Status: step.status}, nil
}

func (f *fakeAPI) Progress(_ context.Context, _ string) (*analysisapi.ProgressResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progressCalls++
	return &analysisapi.ProgressResponse{
		Status:    f.lastStep.status,
		Progress:  f.lastStep.progress,
		Message:   "working",
		Timestamp: analysisapi.Timestamp{Time: time.Now()},
	}, nil
}

func (f *fakeAPI) Findings(_ context.Context, _ string) ([]domain.Finding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.findingsCalls
	f.findingsCalls++
	if idx < len(f.findingsErrs) && f.findingsErrs[idx] != nil {
		return nil, f.findingsErrs[idx]
	}
	out := make([]domain.Finding, len(f.findings))
	copy(out, f.findings)
	return out, nil
}

func (f *fakeAPI) Chat(ctx context.Context, findingID int64, question string) (*domain.ChatAnswer, error) {
	f.mu.Lock()
	f.chatCalls++
	f.lastQuestion = question
	f.lastFinding = findingID
	gate, entered := f.chatGate, f.chatEntered
	answer, err := f.chatAnswer, f.chatErr
	f.mu.Unlock()

	if gate != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &domain.ChatAnswer{Answer: answer, FindingID: findingID}, nil
}

func (f *fakeAPI) counts() (upload, status, findings, chat int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploadCalls, f.statusCalls, f.findingsCalls, f.chatCalls
}

func drain(updates <-chan Update) []Update {
	var out []Update
	for u := range updates {
		out = append(out, u)
	}
	return out
}
