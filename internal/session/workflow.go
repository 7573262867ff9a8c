package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
)

// API is the remote surface the whole lifecycle needs.
type API interface {
	Uploader
	StatusSource
	FindingsFetcher
	ChatSender
}

type Options struct {
	MaxUploadBytes  int64
	PollInterval    time.Duration
	MaxPollFailures int
	MaxLoadAttempts int
	Logger          *slog.Logger
}

// Workflow wires the components for one document at a time.
type Workflow struct {
	Lifecycle *Lifecycle
	Upload    *UploadController
	Poller    *ProgressPoller
	Findings  *FindingsStore
	Chat      *ChatSession

	maxLoadAttempts int
}

// Result is the outcome of a completed analysis.
type Result struct {
	Document domain.Document
	Findings []domain.Finding
}

func NewWorkflow(api API, opts Options) *Workflow {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lifecycle := NewLifecycle()
	return &Workflow{
		Lifecycle:       lifecycle,
		Upload:          NewUploadController(api, lifecycle, opts.MaxUploadBytes, logger),
		Poller:          NewProgressPoller(api, lifecycle, opts.PollInterval, opts.MaxPollFailures, logger),
		Findings:        NewFindingsStore(api, logger),
		Chat:            NewChatSession(api, logger),
		maxLoadAttempts: opts.MaxLoadAttempts,
	}
}

// Analyze uploads file, polls until the analysis settles and loads the findings.
// onUpdate, if set, sees every poll update.
func (w *Workflow) Analyze(ctx context.Context, file File, onUpdate func(Update)) (*Result, error) {
	doc, err := w.Upload.Submit(ctx, file)
	if err != nil {
		return nil, err
	}
	return w.follow(ctx, *doc, onUpdate)
}

// Resume follows a document uploaded earlier. Polling always restarts from scratch.
func (w *Workflow) Resume(ctx context.Context, documentID string, onUpdate func(Update)) (*Result, error) {
	w.Poller.Stop()
	w.Lifecycle.track(domain.Document{ID: documentID, Status: domain.StatusPending})
	return w.follow(ctx, domain.Document{ID: documentID}, onUpdate)
}

func (w *Workflow) follow(ctx context.Context, doc domain.Document, onUpdate func(Update)) (*Result, error) {
	var last Update
	for update := range w.Poller.Start(ctx, doc.ID) {
		last = update
		if onUpdate != nil {
			onUpdate(update)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch {
	case last.Phase == PhaseStalled:
		return nil, last.Err
	case last.Status == domain.StatusFailed:
		return nil, ErrAnalysisFailed
	case last.Status != domain.StatusCompleted:
		return nil, ErrPollStopped
	}

	current, _ := w.Lifecycle.Document()
	findings, err := w.Findings.LoadWithRetry(ctx, current, w.maxLoadAttempts)
	if err != nil {
		return &Result{Document: current}, err
	}
	return &Result{Document: current, Findings: findings}, nil
}

// Close stops any polling in progress.
func (w *Workflow) Close() {
	w.Poller.Stop()
}
