package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
	"github.com/kirillkom/policy-analyzer/internal/infrastructure/analysisapi"
)

const (
	DefaultPollInterval           = 2 * time.Second
	DefaultMaxConsecutiveFailures = 3
)

type StatusSource interface {
	Status(ctx context.Context, documentID string) (*analysisapi.StatusResponse, error)
	Progress(ctx context.Context, documentID string) (*analysisapi.ProgressResponse, error)
}

// Update is emitted once per completed tick.
type Update struct {
	Tick     int
	Status   domain.AnalysisStatus
	Phase    Phase
	Snapshot domain.ProgressSnapshot
	// Err is set for a failed tick. On the final update of a stalled poll it is a *StatusPollError.
	Err   error
	Final bool
}

type ProgressPoller struct {
	api         StatusSource
	lifecycle   *Lifecycle
	interval    time.Duration
	maxFailures int
	logger      *slog.Logger

	mu   sync.Mutex
	gen  uint64
	stop chan struct{}
}

func NewProgressPoller(api StatusSource, lifecycle *Lifecycle, interval time.Duration, maxFailures int, logger *slog.Logger) *ProgressPoller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if maxFailures <= 0 {
		maxFailures = DefaultMaxConsecutiveFailures
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressPoller{
		api:         api,
		lifecycle:   lifecycle,
		interval:    interval,
		maxFailures: maxFailures,
		logger:      logger,
	}
}

// Start polls documentID until a terminal status, the failure ceiling, Stop
// or ctx cancellation. The first tick runs immediately and the next one is
// scheduled only after the previous tick finished. Starting again stops any
// earlier run. The returned channel is closed when polling ends.
func (p *ProgressPoller) Start(ctx context.Context, documentID string) <-chan Update {
	p.mu.Lock()
	if p.stop != nil {
		close(p.stop)
	}
	p.gen++
	gen := p.gen
	stop := make(chan struct{})
	p.stop = stop
	p.mu.Unlock()

	out := make(chan Update)
	go p.run(ctx, gen, stop, documentID, out)
	return out
}

// Stop prevents further ticks. A tick already in flight completes, but its
// result is dropped.
func (p *ProgressPoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
	p.gen++
}

type observation struct {
	status        domain.AnalysisStatus
	snapshot      *domain.ProgressSnapshot
	findingsCount *int
}

func (p *ProgressPoller) run(ctx context.Context, gen uint64, stop <-chan struct{}, documentID string, out chan<- Update) {
	defer close(out)

	failures := 0
	for tick := 1; ; tick++ {
		obs, err := p.tick(ctx, documentID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failures++
			p.logger.Warn("status_poll_failed",
				"document_id", documentID,
				"tick", tick,
				"consecutive_failures", failures,
				"error", err,
			)
		} else {
			failures = 0
		}

		update, ok := p.apply(gen, documentID, obs, err, failures)
		if !ok {
			p.logger.Debug("status_poll_discarded", "document_id", documentID, "tick", tick)
			return
		}
		update.Tick = tick

		select {
		case out <- update:
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
		if update.Final {
			return
		}

		timer := time.NewTimer(p.interval)
		select {
		case <-timer.C:
		case <-stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// tick issues one status and one progress request. Only a status failure
// fails the tick; a failed progress read keeps the previous snapshot. A status
// answered for another document counts as a failure.
func (p *ProgressPoller) tick(ctx context.Context, documentID string) (observation, error) {
	statusResp, err := p.api.Status(ctx, documentID)
	if err != nil {
		return observation{}, err
	}
	if statusResp.DocumentID != "" && statusResp.DocumentID != documentID {
		p.logger.Warn("status_document_mismatch", "document_id", documentID, "received_document_id", statusResp.DocumentID)
		return observation{}, ErrDocumentMismatch
	}

	obs := observation{findingsCount: statusResp.FindingsCount}
	progressResp, err := p.api.Progress(ctx, documentID)
	if err != nil {
		p.logger.Warn("progress_poll_failed", "document_id", documentID, "error", err)
	} else {
		snap := progressResp.Snapshot()
		obs.snapshot = &snap
	}

	next, ok := domain.ParseAnalysisStatus(statusResp.Status)
	if !ok {
		p.logger.Warn("unexpected_status", "document_id", documentID, "status", statusResp.Status)
		next = domain.StatusAnalyzing
	}
	obs.status = next
	return obs, nil
}

// apply writes a tick result into the lifecycle unless the run was stopped or
// superseded meanwhile. The generation check and the write share p.mu, so a
// Stop that returned is never followed by a write.
func (p *ProgressPoller) apply(gen uint64, documentID string, obs observation, tickErr error, failures int) (Update, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		return Update{}, false
	}

	current := p.lifecycle.currentStatus()
	if tickErr != nil {
		update := Update{Status: current, Phase: p.lifecycle.Phase(), Err: tickErr}
		if failures >= p.maxFailures {
			pollErr := &StatusPollError{DocumentID: documentID, Attempts: failures, Err: tickErr}
			p.lifecycle.stall(pollErr)
			update.Phase, update.Err, update.Final = PhaseStalled, pollErr, true
		}
		if snap, ok := p.lifecycle.Snapshot(); ok {
			update.Snapshot = snap
		}
		return update, true
	}

	next := obs.status
	if !current.Advances(next) {
		p.logger.Warn("status_regression_ignored", "document_id", documentID, "current", current, "observed", next)
		next = current
		obs.snapshot = nil
	}
	p.lifecycle.applyStatus(next, obs.findingsCount, obs.snapshot)

	update := Update{Status: next, Phase: p.lifecycle.Phase(), Final: next.IsTerminal()}
	if snap, ok := p.lifecycle.Snapshot(); ok {
		update.Snapshot = snap
	}
	if next == domain.StatusFailed {
		update.Err = ErrAnalysisFailed
	}
	return update, true
}
