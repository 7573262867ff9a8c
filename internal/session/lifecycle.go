package session

import (
	"fmt"
	"sync"

	"github.com/anggasct/fluo"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
)

// Phase is the locally visible lifecycle state of the current document.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseUploading Phase = "uploading"
	PhaseAnalyzing Phase = "analyzing"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
	// PhaseStalled means polling gave up; the remote status is unknown.
	PhaseStalled Phase = "stalled"
)

func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseStalled
}

const (
	eventUpload       = "upload"
	eventUploadFailed = "upload_failed"
	eventTrack        = "track"
	eventStatus       = "status"
	eventStall        = "stall"
)

// lifecycleMachine is shared by every Lifecycle; each one runs its own instance.
var lifecycleMachine = buildLifecycleMachine()

func buildLifecycleMachine() fluo.MachineDefinition {
	b := fluo.NewMachine()
	b.State(string(PhaseIdle)).Initial().
		To(string(PhaseUploading)).On(eventUpload).
		To(string(PhaseAnalyzing)).On(eventTrack)
	b.State(string(PhaseUploading)).
		To(string(PhaseIdle)).On(eventUploadFailed).
		To(string(PhaseAnalyzing)).On(eventTrack)
	b.State(string(PhaseAnalyzing)).
		To(string(PhaseCompleted)).On(eventStatus).When(statusIs(domain.StatusCompleted)).
		To(string(PhaseFailed)).On(eventStatus).When(statusIs(domain.StatusFailed)).
		ToSelf().On(eventStatus).When(statusInProgress).
		To(string(PhaseStalled)).On(eventStall).
		To(string(PhaseUploading)).On(eventUpload).
		ToSelf().On(eventTrack)
	for _, done := range []Phase{PhaseCompleted, PhaseFailed, PhaseStalled} {
		b.State(string(done)).
			To(string(PhaseUploading)).On(eventUpload).
			To(string(PhaseAnalyzing)).On(eventTrack)
	}
	return b.Build()
}

func statusIs(want domain.AnalysisStatus) fluo.GuardFunc {
	return func(ctx fluo.Context) bool {
		status, ok := ctx.GetEventData().(domain.AnalysisStatus)
		return ok && status == want
	}
}

func statusInProgress(ctx fluo.Context) bool {
	status, ok := ctx.GetEventData().(domain.AnalysisStatus)
	return ok && !status.IsTerminal()
}

// Lifecycle holds the state of one document as seen by the client.
// The upload controller moves the phase to analyzing; after that only the
// poller writes. Phase changes go through the state machine, which rejects
// events that make no sense in the current phase.
type Lifecycle struct {
	mu       sync.RWMutex
	machine  fluo.Machine
	doc      *domain.Document
	snapshot *domain.ProgressSnapshot
	err      error
}

func NewLifecycle() *Lifecycle {
	machine := lifecycleMachine.CreateInstance()
	if err := machine.Start(); err != nil {
		panic(fmt.Sprintf("session: start lifecycle machine: %v", err))
	}
	return &Lifecycle{machine: machine}
}

func (l *Lifecycle) Phase() Phase {
	return Phase(l.machine.CurrentState())
}

// Document returns a copy of the current document, if any.
func (l *Lifecycle) Document() (domain.Document, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.doc == nil {
		return domain.Document{}, false
	}
	return *l.doc, true
}

func (l *Lifecycle) Snapshot() (domain.ProgressSnapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.snapshot == nil {
		return domain.ProgressSnapshot{}, false
	}
	return *l.snapshot, true
}

// Err is the error that put the lifecycle into a failed or stalled phase.
func (l *Lifecycle) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

// send must be called with l.mu held.
func (l *Lifecycle) send(event string, data any) bool {
	return l.machine.SendEvent(event, data).Success()
}

// beginUpload reports false while another upload is in flight.
func (l *Lifecycle) beginUpload() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.send(eventUpload, nil) {
		return false
	}
	l.err = nil
	return true
}

func (l *Lifecycle) uploadFailed(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.send(eventUploadFailed, nil) {
		l.err = err
	}
}

// track makes doc the current document and resets any previous progress.
func (l *Lifecycle) track(doc domain.Document) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.send(eventTrack, nil)
	l.doc = &doc
	l.snapshot = nil
	l.err = nil
}

func (l *Lifecycle) currentStatus() domain.AnalysisStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.doc == nil {
		return domain.StatusPending
	}
	return l.doc.Status
}

// applyStatus records a polled status. It is ignored unless the document is
// being analyzed.
func (l *Lifecycle) applyStatus(status domain.AnalysisStatus, findingsCount *int, snapshot *domain.ProgressSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.send(eventStatus, status) {
		return
	}
	if l.doc != nil {
		l.doc.Status = status
		if findingsCount != nil {
			l.doc.FindingCount = *findingsCount
		}
	}
	if snapshot != nil {
		snap := *snapshot
		l.snapshot = &snap
	}
	if status == domain.StatusFailed {
		l.err = ErrAnalysisFailed
	}
}

func (l *Lifecycle) stall(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.send(eventStall, nil) {
		l.err = err
	}
}
