package domain

import "time"

// AnalysisStatus is the lifecycle state of a document analysis.
type AnalysisStatus string

const (
	StatusPending   AnalysisStatus = "pending"
	StatusAnalyzing AnalysisStatus = "analyzing"
	StatusCompleted AnalysisStatus = "completed"
	StatusFailed    AnalysisStatus = "failed"

	// StatusUnknown marks a remote value outside the enum. It never reaches storage.
	StatusUnknown AnalysisStatus = "unknown"
)

// ParseAnalysisStatus matches raw against the enum by exact equality.
// Unrecognized values return StatusUnknown and false.
func ParseAnalysisStatus(raw string) (AnalysisStatus, bool) {
	switch s := AnalysisStatus(raw); s {
	case StatusPending, StatusAnalyzing, StatusCompleted, StatusFailed:
		return s, true
	default:
		return StatusUnknown, false
	}
}

func (s AnalysisStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s AnalysisStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusAnalyzing, StatusUnknown:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// Advances reports whether moving from s to next keeps the status monotonic.
// Terminal states are final; staying in place is allowed.
func (s AnalysisStatus) Advances(next AnalysisStatus) bool {
	if s.IsTerminal() {
		return s == next
	}
	return next.rank() >= s.rank()
}

type Document struct {
	ID           string         `json:"id"`
	Filename     string         `json:"filename"`
	TotalPages   int            `json:"total_pages"`
	StoragePath  string         `json:"-"`
	Status       AnalysisStatus `json:"status"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	FindingCount int            `json:"findings_count,omitempty"`
}

// ContainsPage reports whether page is a valid 1-based page number of the document.
func (d *Document) ContainsPage(page int) bool {
	if d == nil {
		return false
	}
	return page >= 1 && page <= d.TotalPages
}

// StatusView is the status read model returned by the analysis endpoint.
type StatusView struct {
	DocumentID    string         `json:"document_id"`
	Status        AnalysisStatus `json:"status"`
	FindingsCount int            `json:"findings_count"`
}

// ProgressSnapshot is a point-in-time read of background analysis completion.
type ProgressSnapshot struct {
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const progressNotFound = "not_found"

// ProgressFor derives the coarse progress snapshot for a stored status.
func ProgressFor(status AnalysisStatus, now time.Time) ProgressSnapshot {
	snap := ProgressSnapshot{Status: string(status), Timestamp: now}
	switch status {
	case StatusPending:
		snap.Progress, snap.Message = 10, "Waiting for analysis to start"
	case StatusAnalyzing:
		snap.Progress, snap.Message = 60, "AI is analyzing the document"
	case StatusCompleted:
		snap.Progress, snap.Message = 100, "Analysis completed"
	case StatusFailed:
		snap.Progress, snap.Message = 0, "Analysis failed"
	default:
		snap.Progress, snap.Message = 0, "Unknown status"
	}
	return snap
}

// ProgressNotFound is reported for ids that have no stored document.
func ProgressNotFound(now time.Time) ProgressSnapshot {
	return ProgressSnapshot{Status: progressNotFound, Progress: 0, Message: "Document not found", Timestamp: now}
}

// PageText is the extracted plain text of one PDF page.
type PageText struct {
	Number int
	Text   string
}

// Chunk is a page-anchored slice of document text sent to analysis and indexing.
type Chunk struct {
	Index   int
	PageNum int
	Text    string
}
