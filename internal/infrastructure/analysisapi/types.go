package analysisapi

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
)

type IngestResponse struct {
	DocumentID     string `json:"document_id"`
	Filename       string `json:"filename"`
	TotalPages     int    `json:"total_pages"`
	AnalysisStatus string `json:"analysis_status"`
}

type StatusResponse struct {
	DocumentID    string `json:"document_id"`
	Status        string `json:"status"`
	FindingsCount *int   `json:"findings_count,omitempty"`
}

type ProgressResponse struct {
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	Timestamp Timestamp `json:"timestamp"`
}

// Snapshot converts the wire response, clamping progress into 0..100.
func (r ProgressResponse) Snapshot() domain.ProgressSnapshot {
	progress := r.Progress
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	return domain.ProgressSnapshot{
		Status:    r.Status,
		Progress:  progress,
		Message:   r.Message,
		Timestamp: r.Timestamp.Time,
	}
}

type HealthResponse struct {
	Status    string          `json:"status"`
	Timestamp Timestamp       `json:"timestamp"`
	Services  map[string]bool `json:"services,omitempty"`
}

type chatRequest struct {
	Q string `json:"q"`
}

// Timestamp accepts RFC 3339 as well as zone-less ISO 8601 timestamps.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, raw)
		if err == nil {
			t.Time = parsed
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}
