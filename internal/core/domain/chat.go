package domain

import "time"

type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// DeliveryState tracks an optimistic user message until the server answers.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryConfirmed DeliveryState = "confirmed"
	DeliveryFailed    DeliveryState = "failed"
)

type ChatMessage struct {
	ID        string        `json:"id"`
	Role      ChatRole      `json:"role"`
	Content   string        `json:"content"`
	FindingID int64         `json:"finding_id"`
	State     DeliveryState `json:"state,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

type ChatContext struct {
	Category    Category `json:"category"`
	Summary     string   `json:"summary"`
	TextContent string   `json:"text_content"`
}

// ChatAnswer is the response to a question scoped to one finding.
type ChatAnswer struct {
	Answer    string      `json:"answer"`
	FindingID int64       `json:"finding_id"`
	Context   ChatContext `json:"context"`

	// PassagesUsed counts related document passages given to the model.
	PassagesUsed int `json:"-"`
}

// RelatedPassage is document text retrieved from the vector index.
type RelatedPassage struct {
	DocumentID string  `json:"document_id"`
	PageNum    int     `json:"page_num"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}
