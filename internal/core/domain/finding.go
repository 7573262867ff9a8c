package domain

import (
	"fmt"
	"strings"
	"time"
)

type Category string

const (
	CategoryExclusion          Category = "EXCLUSION"
	CategoryDeductible         Category = "DEDUCTIBLE"
	CategoryCopayment          Category = "COPAYMENT"
	CategoryCoinsurance        Category = "COINSURANCE"
	CategoryWaitingPeriod      Category = "WAITING_PERIOD"
	CategoryPolicyholderDuty   Category = "POLICYHOLDER_DUTY"
	CategoryClaimProcess       Category = "CLAIM_PROCESS"
	CategoryNetworkRestriction Category = "NETWORK_RESTRICTION"
	CategoryRenewalRestriction Category = "RENEWAL_RESTRICTION"

	// CategoryAll is the filter sentinel for "no filter".
	CategoryAll Category = "all"
)

var categories = []Category{
	CategoryExclusion,
	CategoryDeductible,
	CategoryCopayment,
	CategoryCoinsurance,
	CategoryWaitingPeriod,
	CategoryPolicyholderDuty,
	CategoryClaimProcess,
	CategoryNetworkRestriction,
	CategoryRenewalRestriction,
}

// Categories returns the closed category set in display order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

func (c Category) Valid() bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategoryFilter accepts "all" (any case) or an exact category name.
func ParseCategoryFilter(raw string) (Category, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, string(CategoryAll)) {
		return CategoryAll, nil
	}
	c := Category(strings.ToUpper(trimmed))
	if !c.Valid() {
		return "", WrapError(ErrInvalidInput, "parse category", fmt.Errorf("unknown category %q", raw))
	}
	return c, nil
}

type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

func (s Severity) Valid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

// Finding is one AI-identified concern anchored to a page of a document.
type Finding struct {
	ID              int64    `json:"id"`
	Category        Category `json:"category"`
	Severity        Severity `json:"severity"`
	Summary         string   `json:"summary"`
	Recommendation  *string  `json:"recommendation"`
	PageNum         int      `json:"page_num"`
	ConfidenceScore float64  `json:"confidence_score"`

	DocumentID  string    `json:"-"`
	TextContent string    `json:"-"`
	CreatedAt   time.Time `json:"-"`
}

// RecommendationText returns the recommendation or an empty string.
func (f Finding) RecommendationText() string {
	if f.Recommendation == nil {
		return ""
	}
	return *f.Recommendation
}

// ConfidencePercent scales the confidence score for display.
func (f Finding) ConfidencePercent() int {
	score := f.ConfidenceScore
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return int(score*100 + 0.5)
}

// Concern is the parsed LLM verdict for a single chunk.
type Concern struct {
	IsConcern      bool     `json:"is_concern"`
	Category       Category `json:"category"`
	Severity       Severity `json:"severity"`
	Summary        string   `json:"summary"`
	Recommendation string   `json:"recommendation"`
}

const noSummary = "No concerns found"

// Reportable reports whether the verdict can become a stored finding.
func (c Concern) Reportable() bool {
	return c.IsConcern && c.Category.Valid() && c.Severity.Valid()
}

// ConfidenceScore grades how complete the model's verdict is, clamped to [0,1].
func (c Concern) ConfidenceScore() float64 {
	tenths := 5
	if c.Category.Valid() {
		tenths += 2
	}
	if c.Severity.Valid() {
		tenths++
	}
	if len(c.Summary) > 20 && c.Summary != noSummary {
		tenths++
	}
	if len(c.Recommendation) > 10 {
		tenths++
	}
	if tenths > 10 {
		tenths = 10
	}
	return float64(tenths) / 10
}

// ToFinding materializes a concern found in chunk into an unsaved finding.
func (c Concern) ToFinding(documentID string, chunk Chunk) Finding {
	var rec *string
	if strings.TrimSpace(c.Recommendation) != "" {
		r := c.Recommendation
		rec = &r
	}
	return Finding{
		DocumentID:      documentID,
		Category:        c.Category,
		Severity:        c.Severity,
		Summary:         c.Summary,
		Recommendation:  rec,
		PageNum:         chunk.PageNum,
		ConfidenceScore: c.ConfidenceScore(),
		TextContent:     chunk.Text,
	}
}

// DedupeBySummary keeps the first finding for every distinct summary.
func DedupeBySummary(findings []Finding) []Finding {
	seen := make(map[string]struct{}, len(findings))
	out := make([]Finding, 0, len(findings))
	for _, f := range findings {
		if _, ok := seen[f.Summary]; ok {
			continue
		}
		seen[f.Summary] = struct{}{}
		out = append(out, f)
	}
	return out
}
