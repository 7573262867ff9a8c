package ollama

import (
	"regexp"
	"strings"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
)

const (
	uncategorized   domain.Category = "UNCATEGORIZED"
	unknownSeverity domain.Severity = "UNKNOWN"
	noConcern                       = "No concerns found"

	shortAnswerFallback = "I don't have enough information to answer that question based on the current finding."
)

var (
	thinkBlockRe     = regexp.MustCompile(`(?is)<think>.*?</think>`)
	reasoningBlockRe = regexp.MustCompile(`(?is)<reasoning>.*?</reasoning>`)
	xmlTagRe         = regexp.MustCompile(`<[^>]+>`)
	blankRunRe       = regexp.MustCompile(`\n\s*\n+`)
)

// Model output may name categories the analyzer does not keep (LIMITATION);
// those parse through and are dropped by the worker.
var parsedCategories = []domain.Category{
	domain.CategoryExclusion,
	"LIMITATION",
	domain.CategoryWaitingPeriod,
	domain.CategoryDeductible,
	domain.CategoryCopayment,
	domain.CategoryCoinsurance,
	domain.CategoryPolicyholderDuty,
	domain.CategoryRenewalRestriction,
	domain.CategoryClaimProcess,
	domain.CategoryNetworkRestriction,
}

var analysisFiller = []string{
	"okay, so i need to analyze",
	"sure, i can help",
	"here is the analysis",
	"i have analyzed the text",
}

var chatFiller = []string{
	"let me think", "i need to", "first,", "next,", "i should", "i will",
	"okay,", "so,", "well,", "hmm,", "let me", "i'll", "i'm going to",
}

func cleanAnalysisResponse(raw string) string {
	text := thinkBlockRe.ReplaceAllString(raw, "")
	text = xmlTagRe.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if containsAny(strings.ToLower(strings.TrimSpace(line)), analysisFiller) {
			continue
		}
		kept = append(kept, line)
	}
	return blankRunRe.ReplaceAllString(strings.TrimSpace(strings.Join(kept, "\n")), "\n")
}

// parseConcern reads the "Key: value" verdict format. Anything missing keeps its default.
func parseConcern(raw string) domain.Concern {
	text := cleanAnalysisResponse(raw)
	fields := keyValues(text)

	concern := domain.Concern{
		Category: uncategorized,
		Severity: unknownSeverity,
		Summary:  noConcern,
	}

	concern.IsConcern = strings.Contains(strings.ToLower(fields["is concern"]), "true")
	if !concern.IsConcern {
		return concern
	}

	if value := normalizeLabel(fields["category"]); value != "" {
		for _, cat := range parsedCategories {
			if strings.Contains(value, normalizeLabel(string(cat))) {
				concern.Category = cat
				break
			}
		}
	}

	switch severity := strings.ToLower(fields["severity"]); {
	case strings.Contains(severity, "high"):
		concern.Severity = domain.SeverityHigh
	case strings.Contains(severity, "medium"):
		concern.Severity = domain.SeverityMedium
	case strings.Contains(severity, "low"):
		concern.Severity = domain.SeverityLow
	}

	if summary := fields["summary"]; summary != "" {
		concern.Summary = summary
	}
	concern.Recommendation = fields["recommendation"]

	if concern.Summary == noConcern {
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			if line != "" && !strings.Contains(line, ":") {
				concern.Summary = line
				break
			}
		}
	}
	return concern
}

// keyValues maps lower-cased keys to their first value, brackets stripped.
func keyValues(text string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if _, seen := out[key]; seen || key == "" {
			continue
		}
		value = strings.NewReplacer("[", "", "]", "").Replace(value)
		out[key] = strings.TrimSpace(value)
	}
	return out
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(strings.ReplaceAll(s, "_", " ")), " "))
}

func cleanChatResponse(raw string) string {
	text := thinkBlockRe.ReplaceAllString(raw, "")
	text = reasoningBlockRe.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || containsAny(strings.ToLower(trimmed), chatFiller) {
			continue
		}
		kept = append(kept, line)
	}

	answer := strings.TrimSpace(strings.Join(kept, "\n"))
	if len(answer) < 10 {
		return shortAnswerFallback
	}
	return answer
}

func containsAny(s string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(s, phrase) {
			return true
		}
	}
	return false
}
