package ollama

import (
	"fmt"
	"strings"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
)

const maxPromptSnippet = 4000

func buildConcernPrompt(text string) string {
	return `You are an expert insurance policy analyst. Analyze the following text for potential policyholder concerns.
Answer in exactly this format:

Is Concern: [true/false]
Category: [one of ` + categoryList() + `]
Severity: [HIGH/MEDIUM/LOW]
Summary: [one-sentence summary]
Recommendation: [actionable recommendation]

TEXT TO ANALYZE:
` + truncate(text, maxPromptSnippet)
}

func buildFindingChatPrompt(finding domain.Finding, related []domain.RelatedPassage, question string) string {
	var b strings.Builder
	b.WriteString(`You are an expert insurance policy analyst. Answer the user's question about this specific finding.
Provide ONLY a direct, helpful answer. Do not include reasoning or meta-commentary.

Context:
`)
	fmt.Fprintf(&b, "- Text Content: %s\n", truncate(finding.TextContent, maxPromptSnippet))
	fmt.Fprintf(&b, "- Finding: %s\n", finding.Summary)
	fmt.Fprintf(&b, "- Category: %s\n", finding.Category)
	fmt.Fprintf(&b, "- Severity: %s\n", finding.Severity)
	fmt.Fprintf(&b, "- Recommendation: %s\n", finding.RecommendationText())

	if len(related) > 0 {
		b.WriteString("\nRelated policy text:\n")
		for idx, passage := range related {
			fmt.Fprintf(&b, "[%d] page %d\n%s\n\n", idx+1, passage.PageNum, truncate(passage.Text, 1500))
		}
	}

	fmt.Fprintf(&b, "\nQuestion: %s\n\nAnswer the question directly and helpfully, using the context provided.\n", question)
	return b.String()
}

func categoryList() string {
	cats := domain.Categories()
	names := make([]string, 0, len(cats))
	for _, c := range cats {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
