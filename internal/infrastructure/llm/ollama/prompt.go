package ollama

import (
	"fmt"
	"strings"

	"github.com/vmelnikau/docqa/internal/core/domain"
)

func buildRoutePrompt(question string, summaries []string) string {
	summaryLines := make([]string, 0, len(summaries))
	for _, s := range summaries {
		if text := strings.TrimSpace(s); text != "" {
			summaryLines = append(summaryLines, "- "+text)
		}
	}
	if len(summaryLines) == 0 {
		summaryLines = append(summaryLines, "(none)")
	}

	return fmt.Sprintf(`You are a router for a document question-answering assistant.
Return strict JSON: {"route":"retrieve"} or {"route":"summary"} or {"route":"fallback"}.
Use "retrieve" when the question needs document content.
Use "summary" when the conversation summaries below already answer it.
Use "fallback" when the question is unrelated to the user's documents.
No markdown, no extra keys.

Conversation summaries:
%s

Question:
%s`, strings.Join(summaryLines, "\n"), question)
}

func buildBinaryPrompt(question string) string {
	return fmt.Sprintf(`%s

Return strict JSON: {"answer":"yes"} or {"answer":"no"}. No markdown, no extra keys.`, question)
}

func buildCompressPrompt(query string, documents []domain.Document, numPassages int) string {
	var contextBuilder strings.Builder
	for idx, doc := range documents {
		contextBuilder.WriteString(fmt.Sprintf("[%d] %s\n\n", idx+1, strings.TrimSpace(doc.Content)))
	}

	return fmt.Sprintf(`Select the %d passages most useful for answering the question.
Return strict JSON: {"selected":[passage numbers in order of usefulness]}.
No markdown, no extra keys.

Passages:
%s
Question:
%s`, numPassages, contextBuilder.String(), query)
}
