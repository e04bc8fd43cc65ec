package pipeline

import (
	"fmt"
	"strings"

	"github.com/research-os/ragd/internal/domain"
)

// FormatContext renders retrieved chunks as a prompt-ready block: a
// numbered list of excerpts with score and document attribution,
// separated by horizontal rules.
func FormatContext(rc domain.RetrievedContext) string {
	if len(rc.Hits) == 0 {
		return fmt.Sprintf("Query: %s\n\nNo relevant context found.", rc.Query)
	}

	sections := make([]string, len(rc.Hits))
	for i, hit := range rc.Hits {
		sections[i] = fmt.Sprintf("[%d] (Score: %.2f, Document: %s)\n%s",
			i+1, hit.Score, hit.DocumentKey, hit.Content)
	}

	return fmt.Sprintf("Query: %s\n\nRelevant Context:\n\n%s",
		rc.Query, strings.Join(sections, "\n\n---\n\n"))
}
