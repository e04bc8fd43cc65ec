package arxiv

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/research-os/ragd/internal/domain"
)

var absIDPattern = regexp.MustCompile(`arxiv\.org/abs/(.+)$`)

// extractID pulls the bare arXiv id out of the Atom entry id URL, e.g.
// "http://arxiv.org/abs/1706.03762v7" yields "1706.03762v7". Inputs
// that do not look like abs URLs are returned unchanged.
func extractID(id string) string {
	if m := absIDPattern.FindStringSubmatch(id); m != nil {
		return m[1]
	}
	return id
}

// collapseWhitespace trims the text and folds internal whitespace runs,
// including the hard line breaks Atom carries inside titles and
// abstracts, into single spaces.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func pdfURL(links []link) string {
	for _, l := range links {
		if l.Title == "pdf" || l.Type == "application/pdf" {
			return l.Href
		}
	}
	return ""
}

func htmlURL(links []link) string {
	for _, l := range links {
		if l.Rel == "alternate" && l.Type == "text/html" {
			return l.Href
		}
	}
	return ""
}

// normalizeEntry converts one Atom entry into the canonical document.
func normalizeEntry(e entry) domain.Document {
	arxivID := extractID(e.ID)

	doc := domain.Document{
		Source:   sourceName,
		SourceID: arxivID,
		Title:    collapseWhitespace(e.Title),
		Abstract: collapseWhitespace(e.Summary),
		DOI:      e.DOI,
		ArxivID:  arxivID,
		Venue:    e.JournalRef,
		PDFURL:   pdfURL(e.Links),
		HTMLURL:  htmlURL(e.Links),
	}

	for _, a := range e.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			doc.Authors = append(doc.Authors, name)
		}
	}
	for _, c := range e.Categories {
		if c.Term != "" {
			doc.Categories = append(doc.Categories, c.Term)
		}
	}

	if published, err := time.Parse(time.RFC3339, e.Published); err == nil {
		doc.PublishedAt = published
		doc.Year = published.Year()
		doc.Month = int(published.Month())
	}

	if raw, err := json.Marshal(e); err == nil {
		doc.Raw = raw
	}

	return doc
}
