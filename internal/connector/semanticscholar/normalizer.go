package semanticscholar

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/research-os/ragd/internal/domain"
)

// normalizePaper converts a Graph API paper into the canonical document.
// Papers frequently arrive with null abstracts or dates; missing fields
// stay zero rather than being invented.
func normalizePaper(p paper) domain.Document {
	doc := domain.Document{
		Source:     sourceName,
		SourceID:   p.PaperID,
		Title:      strings.TrimSpace(p.Title),
		Abstract:   strings.TrimSpace(p.Abstract),
		Year:       p.Year,
		Venue:      p.Venue,
		Citations:  p.CitationCount,
		HTMLURL:    p.URL,
		Categories: p.PublicationTypes,
		Metadata:   map[string]string{},
	}

	for _, a := range p.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			doc.Authors = append(doc.Authors, name)
		}
	}

	if doc.Venue == "" && p.Journal != nil {
		doc.Venue = p.Journal.Name
	}
	if p.ExternalIDs != nil {
		doc.DOI = p.ExternalIDs.DOI
		doc.ArxivID = p.ExternalIDs.ArXiv
		if p.ExternalIDs.PubMed != "" {
			doc.Metadata["pubmed_id"] = p.ExternalIDs.PubMed
		}
	}
	if p.OpenAccessPDF != nil {
		doc.PDFURL = p.OpenAccessPDF.URL
	}
	if len(p.FieldsOfStudy) > 0 {
		doc.Metadata["fields_of_study"] = strings.Join(p.FieldsOfStudy, ",")
	}

	if p.PublicationDate != "" {
		if published, err := time.Parse("2006-01-02", p.PublicationDate); err == nil {
			doc.PublishedAt = published
			doc.Month = int(published.Month())
			if doc.Year == 0 {
				doc.Year = published.Year()
			}
		}
	}

	if raw, err := json.Marshal(p); err == nil {
		doc.Raw = raw
	}

	return doc
}
