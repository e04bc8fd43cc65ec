package domain

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Document is the canonical normalized record of one ingested paper.
// Connectors build it from raw API payloads; nothing raw-shaped crosses
// past the connector boundary. Immutable once created except for
// metadata enrichment.
type Document struct {
	Source   string // connector that produced it, e.g. "arxiv"
	SourceID string // source-local identifier

	Title    string
	Abstract string // body text used for chunking
	Authors  []string

	Year       int
	Month      int
	Venue      string
	DOI        string
	ArxivID    string
	Categories []string
	Citations  int

	PDFURL  string
	HTMLURL string

	PublishedAt time.Time

	// Metadata is an open key/value bag carried onto every chunk so a
	// retrieved chunk is self-describing for citation purposes.
	Metadata map[string]string

	// Raw retains the original payload for audit.
	Raw json.RawMessage
}

// Key returns the stable composite identifier "source:sourceID".
func (d Document) Key() string {
	return d.Source + ":" + d.SourceID
}

// Validate checks the invariants required before a document may enter
// the retrieval pipeline.
func (d Document) Validate() error {
	if d.Source == "" || d.SourceID == "" {
		return NewValidation("document is missing source identity")
	}
	if strings.TrimSpace(d.Abstract) == "" {
		return NewValidation("document " + d.Key() + " has no body text")
	}
	return nil
}

// ChunkMetadata builds the metadata bag propagated onto chunks. Explicit
// document fields win over free-form metadata entries on key collisions.
func (d Document) ChunkMetadata() map[string]string {
	m := make(map[string]string, len(d.Metadata)+4)
	for k, v := range d.Metadata {
		m[k] = v
	}
	m["title"] = d.Title
	m["source"] = d.Source
	if d.Year > 0 {
		m["year"] = strconv.Itoa(d.Year)
	}
	if d.Venue != "" {
		m["venue"] = d.Venue
	}
	return m
}
