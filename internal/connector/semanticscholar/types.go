package semanticscholar

// paper is the Graph API paper shape for the fields we request.
type paper struct {
	PaperID          string        `json:"paperId"`
	Title            string        `json:"title"`
	Abstract         string        `json:"abstract"`
	Year             int           `json:"year"`
	Venue            string        `json:"venue"`
	Authors          []paperAuthor `json:"authors"`
	CitationCount    int           `json:"citationCount"`
	FieldsOfStudy    []string      `json:"fieldsOfStudy"`
	PublicationTypes []string      `json:"publicationTypes"`
	PublicationDate  string        `json:"publicationDate"`
	Journal          *journal      `json:"journal"`
	ExternalIDs      *externalIDs  `json:"externalIds"`
	URL              string        `json:"url"`
	OpenAccessPDF    *openAccess   `json:"openAccessPdf"`
}

type paperAuthor struct {
	AuthorID string `json:"authorId"`
	Name     string `json:"name"`
}

type journal struct {
	Name   string `json:"name"`
	Volume string `json:"volume"`
	Pages  string `json:"pages"`
}

type externalIDs struct {
	DOI      string `json:"DOI"`
	ArXiv    string `json:"ArXiv"`
	PubMed   string `json:"PubMed"`
	CorpusID int64  `json:"CorpusId"`
}

type openAccess struct {
	URL    string `json:"url"`
	Status string `json:"status"`
}

type searchResponse struct {
	Total  int     `json:"total"`
	Offset int     `json:"offset"`
	Next   int     `json:"next"`
	Data   []paper `json:"data"`
}

type recommendationsResponse struct {
	RecommendedPapers []paper `json:"recommendedPapers"`
}
