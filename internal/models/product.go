package models

// NotAvailable is the canonical placeholder for a field that every
// extraction tier failed to resolve.
const NotAvailable = "N/A"

// RecordSource tells where a record's fields came from.
type RecordSource string

const (
	// SourceDetail means the record was extracted from the product's own
	// detail page.
	SourceDetail RecordSource = "detail"
	// SourceSummary means the record was synthesized from the summary text
	// visible in a listing container after the detail fetch failed.
	SourceSummary RecordSource = "summary"
)

// Record is one extracted product. Every field other than URL, Source and
// Error is either a populated string or NotAvailable.
type Record struct {
	Title       string       `json:"title"`
	Price       string       `json:"price"`
	ASIN        string       `json:"asin"`
	Rating      string       `json:"rating"`
	ReviewCount string       `json:"reviewCount"`
	URL         string       `json:"url"`
	Source      RecordSource `json:"source,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// NewRecord returns a record for url with every field set to NotAvailable.
func NewRecord(url string) Record {
	return Record{
		Title:       NotAvailable,
		Price:       NotAvailable,
		ASIN:        NotAvailable,
		Rating:      NotAvailable,
		ReviewCount: NotAvailable,
		URL:         url,
	}
}

// Failed reports whether the record is an error-flagged list entry.
func (r *Record) Failed() bool {
	return r.Error != ""
}

// ListResult is the aggregate of a list expansion. Items never exceeds the
// configured item cap; failed entries stay in place, error-flagged.
type ListResult struct {
	Items        []Record `json:"items"`
	SuccessRatio float64  `json:"successRatio"`
}

// ComputeSuccessRatio recalculates SuccessRatio from the error-flagged
// entries currently in Items.
func (lr *ListResult) ComputeSuccessRatio() {
	if len(lr.Items) == 0 {
		lr.SuccessRatio = 0
		return
	}
	ok := 0
	for i := range lr.Items {
		if !lr.Items[i].Failed() {
			ok++
		}
	}
	lr.SuccessRatio = float64(ok) / float64(len(lr.Items))
}

// Outcome is the result of one scrape request: exactly one of Record or
// List is non-nil.
type Outcome struct {
	SessionID string      `json:"sessionId"`
	Record    *Record     `json:"record,omitempty"`
	List      *ListResult `json:"list,omitempty"`
}
