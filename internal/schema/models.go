package schema

import (
	"encoding/json"
	"strings"
)

// Version is the frozen document schema version
const Version = "1.0"

// DefaultTitle is used when a source document carries no recognisable title
const DefaultTitle = "見積書"

// Classification is the decision label attached to a line item
type Classification string

const (
	Unclassified Classification = ""
	CapitalLike  Classification = "CAPITAL_LIKE"
	ExpenseLike  Classification = "EXPENSE_LIKE"
	Guidance     Classification = "GUIDANCE"
)

// Valid reports whether c is one of the three terminal decision labels
func (c Classification) Valid() bool {
	switch c {
	case CapitalLike, ExpenseLike, Guidance:
		return true
	}
	return false
}

// LabelJA returns the Japanese display label for a classification
func LabelJA(c Classification) string {
	switch c {
	case CapitalLike:
		return "資産計上の可能性が高い"
	case ExpenseLike:
		return "費用処理の可能性が高い"
	case Guidance:
		return "要確認（判断保留）"
	default:
		return ""
	}
}

// Document is the normalized v1.0 representation of an invoice or estimate
type Document struct {
	Version      string       `json:"version"`
	DocumentInfo DocumentInfo `json:"document_info"`
	LineItems    []LineItem   `json:"line_items"`
	Totals       Totals       `json:"totals"`
}

// DocumentInfo holds header-level facts about the source document.
// Vendor is nil when unknown, never an empty string.
type DocumentInfo struct {
	Title  string  `json:"title"`
	Date   string  `json:"date"`
	Vendor *string `json:"vendor"`
}

// Totals holds the document-level summary amounts
type Totals struct {
	Subtotal *float64 `json:"subtotal"`
	Tax      *float64 `json:"tax"`
	Total    *float64 `json:"total"`
}

// LineItem is a single purchasable row of a document
type LineItem struct {
	LineNo         int            `json:"line_no"` // 1-based, dense after summary rows are dropped
	Description    string         `json:"description"`
	Quantity       string         `json:"quantity"`
	UnitPrice      *float64       `json:"unit_price"`
	Amount         *float64       `json:"amount"`
	Classification Classification `json:"classification"`
	LabelJA        string         `json:"label_ja"`
	RationaleJA    string         `json:"rationale_ja"`
	Confidence     float64        `json:"confidence"` // 0.0 to 1.0
	Flags          Flags          `json:"flags"`
	Evidence       Evidence       `json:"evidence"`
}

// Evidence links a line item back to the text it was derived from
type Evidence struct {
	SourceText   string    `json:"source_text"`
	PositionHint string    `json:"position_hint"`
	Snippets     []Snippet `json:"snippets,omitempty"`
}

// Snippet records extraction provenance for audit trails
type Snippet struct {
	Page    int    `json:"page"`
	Method  string `json:"method"`
	Snippet string `json:"snippet"`
}

// NewDocument returns an empty document with the fixed version and default title
func NewDocument() *Document {
	return &Document{
		Version:      Version,
		DocumentInfo: DocumentInfo{Title: DefaultTitle},
		LineItems:    []LineItem{},
	}
}

// Float returns a pointer to v
func Float(v float64) *float64 {
	return &v
}

// VendorPtr returns nil for blank vendor names and a trimmed pointer otherwise
func VendorPtr(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

// Flags is an ordered set of strings; duplicates and empty values are ignored
type Flags []string

// Add appends each flag not already present
func (f *Flags) Add(flags ...string) {
	for _, flag := range flags {
		if flag == "" || f.Has(flag) {
			continue
		}
		*f = append(*f, flag)
	}
}

// Has reports whether flag is present
func (f Flags) Has(flag string) bool {
	for _, v := range f {
		if v == flag {
			return true
		}
	}
	return false
}

// HasPrefix reports whether any flag starts with prefix
func (f Flags) HasPrefix(prefix string) bool {
	for _, v := range f {
		if strings.HasPrefix(v, prefix) {
			return true
		}
	}
	return false
}

// Without returns a copy without the flags that equal or start with any of prefixes
func (f Flags) Without(prefixes ...string) Flags {
	out := Flags{}
	for _, v := range f {
		drop := false
		for _, p := range prefixes {
			if strings.HasPrefix(v, p) {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, v)
		}
	}
	return out
}

// MarshalJSON always emits an array, never null
func (f Flags) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(f))
}

// UnmarshalJSON decodes an array and drops duplicates
func (f *Flags) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := Flags{}
	out.Add(raw...)
	*f = out
	return nil
}
