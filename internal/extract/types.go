package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/a3tai/mcp-capex-classifier/internal/schema"
)

// Extraction methods recorded per page
const (
	MethodLedongthuc = "ledongthuc"
	MethodPDFCPU     = "pdfcpu"
	MethodOCR        = "ocr"
	MethodDocAI      = "docai"
	MethodVision     = "vision"
)

// Values of Meta.Source
const (
	SourceLocal  = "local"
	SourceOCR    = "ocr"
	SourceDocAI  = "docai"
	SourceVision = "vision"
	SourceMixed  = "mixed"
)

// Warning codes
const (
	WarnTextTooShort        = "TEXT_TOO_SHORT"
	WarnStrategyUnavailable = "STRATEGY_UNAVAILABLE"
	WarnOCRFailed           = "OCR_FAILED"
)

// DefaultMinTextLength is the per-page rune count below which OCR is tried
// and a TEXT_TOO_SHORT warning is raised
const DefaultMinTextLength = 50

// ErrInvalidInput marks a missing, unreadable or non-PDF source file. It is
// the only extraction failure returned to callers.
var ErrInvalidInput = errors.New("invalid input file")

// Result is the output of one extraction call
type Result struct {
	Meta      Meta             `json:"meta"`
	Pages     []Page           `json:"pages"`
	LineItems []map[string]any `json:"line_items,omitempty"`
	Vendor    string           `json:"vendor,omitempty"`
	Total     *float64         `json:"total,omitempty"`
}

// Meta describes the source file and how it was extracted
type Meta struct {
	ExtractionID string    `json:"extraction_id"`
	Filename     string    `json:"filename"`
	SHA256       string    `json:"sha256"`
	NumPages     int       `json:"num_pages"`
	ExtractedAt  time.Time `json:"extracted_at"`
	Source       string    `json:"source"`
	Warnings     []Warning `json:"warnings"`
}

// Warning is an advisory diagnostic; it never blocks the pipeline
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Page    int    `json:"page,omitempty"`
}

// Table is a detected table as rows of cell texts
type Table [][]string

// Page is the per-page extraction output
type Page struct {
	Page     int              `json:"page"`
	Method   string           `json:"method"`
	Text     string           `json:"text"`
	Tables   []Table          `json:"tables"`
	Evidence []schema.Snippet `json:"evidence"`
}

// PageResults is what a strategy hands back to the extractor. Strategies
// that parse line items themselves (vision) set LineItems, which
// short-circuits table and text parsing downstream.
type PageResults struct {
	Pages     []Page
	LineItems []map[string]any
	Vendor    string
	Total     *float64
}

// Strategy is one pluggable extraction backend. A nil result or a non-nil
// error means the strategy is unavailable and the next one is tried.
type Strategy interface {
	Name() string
	Enabled() bool
	TryExtract(ctx context.Context, path string) (*PageResults, error)
}

// PageOCR recognises the text of a single page
type PageOCR interface {
	OCRPage(ctx context.Context, path string, page int) (string, error)
}

// StrategyError records why a strategy could not serve a request
type StrategyError struct {
	Strategy string `json:"strategy"`
	Op       string `json:"operation"`
	Err      error  `json:"error"`
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("extraction strategy %s failed in %s: %v", e.Strategy, e.Op, e.Err)
}

func (e *StrategyError) Unwrap() error {
	return e.Err
}
