// Package extract turns a PDF into per-page text, tables and provenance
// snippets by walking a prioritised chain of strategies, then re-reading
// thin pages with OCR.
package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/a3tai/mcp-capex-classifier/internal/schema"
)

const (
	maxSnippetLines = 3
	maxSnippetRunes = 120
)

// Config tunes the extractor
type Config struct {
	MaxFileSize    int64
	MinTextLength  int
	OCREnabled     bool
	OCRConcurrency int
}

// Extractor runs the strategy chain for one file at a time. It holds no
// per-call state and may be shared across goroutines.
type Extractor struct {
	cfg        Config
	strategies []Strategy
	ocr        PageOCR
	validator  *Validator
	logger     *zap.Logger
	now        func() time.Time
}

// Option customises an Extractor
type Option func(*Extractor)

// WithOCR sets the page OCR backend used for thin pages
func WithOCR(ocr PageOCR) Option {
	return func(e *Extractor) { e.ocr = ocr }
}

// WithClock overrides the extraction timestamp source
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

// New creates an extractor that tries strategies in the given order
func New(cfg Config, strategies []Strategy, logger *zap.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = DefaultMinTextLength
	}
	if cfg.OCRConcurrency <= 0 {
		cfg.OCRConcurrency = 2
	}
	e := &Extractor{
		cfg:        cfg,
		strategies: strategies,
		validator:  NewValidator(cfg.MaxFileSize),
		logger:     logger.Named("extract"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract reads path and returns its pages. The only error is a wrapped
// ErrInvalidInput; every other problem degrades into warnings.
func (e *Extractor) Extract(ctx context.Context, path string) (*Result, error) {
	data, err := e.validator.readFile(path)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Meta: Meta{
			ExtractionID: uuid.NewString(),
			Filename:     filepath.Base(path),
			SHA256:       sha256Hex(data),
			ExtractedAt:  e.now().UTC(),
			Warnings:     []Warning{},
		},
		Pages: []Page{},
	}

	pr := e.runChain(ctx, path, res)
	if pr != nil {
		if pr.Pages != nil {
			res.Pages = pr.Pages
		}
		res.LineItems = pr.LineItems
		res.Vendor = pr.Vendor
		res.Total = pr.Total
	}

	if len(res.LineItems) == 0 {
		e.applyOCR(ctx, path, res)
		for _, p := range res.Pages {
			if n := textLength(p.Text); n < e.cfg.MinTextLength {
				res.Meta.Warnings = append(res.Meta.Warnings, Warning{
					Code:    WarnTextTooShort,
					Message: fmt.Sprintf("page %d has %d characters of text", p.Page, n),
					Page:    p.Page,
				})
			}
		}
	}

	for i := range res.Pages {
		res.Pages[i].Evidence = pageSnippets(res.Pages[i])
		if res.Pages[i].Tables == nil {
			res.Pages[i].Tables = []Table{}
		}
	}

	res.Meta.NumPages = len(res.Pages)
	if res.Meta.NumPages == 0 && len(res.LineItems) > 0 {
		res.Meta.NumPages = countPages(path)
	}
	res.Meta.Source = sourceOf(res)

	e.logger.Info("extraction finished",
		zap.String("extraction_id", res.Meta.ExtractionID),
		zap.String("file", res.Meta.Filename),
		zap.Int("pages", res.Meta.NumPages),
		zap.String("source", res.Meta.Source),
		zap.Int("warnings", len(res.Meta.Warnings)),
	)
	return res, nil
}

// runChain returns the first successful strategy result, or nil
func (e *Extractor) runChain(ctx context.Context, path string, res *Result) *PageResults {
	for _, s := range e.strategies {
		if s == nil || !s.Enabled() {
			continue
		}
		pr, err := e.tryStrategy(ctx, s, path)
		if err == nil && pr != nil {
			e.logger.Debug("strategy succeeded", zap.String("strategy", s.Name()))
			return pr
		}
		if err == nil {
			err = fmt.Errorf("no result")
		}
		e.logger.Warn("strategy unavailable", zap.String("strategy", s.Name()), zap.Error(err))
		res.Meta.Warnings = append(res.Meta.Warnings, Warning{
			Code:    WarnStrategyUnavailable,
			Message: fmt.Sprintf("%s: %v", s.Name(), err),
		})
	}
	return nil
}

func (e *Extractor) tryStrategy(ctx context.Context, s Strategy, path string) (pr *PageResults, err error) {
	defer func() {
		if r := recover(); r != nil {
			pr, err = nil, &StrategyError{Strategy: s.Name(), Op: "extract", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return s.TryExtract(ctx, path)
}

type ocrOutcome struct {
	ran  bool
	text string
	err  error
}

// applyOCR re-reads pages below the text threshold, in parallel, and keeps
// the OCR text when it is longer than what the parser found
func (e *Extractor) applyOCR(ctx context.Context, path string, res *Result) {
	if !e.cfg.OCREnabled || e.ocr == nil {
		return
	}

	outcomes := make([]ocrOutcome, len(res.Pages))
	var g errgroup.Group
	g.SetLimit(e.cfg.OCRConcurrency)
	for i := range res.Pages {
		if textLength(res.Pages[i].Text) >= e.cfg.MinTextLength {
			continue
		}
		num := res.Pages[i].Page
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					outcomes[i] = ocrOutcome{ran: true, err: fmt.Errorf("panic: %v", r)}
				}
			}()
			text, err := e.ocr.OCRPage(ctx, path, num)
			outcomes[i] = ocrOutcome{ran: true, text: text, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range outcomes {
		if !o.ran {
			continue
		}
		page := &res.Pages[i]
		if o.err != nil {
			e.logger.Warn("ocr failed", zap.Int("page", page.Page), zap.Error(o.err))
			res.Meta.Warnings = append(res.Meta.Warnings, Warning{
				Code:    WarnOCRFailed,
				Message: o.err.Error(),
				Page:    page.Page,
			})
			continue
		}
		text := strings.TrimSpace(o.text)
		if textLength(text) > textLength(page.Text) {
			page.Text = text
			page.Method = MethodOCR
		}
	}
}

// sourceOf summarises the methods used across pages
func sourceOf(res *Result) string {
	if len(res.Pages) == 0 {
		if len(res.LineItems) > 0 {
			return SourceVision
		}
		return SourceLocal
	}

	seen := map[string]bool{}
	for _, p := range res.Pages {
		seen[methodCategory(p.Method)] = true
	}
	if len(seen) > 1 {
		return SourceMixed
	}
	for k := range seen {
		return k
	}
	return SourceLocal
}

func methodCategory(method string) string {
	switch method {
	case MethodOCR:
		return SourceOCR
	case MethodDocAI:
		return SourceDocAI
	case MethodVision:
		return SourceVision
	default:
		return SourceLocal
	}
}

// pageSnippets keeps the first few non-empty lines of a page as evidence
func pageSnippets(p Page) []schema.Snippet {
	out := []schema.Snippet{}
	for _, line := range strings.Split(p.Text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, schema.Snippet{Page: p.Page, Method: p.Method, Snippet: truncateRunes(line, maxSnippetRunes)})
		if len(out) == maxSnippetLines {
			break
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// textLength counts non-whitespace runes
func textLength(s string) int {
	n := 0
	for _, r := range s {
		if r != ' ' && r != '\n' && r != '\t' && r != '\r' && r != '　' {
			n++
		}
	}
	return n
}
