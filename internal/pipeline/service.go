// Package pipeline wires extraction, line-item parsing, schema adaptation
// and classification into the operations the CLI and MCP server expose.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/a3tai/mcp-capex-classifier/internal/adapter"
	"github.com/a3tai/mcp-capex-classifier/internal/classifier"
	"github.com/a3tai/mcp-capex-classifier/internal/config"
	"github.com/a3tai/mcp-capex-classifier/internal/extract"
	"github.com/a3tai/mcp-capex-classifier/internal/lineitems"
	"github.com/a3tai/mcp-capex-classifier/internal/metrics"
	"github.com/a3tai/mcp-capex-classifier/internal/policy"
	"github.com/a3tai/mcp-capex-classifier/internal/schema"
)

// Outcome is the result of classifying one PDF
type Outcome struct {
	Document *schema.Document `json:"document"`
	Warnings []extract.Warning `json:"warnings"`
	Meta     extract.Meta      `json:"meta"`
}

// Service runs the full pipeline. It keeps no per-call state; the policy is
// loaded once and shared read-only.
type Service struct {
	extractor  *extract.Extractor
	classifier *classifier.Classifier
	policy     *policy.Policy
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

type options struct {
	strategies []extract.Strategy
	ocr        extract.PageOCR
	runner     extract.Runner
	client     *http.Client
	policy     *policy.Policy
	metrics    *metrics.Metrics
}

// Option customises how New assembles the service
type Option func(*options)

// WithStrategies replaces the configured strategy chain
func WithStrategies(strategies ...extract.Strategy) Option {
	return func(o *options) { o.strategies = strategies }
}

// WithPageOCR replaces the tesseract OCR backend
func WithPageOCR(ocr extract.PageOCR) Option {
	return func(o *options) { o.ocr = ocr }
}

// WithRunner sets the command runner shared by OCR and vision rendering
func WithRunner(runner extract.Runner) Option {
	return func(o *options) { o.runner = runner }
}

// WithHTTPClient sets the client used by the remote strategies
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.client = client }
}

// WithPolicy uses pol instead of loading cfg.PolicyPath
func WithPolicy(pol *policy.Policy) Option {
	return func(o *options) { o.policy = pol }
}

// WithMetrics records stage timings and classification counts on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New assembles the service from configuration. A nil cfg means defaults.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.runner == nil {
		o.runner = extract.ExecRunner{Logger: logger}
	}
	if o.policy == nil {
		o.policy = policy.Load(cfg.PolicyPath, logger)
	}
	if o.strategies == nil {
		o.strategies = Strategies(cfg, o.runner, o.client, logger)
	}
	if o.ocr == nil {
		o.ocr = extract.NewTesseractOCR(extract.OCRConfig{
			Pdftoppm:  cfg.OCR.Pdftoppm,
			Tesseract: cfg.OCR.Tesseract,
			Lang:      cfg.OCR.Lang,
			DPI:       cfg.OCR.DPI,
			Timeout:   cfg.OCR.Timeout,
		}, o.runner, logger)
	}

	ex := extract.New(extract.Config{
		MaxFileSize:    cfg.MaxFileSize,
		MinTextLength:  cfg.OCR.MinTextLength,
		OCREnabled:     cfg.OCR.Enabled,
		OCRConcurrency: cfg.OCR.Concurrency,
	}, o.strategies, logger, extract.WithOCR(o.ocr))

	cls := classifier.New(o.policy,
		classifier.WithAnnotateAllTaxRules(cfg.Classifier.AnnotateAllTaxRules),
		classifier.WithLogger(logger.Named("classifier")),
	)

	return &Service{
		extractor:  ex,
		classifier: cls,
		policy:     o.policy,
		metrics:    o.metrics,
		logger:     logger.Named("pipeline"),
	}
}

// Strategies builds the extraction chain in priority order: vision,
// document AI, then local. Disabled strategies stay in the chain and are
// skipped at run time.
func Strategies(cfg *config.Config, runner extract.Runner, client *http.Client, logger *zap.Logger) []extract.Strategy {
	return []extract.Strategy{
		extract.NewVisionStrategy(extract.VisionConfig{
			Enabled:  cfg.Vision.Enabled,
			BaseURL:  cfg.Vision.BaseURL,
			APIKey:   cfg.Vision.APIKey,
			Model:    cfg.Vision.Model,
			MaxPages: cfg.Vision.MaxPages,
			Pdftoppm: cfg.OCR.Pdftoppm,
			Timeout:  cfg.Vision.Timeout,
		}, runner, client, logger),
		extract.NewDocAIStrategy(extract.DocAIConfig{
			Enabled:  cfg.DocAI.Enabled,
			Endpoint: cfg.DocAI.Endpoint,
			Token:    cfg.DocAI.Token,
			Timeout:  cfg.DocAI.Timeout,
		}, client, logger),
		extract.NewLocalStrategy(logger),
	}
}

// Policy returns the policy the service classifies with
func (s *Service) Policy() *policy.Policy {
	return s.policy
}

// ExtractFile runs the extraction chain only
func (s *Service) ExtractFile(ctx context.Context, path string) (*extract.Result, error) {
	start := time.Now()
	res, err := s.extractor.Extract(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", path, err)
	}
	s.stageDone("extract", start)
	return res, nil
}

// ClassifyFile extracts, parses, adapts and classifies a PDF. Only invalid
// input is an error.
func (s *Service) ClassifyFile(ctx context.Context, path string) (*Outcome, error) {
	start := time.Now()
	res, err := s.ExtractFile(ctx, path)
	if err != nil {
		return nil, err
	}

	stage := time.Now()
	raw := lineitems.FromExtraction(res)
	s.stageDone("parse", stage)

	doc := s.classify(raw)

	warnings := res.Meta.Warnings
	if warnings == nil {
		warnings = []extract.Warning{}
	}
	for _, w := range warnings {
		s.metrics.ObserveWarning(w.Code)
	}
	s.metrics.ObserveDocument(res.Meta.Source, doc)
	s.logger.Info("document classified",
		zap.String("extraction_id", res.Meta.ExtractionID),
		zap.String("file", res.Meta.Filename),
		zap.Int("line_items", len(doc.LineItems)),
		zap.Int("warnings", len(warnings)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &Outcome{Document: doc, Warnings: warnings, Meta: res.Meta}, nil
}

// ClassifyRaw adapts a raw document dictionary and classifies it
func (s *Service) ClassifyRaw(raw any) *schema.Document {
	doc := s.classify(raw)
	s.metrics.ObserveDocument("", doc)
	return doc
}

func (s *Service) classify(raw any) *schema.Document {
	stage := time.Now()
	doc := adapter.Adapt(raw)
	s.stageDone("adapt", stage)

	stage = time.Now()
	s.classifier.ClassifyDocument(doc)
	s.stageDone("classify", stage, zap.Int("line_items", len(doc.LineItems)))
	return doc
}

func (s *Service) stageDone(stage string, start time.Time, fields ...zap.Field) {
	elapsed := time.Since(start)
	s.metrics.ObserveStage(stage, elapsed)
	s.logger.Debug("stage finished",
		append([]zap.Field{zap.String("stage", stage), zap.Duration("elapsed", elapsed)}, fields...)...)
}

// ClassifyJSON decodes a raw document from JSON and classifies it. Numbers
// keep their literal form until the adapter converts them.
func (s *Service) ClassifyJSON(data []byte) (*schema.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode document json: %w", err)
	}
	return s.ClassifyRaw(raw), nil
}
