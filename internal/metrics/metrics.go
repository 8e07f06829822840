// Package metrics exposes Prometheus collectors for the classification
// pipeline.
//
// All metrics are prefixed with "capex_":
//   - capex_stage_duration_seconds{stage} - time spent per pipeline stage
//   - capex_documents_total{source} - documents classified, by extraction source
//   - capex_line_items_total{classification} - classified line items
//   - capex_flags_total{flag} - engine flags attached, by flag family
//   - capex_extraction_warnings_total{code} - extraction warnings
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/a3tai/mcp-capex-classifier/internal/schema"
)

// Metrics holds the pipeline collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	StageDuration *prometheus.HistogramVec
	Documents     *prometheus.CounterVec
	LineItems     *prometheus.CounterVec
	Flags         *prometheus.CounterVec
	Warnings      *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegisterer(reg)
}

// NewWithRegisterer registers the collectors on reg
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "capex_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			},
			[]string{"stage"}, // extract, parse, adapt, classify
		),
		Documents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capex_documents_total",
				Help: "Total number of documents classified",
			},
			[]string{"source"},
		),
		LineItems: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capex_line_items_total",
				Help: "Total number of classified line items",
			},
			[]string{"classification"},
		),
		Flags: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capex_flags_total",
				Help: "Total number of flags attached to line items",
			},
			[]string{"flag"},
		),
		Warnings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capex_extraction_warnings_total",
				Help: "Total number of extraction warnings",
			},
			[]string{"code"},
		),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// ObserveStage records how long a stage took
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ObserveWarning counts one extraction warning
func (m *Metrics) ObserveWarning(code string) {
	if m == nil {
		return
	}
	m.Warnings.WithLabelValues(code).Inc()
}

// ObserveDocument counts a classified document and its items. source is
// empty for documents that did not come from a PDF.
func (m *Metrics) ObserveDocument(source string, doc *schema.Document) {
	if m == nil || doc == nil {
		return
	}
	if source == "" {
		source = "json"
	}
	m.Documents.WithLabelValues(source).Inc()
	for _, item := range doc.LineItems {
		m.LineItems.WithLabelValues(string(item.Classification)).Inc()
		for _, f := range item.Flags {
			m.Flags.WithLabelValues(flagFamily(f)).Inc()
		}
	}
}

// flagFamily drops the keyword part of a flag so label values stay bounded.
// Tax rules keep their id.
func flagFamily(flag string) string {
	prefix, rest, found := strings.Cut(flag, ":")
	if !found {
		return flag
	}
	if prefix == "tax_rule" {
		return flag
	}
	if prefix == "policy" {
		kind, _, _ := strings.Cut(rest, ":")
		return prefix + ":" + kind
	}
	return prefix
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	if logger != nil {
		logger.Info("metrics endpoint listening", zap.String("addr", addr), zap.String("path", "/metrics"))
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
