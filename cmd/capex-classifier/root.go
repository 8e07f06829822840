package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/a3tai/mcp-capex-classifier/internal/config"
	"github.com/a3tai/mcp-capex-classifier/internal/logging"
	"github.com/a3tai/mcp-capex-classifier/internal/metrics"
	"github.com/a3tai/mcp-capex-classifier/internal/pipeline"
)

// app carries what the persistent pre-run builds for every subcommand
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	service *pipeline.Service
	metrics *metrics.Metrics
	opts    []pipeline.Option
}

func newRootCmd(opts ...pipeline.Option) *cobra.Command {
	a := &app{opts: opts}

	root := &cobra.Command{
		Use:   "capex-classifier",
		Short: "Classify Japanese estimate and invoice line items as capital or expense",
		Long: `capex-classifier extracts line items from 見積書 / 請求書 PDFs and labels each
one CAPITAL_LIKE, EXPENSE_LIKE or GUIDANCE using keyword rules, an optional
policy file and Japanese depreciation amount thresholds.

Run "capex-classifier serve" to expose the same pipeline as MCP tools over stdio.`,
		Version:           version,
		SilenceUsage:      true,
		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = logging.Sync(a.logger)
		},
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newExtractCmd(a),
		newClassifyCmd(a),
		newClassifyJSONCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	if version != "dev" {
		cfg.Version = version
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("configuration loaded", zap.Stringer("config", cfg))

	a.cfg = cfg
	a.logger = logger
	opts := a.opts
	if cfg.MetricsAddr != "" {
		a.metrics = metrics.New()
		opts = append([]pipeline.Option{pipeline.WithMetrics(a.metrics)}, opts...)
	}
	a.service = pipeline.New(cfg, logger, opts...)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
