package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/a3tai/mcp-capex-classifier/internal/export"
	"github.com/a3tai/mcp-capex-classifier/internal/schema"
)

func newExtractCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "extract <pdf>",
		Short: "Extract pages, text and tables from a PDF as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.service.ExtractFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newClassifyCmd(a *app) *cobra.Command {
	var xlsxPath string

	cmd := &cobra.Command{
		Use:   "classify <pdf>",
		Short: "Extract and classify the line items of a PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.service.ClassifyFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if xlsxPath != "" {
				if err := writeXLSX(xlsxPath, out.Document); err != nil {
					return err
				}
				a.logger.Info("xlsx written", zap.String("path", xlsxPath))
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Also write the classified document to this XLSX file")
	return cmd
}

func newClassifyJSONCmd(a *app) *cobra.Command {
	var xlsxPath string

	cmd := &cobra.Command{
		Use:   "classify-json <file|->",
		Short: "Classify a document already structured as JSON",
		Long:  `Reads a JSON document (line_items plus optional document_info, vendor and totals) from a file, or from stdin when the argument is "-", and prints the classified document.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			doc, err := a.service.ClassifyJSON(data)
			if err != nil {
				return err
			}
			if xlsxPath != "" {
				if err := writeXLSX(xlsxPath, doc); err != nil {
					return err
				}
			}
			return writeJSON(cmd.OutOrStdout(), doc)
		},
	}
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Also write the classified document to this XLSX file")
	return cmd
}

func readInput(stdin io.Reader, arg string) ([]byte, error) {
	if arg == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", arg, err)
	}
	return data, nil
}

func writeXLSX(path string, doc *schema.Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create xlsx directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create xlsx file: %w", err)
	}
	if err := export.WriteXLSX(doc, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
