// Package export renders classified documents as XLSX workbooks for review.
package export

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/a3tai/mcp-capex-classifier/internal/schema"
)

const (
	ItemsSheet = "明細"
	InfoSheet  = "文書情報"
)

var itemHeaders = []string{"No", "品名", "数量", "単価", "金額", "判定", "ラベル", "信頼度", "フラグ", "根拠"}

// WriteXLSX writes doc as a workbook to w
func WriteXLSX(doc *schema.Document, w io.Writer) error {
	f, err := build(doc)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

// XLSXBytes returns doc as workbook bytes
func XLSXBytes(doc *schema.Document) ([]byte, error) {
	f, err := build(doc)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func build(doc *schema.Document) (*excelize.File, error) {
	if doc == nil {
		return nil, errors.New("xlsx export: nil document")
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", ItemsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(InfoSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("create sheet %s: %w", InfoSheet, err)
	}

	if err := writeItems(f, doc.LineItems); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeInfo(f, doc); err != nil {
		f.Close()
		return nil, err
	}

	index, _ := f.GetSheetIndex(ItemsSheet)
	f.SetActiveSheet(index)
	return f, nil
}

func writeItems(f *excelize.File, items []schema.LineItem) error {
	if err := f.SetSheetRow(ItemsSheet, "A1", &itemHeaders); err != nil {
		return fmt.Errorf("write headers: %w", err)
	}
	for i, li := range items {
		row := []any{
			li.LineNo,
			li.Description,
			li.Quantity,
			cellNumber(li.UnitPrice),
			cellNumber(li.Amount),
			string(li.Classification),
			li.LabelJA,
			li.Confidence,
			strings.Join(li.Flags, ", "),
			li.RationaleJA,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(ItemsSheet, cell, &row); err != nil {
			return fmt.Errorf("write line %d: %w", li.LineNo, err)
		}
	}

	_ = f.SetColWidth(ItemsSheet, "A", "A", 6)  // no
	_ = f.SetColWidth(ItemsSheet, "B", "B", 36) // description
	_ = f.SetColWidth(ItemsSheet, "C", "C", 10)
	_ = f.SetColWidth(ItemsSheet, "D", "E", 14) // amounts
	_ = f.SetColWidth(ItemsSheet, "F", "G", 22)
	_ = f.SetColWidth(ItemsSheet, "H", "H", 8)
	_ = f.SetColWidth(ItemsSheet, "I", "I", 40)
	_ = f.SetColWidth(ItemsSheet, "J", "J", 60) // rationale
	return nil
}

func writeInfo(f *excelize.File, doc *schema.Document) error {
	vendor := ""
	if doc.DocumentInfo.Vendor != nil {
		vendor = *doc.DocumentInfo.Vendor
	}
	rows := [][]any{
		{"バージョン", doc.Version},
		{"件名", doc.DocumentInfo.Title},
		{"日付", doc.DocumentInfo.Date},
		{"取引先", vendor},
		{"小計", cellNumber(doc.Totals.Subtotal)},
		{"消費税", cellNumber(doc.Totals.Tax)},
		{"合計", cellNumber(doc.Totals.Total)},
		{"明細件数", len(doc.LineItems)},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(InfoSheet, cell, &row); err != nil {
			return fmt.Errorf("write document info: %w", err)
		}
	}
	_ = f.SetColWidth(InfoSheet, "A", "A", 14)
	_ = f.SetColWidth(InfoSheet, "B", "B", 40)
	return nil
}

// cellNumber leaves missing amounts blank
func cellNumber(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
