package lineitems

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-capex-classifier/internal/extract"
)

const quoteText = "御 見 積 書\n" +
	"株式会社サンプル商事 御中\n" +
	"発行日 2025/04/01\n" +
	"㈱テック設備 〒100-0001 東京都千代田区\n"

func TestGuessDocInfo(t *testing.T) {
	info := GuessDocInfo([]extract.Page{{Page: 1, Text: quoteText}})

	assert.Equal(t, "御見積書", info.Title)
	assert.Equal(t, "2025-04-01", info.Date)
	assert.Equal(t, "(株)テック設備", info.Vendor)
}

func TestGuessDocInfo_Fallbacks(t *testing.T) {
	info := GuessDocInfo([]extract.Page{{Page: 1, Text: "\n工事のご案内\n2025年13月1日\n"}})
	assert.Equal(t, "工事のご案内", info.Title)
	assert.Empty(t, info.Date)
	assert.Empty(t, info.Vendor)

	assert.Equal(t, DocInfo{}, GuessDocInfo(nil))
}

func TestFromExtraction_TablePath(t *testing.T) {
	res := &extract.Result{
		Meta: extract.Meta{ExtractionID: "x-1", Filename: "quote.pdf", Source: extract.SourceLocal,
			Warnings: []extract.Warning{{Code: extract.WarnTextTooShort, Page: 2}}},
		Pages: []extract.Page{{
			Page:   1,
			Method: extract.MethodLedongthuc,
			Text:   quoteText,
			Tables: []extract.Table{{
				{"品名", "数量", "単価", "金額"},
				{"サーバー設置工事", "1", "500,000", "500,000"},
				{"年間保守契約", "1", "50,000", "50,000"},
				{"小計", "", "", "550,000"},
				{"消費税", "", "", "55,000"},
				{"合計", "", "", "605,000"},
			}},
		}},
	}

	doc := FromExtraction(res)

	assert.Equal(t, "御見積書", doc["title"])
	assert.Equal(t, "2025-04-01", doc["date"])
	assert.Equal(t, "(株)テック設備", doc["vendor"])

	items := doc["line_items"].([]any)
	require.Len(t, items, 2)
	first := items[0].(map[string]any)
	assert.Equal(t, "サーバー設置工事", first["description"])
	assert.Equal(t, "1", first["quantity"])
	assert.Equal(t, 500000.0, first["amount"])
	assert.Equal(t, []any{}, first["flags"])
	ev := first["evidence"].(map[string]any)
	assert.Equal(t, "page 1 row 2", ev["position_hint"])
	assert.Len(t, ev["snippets"], 1)

	totals := doc["totals"].(map[string]any)
	assert.Equal(t, 550000.0, totals["subtotal"])
	assert.Equal(t, 55000.0, totals["tax"])
	assert.Equal(t, 605000.0, totals["total"])

	meta := doc["meta"].(map[string]any)
	assert.Equal(t, "quote.pdf", meta["filename"])
	assert.Len(t, meta["warnings"], 1)
}

func TestFromExtraction_StrategyLineItems(t *testing.T) {
	total := 550000.0
	res := &extract.Result{
		LineItems: []map[string]any{
			{"description": "サーバー設置工事", "amount": 500000.0},
			{"description": "保守", "evidence": map[string]any{"source_text": "保守 50,000"}},
		},
		Vendor: "株式会社ビジョン",
		Total:  &total,
	}

	doc := FromExtraction(res)

	items := doc["line_items"].([]any)
	require.Len(t, items, 2)
	ev := items[0].(map[string]any)["evidence"].(map[string]any)
	assert.Equal(t, "サーバー設置工事", ev["source_text"])
	snippet := ev["snippets"].([]any)[0].(map[string]any)
	assert.Equal(t, 0, snippet["page"])
	assert.Equal(t, extract.MethodVision, snippet["method"])
	assert.Equal(t, "保守 50,000", items[1].(map[string]any)["evidence"].(map[string]any)["source_text"])

	assert.Equal(t, "株式会社ビジョン", doc["vendor"])
	assert.Equal(t, 550000.0, doc["totals"].(map[string]any)["total"])

	_, hasEvidence := res.LineItems[0]["evidence"]
	assert.False(t, hasEvidence, "input items are not mutated")
}

func TestFromExtraction_Empty(t *testing.T) {
	doc := FromExtraction(&extract.Result{})
	assert.Equal(t, []any{}, doc["line_items"])
	assert.Nil(t, doc["vendor"])

	assert.Equal(t, []any{}, FromExtraction(nil)["line_items"])
}
