// Package adapter normalises loosely-shaped document dictionaries (parser
// output, hand-written JSON, previously classified documents) into the
// frozen v1.0 schema. Adapt never fails: anything unrecognisable falls back
// to defaults.
package adapter

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/a3tai/mcp-capex-classifier/internal/schema"
)

// descriptionKeys are tried in order to find an item's description
var descriptionKeys = []string{"description", "item_description", "item", "name", "品名", "摘要", "内容"}

// summaryRow matches subtotal, tax, total and discount rows
var summaryRow = regexp.MustCompile(`^\s*(小計|消費税|合計|税込合計|税抜合計|値引|割引|出精値引)`)

// IsSummaryRow reports whether a description names a summary row
func IsSummaryRow(description string) bool {
	return summaryRow.MatchString(description)
}

// Adapt converts raw into a document. Summary rows are dropped before
// numbering, so line_no runs 1..N without gaps.
func Adapt(raw any) *schema.Document {
	doc := schema.NewDocument()

	root, ok := asMap(raw)
	if !ok {
		return doc
	}

	info, _ := asMap(root["document_info"])
	doc.DocumentInfo.Title = firstString(info["title"], root["title"])
	if doc.DocumentInfo.Title == "" {
		doc.DocumentInfo.Title = schema.DefaultTitle
	}
	doc.DocumentInfo.Date = firstString(info["date"], root["date"])
	doc.DocumentInfo.Vendor = schema.VendorPtr(firstString(info["vendor"], root["vendor"]))

	totals, _ := asMap(root["totals"])
	doc.Totals = schema.Totals{
		Subtotal: number(totals["subtotal"]),
		Tax:      number(totals["tax"]),
		Total:    number(totals["total"]),
	}
	if doc.Totals.Total == nil {
		doc.Totals.Total = number(root["total"])
	}

	for _, rawItem := range asList(root["line_items"]) {
		item, ok := asMap(rawItem)
		if !ok {
			continue
		}
		desc := description(item)
		if IsSummaryRow(desc) {
			continue
		}
		li := adaptItem(item, desc)
		li.LineNo = len(doc.LineItems) + 1
		doc.LineItems = append(doc.LineItems, li)
	}
	return doc
}

func adaptItem(item map[string]any, desc string) schema.LineItem {
	li := schema.LineItem{
		Description: desc,
		Quantity:    quantity(item["quantity"]),
		UnitPrice:   number(item["unit_price"]),
		Amount:      number(item["amount"]),
		Flags:       schema.Flags{},
	}

	if c, ok := item["classification"].(string); ok && schema.Classification(c).Valid() {
		li.Classification = schema.Classification(c)
	}
	li.LabelJA, _ = item["label_ja"].(string)
	li.RationaleJA, _ = item["rationale_ja"].(string)
	if c := number(item["confidence"]); c != nil {
		li.Confidence = math.Max(0, math.Min(1, *c))
	}
	for _, f := range asList(item["flags"]) {
		if s, ok := f.(string); ok {
			li.Flags.Add(s)
		}
	}

	li.Evidence = evidence(item["evidence"], desc)
	return li
}

func description(item map[string]any) string {
	for _, key := range descriptionKeys {
		if s, ok := item[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func evidence(raw any, desc string) schema.Evidence {
	ev := schema.Evidence{}
	if m, ok := asMap(raw); ok {
		ev.SourceText, _ = m["source_text"].(string)
		ev.PositionHint, _ = m["position_hint"].(string)
		for _, s := range asList(m["snippets"]) {
			sm, ok := asMap(s)
			if !ok {
				continue
			}
			text, _ := sm["snippet"].(string)
			method, _ := sm["method"].(string)
			page := number(sm["page"])
			if text == "" || page == nil {
				continue
			}
			ev.Snippets = append(ev.Snippets, schema.Snippet{Page: int(*page), Method: method, Snippet: text})
		}
	}
	if strings.TrimSpace(ev.SourceText) == "" {
		ev.SourceText = desc
	}
	return ev
}

// quantity keeps strings, prints integral numbers without a fraction and
// maps anything else to ""
func quantity(v any) string {
	switch q := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(q)
	case json.Number:
		if f, err := q.Float64(); err == nil {
			return formatNumber(f)
		}
		return q.String()
	}
	if f := number(v); f != nil {
		return formatNumber(*f)
	}
	return ""
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// number passes through numeric values only; strings are never parsed
func number(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func firstString(values ...any) string {
	for _, v := range values {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asList(v any) []any {
	switch l := v.(type) {
	case []any:
		return l
	case []map[string]any:
		out := make([]any, len(l))
		for i, m := range l {
			out[i] = m
		}
		return out
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out
	}
	return nil
}
