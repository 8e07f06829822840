package lineitems

import (
	"strings"

	"github.com/a3tai/mcp-capex-classifier/internal/extract"
	"github.com/a3tai/mcp-capex-classifier/internal/schema"
)

// FromExtraction builds the raw document dictionary the adapter consumes:
// title, date, vendor, line_items, totals and meta. Line items a strategy
// already produced are used as they are, with evidence filled in.
func FromExtraction(res *extract.Result) map[string]any {
	if res == nil {
		return map[string]any{"line_items": []any{}}
	}

	info := GuessDocInfo(res.Pages)
	var t totals
	var items []any

	if len(res.LineItems) > 0 {
		for _, raw := range res.LineItems {
			items = append(items, withEvidence(raw))
		}
	} else {
		var candidates []Candidate
		candidates, t = parse(res.Pages)
		for _, c := range candidates {
			items = append(items, c.Map())
		}
	}
	if items == nil {
		items = []any{}
	}

	if v := strings.TrimSpace(res.Vendor); v != "" {
		info.Vendor = v
	}
	if res.Total != nil && t.Total == nil {
		t.Total = res.Total
	}

	doc := map[string]any{
		"title":      info.Title,
		"date":       info.Date,
		"vendor":     nilIfEmpty(info.Vendor),
		"line_items": items,
		"totals": map[string]any{
			"subtotal": floatOrNil(t.Subtotal),
			"tax":      floatOrNil(t.Tax),
			"total":    floatOrNil(t.Total),
		},
		"meta": metaMap(res.Meta),
	}
	return doc
}

// Map renders the candidate in the raw-dictionary shape
func (c Candidate) Map() map[string]any {
	flags := make([]any, 0, len(c.Flags))
	for _, f := range c.Flags {
		flags = append(flags, f)
	}
	return map[string]any{
		"description": c.Description,
		"quantity":    c.Quantity,
		"unit_price":  floatOrNil(c.UnitPrice),
		"amount":      floatOrNil(c.Amount),
		"flags":       flags,
		"evidence":    evidenceMap(c.Evidence),
	}
}

func evidenceMap(ev schema.Evidence) map[string]any {
	snippets := make([]any, 0, len(ev.Snippets))
	for _, s := range ev.Snippets {
		snippets = append(snippets, map[string]any{
			"page":    s.Page,
			"method":  s.Method,
			"snippet": s.Snippet,
		})
	}
	return map[string]any{
		"source_text":   ev.SourceText,
		"position_hint": ev.PositionHint,
		"snippets":      snippets,
	}
}

// withEvidence copies a strategy-produced item and backfills vision
// provenance when it carries none
func withEvidence(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw)+1)
	for k, v := range raw {
		out[k] = v
	}
	if _, ok := out["evidence"].(map[string]any); ok {
		return out
	}
	desc, _ := out["description"].(string)
	out["evidence"] = evidenceMap(schema.Evidence{
		SourceText: desc,
		Snippets: []schema.Snippet{{
			Page:    0,
			Method:  extract.MethodVision,
			Snippet: truncateRunes(desc, snippetRunes),
		}},
	})
	return out
}

func metaMap(m extract.Meta) map[string]any {
	warnings := make([]any, 0, len(m.Warnings))
	for _, w := range m.Warnings {
		warnings = append(warnings, map[string]any{"code": w.Code, "message": w.Message, "page": w.Page})
	}
	return map[string]any{
		"extraction_id": m.ExtractionID,
		"filename":      m.Filename,
		"sha256":        m.SHA256,
		"num_pages":     m.NumPages,
		"source":        m.Source,
		"warnings":      warnings,
	}
}

func floatOrNil(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nilIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
