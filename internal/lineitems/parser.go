// Package lineitems turns extracted pages into raw line-item records: table
// rows first, free text lines when no table yields anything, and a single
// catch-all item as the last resort.
package lineitems

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/a3tai/mcp-capex-classifier/internal/extract"
	"github.com/a3tai/mcp-capex-classifier/internal/schema"
)

// Flags attached by the parser
const (
	FlagAmountComputed = "amount_computed"
	FlagCatchAll       = "catch_all"
)

const (
	dedupDescRunes   = 40
	snippetRunes     = 120
	minTextLineRunes = 2
	minTextAmount    = 10
	maxTextAmount    = 10_000_000_000
)

// Candidate is one parsed line item before schema adaptation
type Candidate struct {
	Page        int
	Description string
	Quantity    string
	UnitPrice   *float64
	Amount      *float64
	Evidence    schema.Evidence
	Flags       schema.Flags
}

type column int

const (
	colNone column = iota
	colDescription
	colQuantity
	colUnitPrice
	colAmount
)

var headerSynonyms = map[column][]string{
	colDescription: {"品名", "品目", "項目", "内容", "摘要", "名称", "品名・仕様", "件名", "description", "item"},
	colQuantity:    {"数量", "数", "qty", "quantity"},
	colUnitPrice:   {"単価", "unit price", "price"},
	colAmount:      {"金額", "合計金額", "小計金額", "価格", "amount", "total"},
}

// summaryKeywords mark subtotal, tax, total and discount rows
var summaryKeywords = []string{
	"小計", "合計", "総計", "消費税", "税込合計", "税抜合計", "税込", "税抜",
	"値引", "割引", "出精値引", "内消費税", "subtotal", "total", "tax",
}

var headerSuffix = regexp.MustCompile(`[（(\[【].*$`)

// Parse runs the table path, then the text path when tables yield nothing,
// then the catch-all when both are empty
func Parse(pages []extract.Page) []Candidate {
	items, _ := parse(pages)
	return items
}

func parse(pages []extract.Page) ([]Candidate, totals) {
	var t totals
	items := parseTables(pages, &t)
	if len(items) == 0 {
		items = parseText(pages, &t)
	}
	if len(items) == 0 {
		if c, ok := catchAll(pages); ok {
			items = []Candidate{c}
		}
	}
	return items, t
}

// ParseTables extracts candidates from detected tables
func ParseTables(pages []extract.Page) []Candidate {
	var t totals
	return parseTables(pages, &t)
}

// ParseText extracts candidates from free text lines
func ParseText(pages []extract.Page) []Candidate {
	var t totals
	return parseText(pages, &t)
}

func parseTables(pages []extract.Page, t *totals) []Candidate {
	seen := map[string]bool{}
	var out []Candidate
	for _, page := range pages {
		for _, table := range page.Tables {
			if len(table) < 2 {
				continue
			}
			for _, c := range parseTable(page, table, t) {
				if key := dedupKey(c); !seen[key] {
					seen[key] = true
					out = append(out, c)
				}
			}
		}
	}
	return out
}

func parseTable(page extract.Page, table extract.Table, t *totals) []Candidate {
	start := 0
	var mapping map[column]int
	for i, row := range table {
		if m := headerMapping(row); m != nil {
			mapping = m
			start = i + 1
			break
		}
	}

	var out []Candidate
	for i := start; i < len(table); i++ {
		row := table[i]
		m := mapping
		if m == nil {
			m = positionalMapping(len(row))
		}
		if summary, ok := summaryCell(row, m); ok {
			t.record(summary, rowAmount(row))
			continue
		}

		c, ok := rowCandidate(row, m)
		if !ok {
			continue
		}
		c.Page = page.Page
		source := strings.Join(nonEmpty(row), " ")
		c.Evidence = schema.Evidence{
			SourceText:   source,
			PositionHint: fmt.Sprintf("page %d row %d", page.Page, i+1),
			Snippets:     []schema.Snippet{{Page: page.Page, Method: page.Method, Snippet: truncateRunes(source, snippetRunes)}},
		}
		out = append(out, c)
	}
	return out
}

// headerMapping maps columns by header synonyms, or returns nil when the
// row is not a header
func headerMapping(row []string) map[column]int {
	m := map[column]int{}
	for idx, cell := range row {
		key := compact(headerSuffix.ReplaceAllString(Normalize(cell), ""))
		if key == "" {
			continue
		}
		for col, synonyms := range headerSynonyms {
			if _, taken := m[col]; taken {
				continue
			}
			for _, syn := range synonyms {
				if key == compact(syn) {
					m[col] = idx
					break
				}
			}
		}
	}
	if len(m) == 0 {
		return nil
	}
	if _, ok := m[colDescription]; !ok {
		used := map[int]bool{}
		for _, idx := range m {
			used[idx] = true
		}
		for idx := range row {
			if !used[idx] {
				m[colDescription] = idx
				break
			}
		}
	}
	return m
}

// positionalMapping guesses columns from the cell count alone
func positionalMapping(n int) map[column]int {
	switch {
	case n <= 1:
		return nil
	case n == 2:
		return map[column]int{colDescription: 0, colAmount: 1}
	case n == 3:
		return map[column]int{colDescription: 0, colQuantity: 1, colAmount: 2}
	default:
		return map[column]int{colDescription: 0, colQuantity: 1, colUnitPrice: 2, colAmount: n - 1}
	}
}

func cellAt(row []string, m map[column]int, col column) string {
	idx, ok := m[col]
	if !ok || idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func rowCandidate(row []string, m map[column]int) (Candidate, bool) {
	if m == nil {
		return Candidate{}, false
	}
	desc := cleanDescription(cellAt(row, m, colDescription))
	if desc == "" || isSummaryText(desc) {
		return Candidate{}, false
	}

	c := Candidate{
		Description: desc,
		Quantity:    normalizeQuantity(cellAt(row, m, colQuantity)),
		UnitPrice:   ParseNumber(cellAt(row, m, colUnitPrice)),
		Amount:      ParseNumber(cellAt(row, m, colAmount)),
		Flags:       schema.Flags{},
	}
	if c.Amount == nil && c.UnitPrice != nil {
		if q, ok := quantityValue(c.Quantity); ok {
			c.Amount = multiply(q, *c.UnitPrice)
			c.Flags.Add(FlagAmountComputed)
		}
	}
	if c.Amount == nil && c.UnitPrice == nil {
		return Candidate{}, false
	}
	return c, true
}

func multiply(qty, unit float64) *float64 {
	v, _ := decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(unit)).Round(2).Float64()
	return &v
}

// summaryCell reports whether the row's label is a summary keyword. The
// label is the description cell, or the first non-numeric cell when the
// description is blank (totals often sit under the unit price column).
func summaryCell(row []string, m map[column]int) (string, bool) {
	label := cellAt(row, m, colDescription)
	if label == "" || ParseNumber(label) != nil {
		label = ""
		for _, cell := range row {
			cell = strings.TrimSpace(cell)
			if cell != "" && ParseNumber(cell) == nil {
				label = cell
				break
			}
		}
	}
	if isSummaryText(label) {
		return label, true
	}
	return "", false
}

// rowAmount is the last parseable number in the row
func rowAmount(row []string) *float64 {
	for i := len(row) - 1; i >= 0; i-- {
		if v := ParseNumber(row[i]); v != nil {
			return v
		}
	}
	return nil
}

// isSummaryText matches summary keywords exactly or as a prefix. ASCII
// keywords must not run into further letters, so "taxi" is not "tax".
func isSummaryText(s string) bool {
	key := compact(s)
	if key == "" {
		return false
	}
	for _, kw := range summaryKeywords {
		if key == kw {
			return true
		}
		if !strings.HasPrefix(key, kw) {
			continue
		}
		next, _ := utf8.DecodeRuneInString(key[len(kw):])
		if kw[0] < utf8.RuneSelf && next < utf8.RuneSelf && unicode.IsLetter(next) {
			continue
		}
		return true
	}
	return false
}

var (
	textNumber   = regexp.MustCompile(`[▲△-]?\d[\d,]*(?:\.\d+)?`)
	numberUnit   = regexp.MustCompile(`[▲△-]?\d[\d,]*(?:\.\d+)?\s*(?:式|台|個|本|枚|回|件|名|人|時間|ヶ月|か月|ヵ月|セット|set|pcs)?`)
	currencyMark = regexp.MustCompile(`[¥￥$\\]|円|-$`)
	spaceRun     = regexp.MustCompile(`\s+`)
	datePattern  = regexp.MustCompile(`(\d{4})\s*[年/\-.]\s*(\d{1,2})\s*[月/\-.]\s*(\d{1,2})\s*日?`)
	phonePattern = regexp.MustCompile(`(?i)(^|[^a-z])(tel|fax)([^a-z]|$)|電話|〒|\d{2,4}-\d{2,4}-\d{3,4}`)
)

func parseText(pages []extract.Page, t *totals) []Candidate {
	seen := map[string]bool{}
	var out []Candidate
	for _, page := range pages {
		for i, raw := range strings.Split(page.Text, "\n") {
			line := strings.TrimSpace(Normalize(raw))
			if utf8.RuneCountInString(line) < minTextLineRunes || phonePattern.MatchString(line) {
				continue
			}
			// dates are dropped so they are not read as amounts
			body := strings.TrimSpace(datePattern.ReplaceAllString(line, " "))

			amount := lineAmount(body)
			if isSummaryText(body) {
				t.record(body, amount)
				continue
			}
			if amount == nil {
				continue
			}

			desc := cleanDescription(numberUnit.ReplaceAllString(body, " "))
			if desc == "" {
				desc = placeholderDescription(*amount)
			}
			c := Candidate{
				Page:        page.Page,
				Description: desc,
				Amount:      amount,
				Flags:       schema.Flags{},
				Evidence: schema.Evidence{
					SourceText:   line,
					PositionHint: fmt.Sprintf("page %d line %d", page.Page, i+1),
					Snippets:     []schema.Snippet{{Page: page.Page, Method: page.Method, Snippet: truncateRunes(line, snippetRunes)}},
				},
			}
			if key := dedupKey(c); !seen[key] {
				seen[key] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// lineAmount is the last number on the line inside the plausible range
func lineAmount(line string) *float64 {
	var amount *float64
	for _, m := range textNumber.FindAllString(line, -1) {
		v := ParseNumber(m)
		if v == nil || *v <= minTextAmount || *v >= maxTextAmount {
			continue
		}
		amount = v
	}
	return amount
}

func cleanDescription(s string) string {
	s = currencyMark.ReplaceAllString(Normalize(s), " ")
	s = spaceRun.ReplaceAllString(s, " ")
	return strings.Trim(s, " :：・-")
}

func placeholderDescription(amount float64) string {
	return fmt.Sprintf("項目（¥%s）", decimal.NewFromFloat(amount).StringFixedBank(0))
}

func catchAll(pages []extract.Page) (Candidate, bool) {
	var parts []string
	first := 0
	method := ""
	for _, p := range pages {
		if text := strings.TrimSpace(p.Text); text != "" {
			if first == 0 {
				first, method = p.Page, p.Method
			}
			parts = append(parts, text)
		}
	}
	text := strings.TrimSpace(strings.Join(parts, "\n"))
	if text == "" {
		return Candidate{}, false
	}
	flags := schema.Flags{}
	flags.Add(FlagCatchAll)
	return Candidate{
		Page:        first,
		Description: text,
		Flags:       flags,
		Evidence: schema.Evidence{
			SourceText:   text,
			PositionHint: fmt.Sprintf("page %d", first),
			Snippets:     []schema.Snippet{{Page: first, Method: method, Snippet: truncateRunes(text, snippetRunes)}},
		},
	}, true
}

func dedupKey(c Candidate) string {
	amount := "nil"
	if c.Amount != nil {
		amount = fmt.Sprintf("%d", int64(math.Round(*c.Amount)))
	}
	return fmt.Sprintf("%d|%s|%s", c.Page, truncateRunes(c.Description, dedupDescRunes), amount)
}

func nonEmpty(cells []string) []string {
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
