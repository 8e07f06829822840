package lineitems

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/a3tai/mcp-capex-classifier/internal/extract"
)

// totals collects summary-row amounts; the first value seen for each wins
type totals struct {
	Subtotal *float64
	Tax      *float64
	Total    *float64
}

func (t *totals) record(label string, amount *float64) {
	if amount == nil {
		return
	}
	key := compact(label)
	switch {
	case hasAnyPrefix(key, "小計", "税抜合計", "税抜", "subtotal"):
		if t.Subtotal == nil {
			t.Subtotal = amount
		}
	case hasAnyPrefix(key, "消費税", "内消費税", "tax"):
		if t.Tax == nil {
			t.Tax = amount
		}
	case hasAnyPrefix(key, "合計", "総計", "税込合計", "税込", "total"):
		if t.Total == nil {
			t.Total = amount
		}
	}
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// DocInfo holds header facts guessed from page text
type DocInfo struct {
	Title  string
	Date   string
	Vendor string
}

var (
	titleKeywords   = []string{"御見積書", "見積書", "請求書", "納品書", "御見積"}
	companyMarkers  = []string{"株式会社", "有限会社", "(株)", "(有)", "合同会社"}
	recipientSuffix = []string{"御中", "様", "殿"}
)

const maxTitleRunes = 30

// GuessDocInfo scans page text for a title, an issue date and the vendor
func GuessDocInfo(pages []extract.Page) DocInfo {
	var info DocInfo
	var firstLine string
	for _, page := range pages {
		for _, raw := range strings.Split(page.Text, "\n") {
			line := strings.TrimSpace(Normalize(raw))
			if line == "" {
				continue
			}
			if firstLine == "" {
				firstLine = line
			}
			squeezed := compact(line)

			if info.Title == "" {
				for _, kw := range titleKeywords {
					if strings.Contains(squeezed, kw) {
						info.Title = titleFrom(squeezed, kw)
						break
					}
				}
			}
			if info.Date == "" {
				info.Date = isoDate(line)
			}
			if info.Vendor == "" {
				info.Vendor = vendorFrom(line)
			}
		}
	}
	if info.Title == "" && utf8.RuneCountInString(firstLine) <= maxTitleRunes {
		info.Title = firstLine
	}
	return info
}

func titleFrom(squeezed, kw string) string {
	if utf8.RuneCountInString(squeezed) <= maxTitleRunes {
		return squeezed
	}
	return kw
}

// isoDate converts the first YYYY年M月D日, YYYY/MM/DD or YYYY-MM-DD on the
// line to YYYY-MM-DD
func isoDate(line string) string {
	m := datePattern.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	y, _ := strconv.Atoi(m[1])
	mo, _ := strconv.Atoi(m[2])
	d, _ := strconv.Atoi(m[3])
	if mo < 1 || mo > 12 || d < 1 || d > 31 {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", y, mo, d)
}

func vendorFrom(line string) string {
	hasMarker := false
	for _, mk := range companyMarkers {
		if strings.Contains(line, mk) {
			hasMarker = true
			break
		}
	}
	if !hasMarker {
		return ""
	}
	trimmed := strings.TrimSpace(line)
	for _, suffix := range recipientSuffix {
		if strings.HasSuffix(trimmed, suffix) {
			return ""
		}
	}
	// drop address or phone tails after the company name
	if i := strings.IndexAny(trimmed, "〒\t"); i > 0 {
		trimmed = strings.TrimSpace(trimmed[:i])
	}
	if f := strings.Fields(trimmed); len(f) > 0 && utf8.RuneCountInString(trimmed) > maxTitleRunes {
		trimmed = f[0]
	}
	return trimmed
}
