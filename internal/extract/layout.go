package extract

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"
)

// Layout constants for table detection
const (
	rowTolerance          = 3.0
	minCellGap            = 6.0
	cellGapFontRatio      = 1.2
	estimatedGlyphRatio   = 0.9
	minColumnsForTable    = 3
	minRowsForTable       = 2
	minimumTableAgreement = 0.5
)

// Glyph is one positioned text run on a page
type Glyph struct {
	S        string
	X        float64
	Y        float64
	W        float64
	FontSize float64
}

func (g Glyph) width() float64 {
	if g.W > 0 {
		return g.W
	}
	size := g.FontSize
	if size <= 0 {
		size = 10
	}
	return float64(utf8.RuneCountInString(g.S)) * size * estimatedGlyphRatio
}

// groupGlyphsByRow sorts glyphs top to bottom and merges those whose
// baselines are within tolerance into one row
func groupGlyphsByRow(glyphs []Glyph, tolerance float64) [][]Glyph {
	if len(glyphs) == 0 {
		return nil
	}

	sorted := make([]Glyph, len(glyphs))
	copy(sorted, glyphs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Y > sorted[j].Y
	})

	var rows [][]Glyph
	current := []Glyph{sorted[0]}
	currentY := sorted[0].Y
	for _, g := range sorted[1:] {
		if math.Abs(g.Y-currentY) <= tolerance {
			current = append(current, g)
			continue
		}
		rows = append(rows, current)
		current = []Glyph{g}
		currentY = g.Y
	}
	rows = append(rows, current)

	for _, row := range rows {
		sort.SliceStable(row, func(i, j int) bool { return row[i].X < row[j].X })
	}
	return rows
}

// splitCells joins a row's glyphs left to right, starting a new cell
// wherever the horizontal gap is wider than a couple of characters
func splitCells(row []Glyph) []string {
	var cells []string
	var b strings.Builder
	end := math.Inf(-1)

	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			cells = append(cells, s)
		}
		b.Reset()
	}

	for _, g := range row {
		gap := math.Max(minCellGap, g.FontSize*cellGapFontRatio)
		if b.Len() > 0 && g.X-end > gap {
			flush()
			end = math.Inf(-1)
		}
		b.WriteString(g.S)
		end = math.Max(end, g.X+g.width())
	}
	flush()
	return cells
}

// layoutRows converts glyphs into rows of cells
func layoutRows(glyphs []Glyph) [][]string {
	var out [][]string
	for _, row := range groupGlyphsByRow(glyphs, rowTolerance) {
		if cells := splitCells(row); len(cells) > 0 {
			out = append(out, cells)
		}
	}
	return out
}

// rowsText renders rows as page text, cells separated by two spaces
func rowsText(rows [][]string) string {
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, strings.Join(row, "  "))
	}
	return strings.Join(lines, "\n")
}

// detectTables returns every run of consecutive multi-column rows that
// agrees on a column count often enough to look like a table
func detectTables(rows [][]string) []Table {
	var tables []Table
	var run [][]string

	closeRun := func() {
		if t, ok := analyzeTableStructure(run); ok {
			tables = append(tables, t)
		}
		run = nil
	}

	for _, row := range rows {
		if len(row) >= minColumnsForTable {
			run = append(run, row)
			continue
		}
		closeRun()
	}
	closeRun()
	return tables
}

func analyzeTableStructure(rows [][]string) (Table, bool) {
	if len(rows) < minRowsForTable {
		return nil, false
	}

	colCounts := make(map[int]int)
	for _, row := range rows {
		colCounts[len(row)]++
	}
	maxCount := 0
	for _, frequency := range colCounts {
		if frequency > maxCount {
			maxCount = frequency
		}
	}

	confidence := float64(maxCount) / float64(len(rows))
	if confidence < minimumTableAgreement {
		return nil, false
	}

	table := make(Table, len(rows))
	for i, row := range rows {
		table[i] = append([]string(nil), row...)
	}
	return table, true
}
