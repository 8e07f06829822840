package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"
)

// LocalStrategy extracts text with in-process PDF parsers: ledongthuc/pdf
// first, pdfcpu content streams when the first cannot open the file or
// finds no text at all. It is always enabled.
type LocalStrategy struct {
	logger *zap.Logger
}

// NewLocalStrategy creates the local extraction strategy
func NewLocalStrategy(logger *zap.Logger) *LocalStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalStrategy{logger: logger.Named("local")}
}

func (s *LocalStrategy) Name() string { return "local" }

func (s *LocalStrategy) Enabled() bool { return true }

func (s *LocalStrategy) TryExtract(ctx context.Context, path string) (*PageResults, error) {
	primary, perr := s.extractLedongthuc(ctx, path)
	if perr == nil && pagesRuneCount(primary) > 0 {
		return &PageResults{Pages: primary}, nil
	}

	secondary, serr := s.extractPDFCPU(ctx, path)
	switch {
	case serr == nil && (perr != nil || pagesRuneCount(secondary) > 0):
		if perr != nil {
			s.logger.Debug("primary parser failed, using pdfcpu", zap.String("path", path), zap.Error(perr))
		}
		return &PageResults{Pages: secondary}, nil
	case perr == nil:
		return &PageResults{Pages: primary}, nil
	}

	return nil, &StrategyError{
		Strategy: s.Name(),
		Op:       "open",
		Err:      fmt.Errorf("ledongthuc: %v; pdfcpu: %w", perr, serr),
	}
}

func (s *LocalStrategy) extractLedongthuc(ctx context.Context, path string) (pages []Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("panic while opening PDF: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	total := reader.NumPage()
	pages = make([]Page, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pages = append(pages, s.ledongthucPage(reader, i))
	}
	return pages, nil
}

// ledongthucPage never fails; a page that cannot be decoded comes back empty
func (s *LocalStrategy) ledongthucPage(reader *pdf.Reader, num int) (page Page) {
	page = Page{Page: num, Method: MethodLedongthuc, Tables: []Table{}}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("page decode panicked", zap.Int("page", num), zap.Any("panic", r))
			page.Text = ""
			page.Tables = []Table{}
		}
	}()

	p := reader.Page(num)
	if p.V.IsNull() {
		return page
	}

	var glyphs []Glyph
	if rows, err := p.GetTextByRow(); err == nil {
		for _, row := range rows {
			for _, t := range row.Content {
				glyphs = append(glyphs, Glyph{S: t.S, X: t.X, Y: t.Y, W: t.W, FontSize: t.FontSize})
			}
		}
	}

	cells := layoutRows(glyphs)
	page.Text = rowsText(cells)
	if strings.TrimSpace(page.Text) == "" {
		if plain, err := p.GetPlainText(nil); err == nil {
			page.Text = strings.TrimSpace(plain)
		}
	}
	if tables := detectTables(cells); len(tables) > 0 {
		page.Tables = tables
	}
	return page
}

func (s *LocalStrategy) extractPDFCPU(ctx context.Context, path string) (pages []Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("panic while reading PDF: %v", r)
		}
	}()

	pctx, err := readPDFCPUContext(path)
	if err != nil {
		return nil, err
	}

	pages = make([]Page, 0, pctx.PageCount)
	for i := 1; i <= pctx.PageCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pages = append(pages, Page{
			Page:   i,
			Method: MethodPDFCPU,
			Text:   s.pdfcpuPageText(pctx, i),
			Tables: []Table{},
		})
	}
	return pages, nil
}

func (s *LocalStrategy) pdfcpuPageText(pctx *model.Context, num int) (text string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("content stream decode panicked", zap.Int("page", num), zap.Any("panic", r))
			text = ""
		}
	}()

	r, err := pdfcpu.ExtractPageContent(pctx, num)
	if err != nil || r == nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return ""
	}
	return decodeContentStream(data)
}

func readPDFCPUContext(path string) (*model.Context, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pctx, err := api.ReadContext(f, conf)
	if err != nil {
		return nil, err
	}
	if err := pctx.EnsurePageCount(); err != nil {
		return nil, err
	}
	return pctx, nil
}

// countPages returns the page count or 0 when the file cannot be parsed
func countPages(path string) (n int) {
	defer func() {
		if recover() != nil {
			n = 0
		}
	}()
	pctx, err := readPDFCPUContext(path)
	if err != nil {
		return 0
	}
	return pctx.PageCount
}

func pagesRuneCount(pages []Page) int {
	n := 0
	for _, p := range pages {
		n += textLength(p.Text)
	}
	return n
}
