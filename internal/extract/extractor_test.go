package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStrategy struct {
	name    string
	enabled bool
	result  *PageResults
	err     error
	panics  bool
	calls   int
}

func (f *fakeStrategy) Name() string  { return f.name }
func (f *fakeStrategy) Enabled() bool { return f.enabled }

func (f *fakeStrategy) TryExtract(context.Context, string) (*PageResults, error) {
	f.calls++
	if f.panics {
		panic("boom")
	}
	return f.result, f.err
}

type fakeOCR struct {
	mu    sync.Mutex
	texts map[int]string
	errs  map[int]error
	pages []int
}

func (f *fakeOCR) OCRPage(_ context.Context, _ string, page int) (string, error) {
	f.mu.Lock()
	f.pages = append(f.pages, page)
	f.mu.Unlock()
	if err := f.errs[page]; err != nil {
		return "", err
	}
	return f.texts[page], nil
}

func writePDF(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quote.pdf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

var longText = strings.Repeat("サーバー設置工事 一式 500,000円\n", 4)

func warningCodes(res *Result) []string {
	var codes []string
	for _, w := range res.Meta.Warnings {
		codes = append(codes, w.Code)
	}
	return codes
}

func TestExtract_InvalidInput(t *testing.T) {
	dir := t.TempDir()
	notPDF := filepath.Join(dir, "notes.pdf")
	require.NoError(t, os.WriteFile(notPDF, []byte("hello"), 0o600))
	empty := filepath.Join(dir, "empty.pdf")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	big := filepath.Join(dir, "big.pdf")
	require.NoError(t, os.WriteFile(big, []byte("%PDF-1.4\n"+strings.Repeat("x", 64)), 0o600))

	tests := []struct {
		name    string
		path    string
		maxSize int64
	}{
		{"empty path", "", 0},
		{"missing file", filepath.Join(dir, "missing.pdf"), 0},
		{"directory", dir, 0},
		{"empty file", empty, 0},
		{"no pdf header", notPDF, 0},
		{"too large", big, 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(Config{MaxFileSize: tt.maxSize}, nil, nil)
			res, err := e.Extract(context.Background(), tt.path)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Nil(t, res)
		})
	}
}

func TestExtract_UnparseablePDFYieldsZeroPages(t *testing.T) {
	path := writePDF(t, "%PDF-1.4\nthis is not really a pdf\n")
	e := New(Config{}, []Strategy{NewLocalStrategy(nil)}, nil)

	res, err := e.Extract(context.Background(), path)

	require.NoError(t, err)
	assert.Empty(t, res.Pages)
	assert.Equal(t, 0, res.Meta.NumPages)
	assert.Equal(t, SourceLocal, res.Meta.Source)
	assert.Contains(t, warningCodes(res), WarnStrategyUnavailable)
	assert.Equal(t, "quote.pdf", res.Meta.Filename)
	assert.Len(t, res.Meta.SHA256, 64)
	assert.NotEmpty(t, res.Meta.ExtractionID)
}

func TestExtract_StrategyChainOrder(t *testing.T) {
	path := writePDF(t, "%PDF-1.7\n")
	vision := &fakeStrategy{name: "vision", enabled: false}
	docai := &fakeStrategy{name: "docai", enabled: true, err: errors.New("quota exceeded")}
	local := &fakeStrategy{name: "local", enabled: true, result: &PageResults{
		Pages: []Page{{Page: 1, Method: MethodLedongthuc, Text: longText}},
	}}

	e := New(Config{}, []Strategy{vision, docai, local}, nil)
	res, err := e.Extract(context.Background(), path)

	require.NoError(t, err)
	assert.Equal(t, 0, vision.calls)
	assert.Equal(t, 1, docai.calls)
	assert.Equal(t, 1, local.calls)
	require.Len(t, res.Pages, 1)
	assert.Equal(t, SourceLocal, res.Meta.Source)
	assert.Equal(t, []string{WarnStrategyUnavailable}, warningCodes(res))
	assert.NotNil(t, res.Pages[0].Tables)
}

func TestExtract_FirstSuccessWins(t *testing.T) {
	path := writePDF(t, "%PDF-1.7\n")
	docai := &fakeStrategy{name: "docai", enabled: true, result: &PageResults{
		Pages: []Page{{Page: 1, Method: MethodDocAI, Text: longText}},
	}}
	local := &fakeStrategy{name: "local", enabled: true}

	res, err := New(Config{}, []Strategy{docai, local}, nil).Extract(context.Background(), path)

	require.NoError(t, err)
	assert.Equal(t, 0, local.calls)
	assert.Equal(t, SourceDocAI, res.Meta.Source)
	assert.Empty(t, res.Meta.Warnings)
}

func TestExtract_PanickingStrategyIsSkipped(t *testing.T) {
	path := writePDF(t, "%PDF-1.7\n")
	bad := &fakeStrategy{name: "docai", enabled: true, panics: true}
	local := &fakeStrategy{name: "local", enabled: true, result: &PageResults{
		Pages: []Page{{Page: 1, Method: MethodPDFCPU, Text: longText}},
	}}

	res, err := New(Config{}, []Strategy{bad, local}, nil).Extract(context.Background(), path)

	require.NoError(t, err)
	require.Len(t, res.Pages, 1)
	require.Len(t, res.Meta.Warnings, 1)
	assert.Contains(t, res.Meta.Warnings[0].Message, "panic")
}

func TestExtract_VisionShortCircuits(t *testing.T) {
	path := writePDF(t, "%PDF-1.7\n")
	total := 550000.0
	vision := &fakeStrategy{name: "vision", enabled: true, result: &PageResults{
		LineItems: []map[string]any{{"description": "サーバー設置工事", "amount": 500000.0}},
		Vendor:    "株式会社テスト",
		Total:     &total,
	}}
	local := &fakeStrategy{name: "local", enabled: true}
	ocr := &fakeOCR{}

	res, err := New(Config{OCREnabled: true}, []Strategy{vision, local}, nil, WithOCR(ocr)).
		Extract(context.Background(), path)

	require.NoError(t, err)
	assert.Equal(t, 0, local.calls)
	assert.Empty(t, ocr.pages)
	assert.Equal(t, SourceVision, res.Meta.Source)
	assert.Len(t, res.LineItems, 1)
	assert.Equal(t, "株式会社テスト", res.Vendor)
	assert.Equal(t, &total, res.Total)
	assert.Empty(t, res.Meta.Warnings)
}

func TestExtract_OCRReplacesThinPages(t *testing.T) {
	path := writePDF(t, "%PDF-1.7\n")
	local := &fakeStrategy{name: "local", enabled: true, result: &PageResults{
		Pages: []Page{
			{Page: 1, Method: MethodLedongthuc, Text: longText},
			{Page: 2, Method: MethodLedongthuc, Text: "短い"},
			{Page: 3, Method: MethodLedongthuc, Text: ""},
			{Page: 4, Method: MethodLedongthuc, Text: ""},
		},
	}}
	ocr := &fakeOCR{
		texts: map[int]string{2: longText, 3: "x"},
		errs:  map[int]error{4: errors.New("tesseract missing")},
	}

	e := New(Config{OCREnabled: true, OCRConcurrency: 3}, []Strategy{local}, nil, WithOCR(ocr))
	res, err := e.Extract(context.Background(), path)

	require.NoError(t, err)
	assert.ElementsMatch(t, []int{2, 3, 4}, ocr.pages)

	require.Len(t, res.Pages, 4)
	assert.Equal(t, []int{1, 2, 3, 4}, []int{res.Pages[0].Page, res.Pages[1].Page, res.Pages[2].Page, res.Pages[3].Page})
	assert.Equal(t, MethodLedongthuc, res.Pages[0].Method)
	assert.Equal(t, MethodOCR, res.Pages[1].Method)
	assert.Equal(t, strings.TrimSpace(longText), res.Pages[1].Text)
	assert.Equal(t, MethodOCR, res.Pages[2].Method)
	assert.Equal(t, "x", res.Pages[2].Text)
	assert.Equal(t, MethodLedongthuc, res.Pages[3].Method)
	assert.Equal(t, SourceMixed, res.Meta.Source)

	var short []int
	for _, w := range res.Meta.Warnings {
		if w.Code == WarnTextTooShort {
			short = append(short, w.Page)
		}
	}
	assert.Equal(t, []int{3, 4}, short)
	assert.Contains(t, warningCodes(res), WarnOCRFailed)
}

func TestExtract_OCRDisabledStillWarns(t *testing.T) {
	path := writePDF(t, "%PDF-1.7\n")
	local := &fakeStrategy{name: "local", enabled: true, result: &PageResults{
		Pages: []Page{{Page: 1, Method: MethodLedongthuc, Text: "見積書"}},
	}}
	ocr := &fakeOCR{}

	res, err := New(Config{OCREnabled: false}, []Strategy{local}, nil, WithOCR(ocr)).
		Extract(context.Background(), path)

	require.NoError(t, err)
	assert.Empty(t, ocr.pages)
	require.Len(t, res.Meta.Warnings, 1)
	assert.Equal(t, WarnTextTooShort, res.Meta.Warnings[0].Code)
	assert.Equal(t, 1, res.Meta.Warnings[0].Page)
}

func TestExtract_EvidenceSnippets(t *testing.T) {
	path := writePDF(t, "%PDF-1.7\n")
	long := strings.Repeat("あ", 200)
	text := "\n御見積書\n\n" + long + "\n株式会社テスト\n4行目"
	local := &fakeStrategy{name: "local", enabled: true, result: &PageResults{
		Pages: []Page{{Page: 1, Method: MethodLedongthuc, Text: text}},
	}}

	res, err := New(Config{}, []Strategy{local}, nil).Extract(context.Background(), path)

	require.NoError(t, err)
	ev := res.Pages[0].Evidence
	require.Len(t, ev, 3)
	assert.Equal(t, "御見積書", ev[0].Snippet)
	assert.Equal(t, 120, len([]rune(ev[1].Snippet)))
	assert.Equal(t, "株式会社テスト", ev[2].Snippet)
	assert.Equal(t, MethodLedongthuc, ev[0].Method)
	assert.Equal(t, 1, ev[0].Page)
}

func TestExtract_ClockAndMeta(t *testing.T) {
	path := writePDF(t, "%PDF-1.7\n")
	fixed := time.Date(2025, 4, 1, 9, 0, 0, 0, time.FixedZone("JST", 9*3600))

	res, err := New(Config{}, nil, nil, WithClock(func() time.Time { return fixed })).
		Extract(context.Background(), path)

	require.NoError(t, err)
	assert.True(t, res.Meta.ExtractedAt.Equal(fixed))
	assert.Equal(t, time.UTC, res.Meta.ExtractedAt.Location())
	assert.Equal(t, SourceLocal, res.Meta.Source)
	assert.NotNil(t, res.Pages)
	assert.NotNil(t, res.Meta.Warnings)
}

func TestSourceOf(t *testing.T) {
	tests := []struct {
		name    string
		methods []string
		want    string
	}{
		{"no pages", nil, SourceLocal},
		{"both local parsers", []string{MethodLedongthuc, MethodPDFCPU}, SourceLocal},
		{"all ocr", []string{MethodOCR, MethodOCR}, SourceOCR},
		{"docai", []string{MethodDocAI}, SourceDocAI},
		{"mixed", []string{MethodLedongthuc, MethodOCR}, SourceMixed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &Result{}
			for i, m := range tt.methods {
				res.Pages = append(res.Pages, Page{Page: i + 1, Method: m})
			}
			assert.Equal(t, tt.want, sourceOf(res))
		})
	}
}
