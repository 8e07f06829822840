package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DocAIConfig configures the hosted document-AI strategy
type DocAIConfig struct {
	Enabled  bool
	Endpoint string
	Token    string
	Timeout  time.Duration
}

// DocAIStrategy posts the whole PDF to a hosted document processor and maps
// its text anchors back to pages and tables
type DocAIStrategy struct {
	cfg    DocAIConfig
	client *http.Client
	logger *zap.Logger
}

// NewDocAIStrategy creates the strategy; a nil client uses one with the
// configured timeout
func NewDocAIStrategy(cfg DocAIConfig, client *http.Client, logger *zap.Logger) *DocAIStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &DocAIStrategy{cfg: cfg, client: client, logger: logger.Named("docai")}
}

func (s *DocAIStrategy) Name() string { return "docai" }

// Enabled requires the feature flag plus an endpoint and credentials
func (s *DocAIStrategy) Enabled() bool {
	return s.cfg.Enabled && strings.TrimSpace(s.cfg.Endpoint) != "" && strings.TrimSpace(s.cfg.Token) != ""
}

type docaiRequest struct {
	RawDocument docaiRawDocument `json:"rawDocument"`
}

type docaiRawDocument struct {
	Content  string `json:"content"`
	MimeType string `json:"mimeType"`
}

type docaiResponse struct {
	Document struct {
		Text  string      `json:"text"`
		Pages []docaiPage `json:"pages"`
	} `json:"document"`
}

type docaiPage struct {
	PageNumber int          `json:"pageNumber"`
	Layout     docaiLayout  `json:"layout"`
	Tables     []docaiTable `json:"tables"`
}

type docaiLayout struct {
	TextAnchor struct {
		TextSegments []docaiSegment `json:"textSegments"`
	} `json:"textAnchor"`
}

type docaiSegment struct {
	StartIndex docaiIndex `json:"startIndex"`
	EndIndex   docaiIndex `json:"endIndex"`
}

type docaiTable struct {
	HeaderRows []docaiRow `json:"headerRows"`
	BodyRows   []docaiRow `json:"bodyRows"`
}

type docaiRow struct {
	Cells []struct {
		Layout docaiLayout `json:"layout"`
	} `json:"cells"`
}

// docaiIndex accepts int64 offsets encoded either as numbers or strings
type docaiIndex int

func (i *docaiIndex) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*i = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("text anchor index %q: %w", s, err)
	}
	*i = docaiIndex(n)
	return nil
}

func (s *DocAIStrategy) TryExtract(ctx context.Context, path string) (*PageResults, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &StrategyError{Strategy: s.Name(), Op: "read", Err: err}
	}

	body, err := json.Marshal(docaiRequest{RawDocument: docaiRawDocument{
		Content:  base64.StdEncoding.EncodeToString(data),
		MimeType: "application/pdf",
	}})
	if err != nil {
		return nil, &StrategyError{Strategy: s.Name(), Op: "encode", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &StrategyError{Strategy: s.Name(), Op: "request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &StrategyError{Strategy: s.Name(), Op: "request", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, &StrategyError{Strategy: s.Name(), Op: "read response", Err: err}
	}
	if resp.StatusCode/100 != 2 {
		return nil, &StrategyError{
			Strategy: s.Name(),
			Op:       "request",
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(raw), 512)),
		}
	}

	var decoded docaiResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, &StrategyError{Strategy: s.Name(), Op: "decode", Err: err}
	}
	if len(decoded.Document.Pages) == 0 && strings.TrimSpace(decoded.Document.Text) == "" {
		return nil, &StrategyError{Strategy: s.Name(), Op: "decode", Err: errors.New("empty document")}
	}

	pages := docaiPages(decoded)
	s.logger.Debug("document processed", zap.Int("pages", len(pages)))
	return &PageResults{Pages: pages}, nil
}

func docaiPages(resp docaiResponse) []Page {
	text := []rune(resp.Document.Text)

	if len(resp.Document.Pages) == 0 {
		return []Page{{Page: 1, Method: MethodDocAI, Text: strings.TrimSpace(string(text)), Tables: []Table{}}}
	}

	pages := make([]Page, 0, len(resp.Document.Pages))
	for i, p := range resp.Document.Pages {
		num := p.PageNumber
		if num <= 0 {
			num = i + 1
		}
		page := Page{
			Page:   num,
			Method: MethodDocAI,
			Text:   strings.TrimSpace(anchorText(text, p.Layout)),
			Tables: []Table{},
		}
		for _, t := range p.Tables {
			var table Table
			for _, row := range append(append([]docaiRow{}, t.HeaderRows...), t.BodyRows...) {
				cells := make([]string, 0, len(row.Cells))
				for _, c := range row.Cells {
					cells = append(cells, strings.Join(strings.Fields(anchorText(text, c.Layout)), " "))
				}
				table = append(table, cells)
			}
			if len(table) > 0 {
				page.Tables = append(page.Tables, table)
			}
		}
		pages = append(pages, page)
	}
	return pages
}

// anchorText resolves a layout's text segments against the document text.
// Offsets count code points.
func anchorText(text []rune, layout docaiLayout) string {
	var b strings.Builder
	for _, seg := range layout.TextAnchor.TextSegments {
		start, end := int(seg.StartIndex), int(seg.EndIndex)
		if start < 0 {
			start = 0
		}
		if end > len(text) {
			end = len(text)
		}
		if start >= end {
			continue
		}
		b.WriteString(string(text[start:end]))
	}
	return b.String()
}
