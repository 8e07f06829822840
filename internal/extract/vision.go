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
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
)

// VisionConfig configures the vision-model strategy
type VisionConfig struct {
	Enabled  bool
	BaseURL  string
	APIKey   string
	Model    string
	MaxPages int
	DPI      int
	Pdftoppm string
	Timeout  time.Duration
}

// VisionStrategy renders pages to images and asks an OpenAI-compatible
// chat/completions endpoint for the line items directly
type VisionStrategy struct {
	cfg    VisionConfig
	runner Runner
	client *http.Client
	schema *jsonschema.Schema
	logger *zap.Logger
}

// visionSchema is the contract the model's JSON reply must satisfy
var visionSchema = map[string]any{
	"type":     "object",
	"required": []any{"line_items"},
	"properties": map[string]any{
		"vendor": map[string]any{"type": []any{"string", "null"}},
		"total":  map[string]any{"type": []any{"number", "null"}},
		"line_items": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items": map[string]any{
				"type":     "object",
				"required": []any{"description"},
				"properties": map[string]any{
					"description": map[string]any{"type": "string", "minLength": 1},
					"quantity":    map[string]any{"type": []any{"string", "number", "null"}},
					"unit_price":  map[string]any{"type": []any{"number", "null"}},
					"amount":      map[string]any{"type": []any{"number", "null"}},
				},
			},
		},
	},
}

const visionPrompt = "あなたは日本語の見積書・請求書の明細を読み取るアシスタントです。" +
	"画像から明細行だけを抽出し、小計・消費税・合計などの集計行は含めないでください。" +
	"金額は円単位の数値で返してください。" +
	"Return ONLY JSON: {\"vendor\": string|null, \"total\": number|null, " +
	"\"line_items\": [{\"description\": string, \"quantity\": string|number|null, " +
	"\"unit_price\": number|null, \"amount\": number|null}]}"

// NewVisionStrategy creates the strategy. A nil runner uses os/exec and a
// nil client uses one with the configured timeout.
func NewVisionStrategy(cfg VisionConfig, runner Runner, client *http.Client, logger *zap.Logger) *VisionStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 3
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 150
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	s := &VisionStrategy{cfg: cfg, runner: runner, client: client, logger: logger.Named("vision")}
	schema, err := compileSchema(visionSchema)
	if err != nil {
		s.logger.Error("vision response schema failed to compile", zap.Error(err))
	}
	s.schema = schema
	return s
}

func (s *VisionStrategy) Name() string { return "vision" }

func (s *VisionStrategy) Enabled() bool {
	return s.cfg.Enabled && s.schema != nil &&
		strings.TrimSpace(s.cfg.BaseURL) != "" && strings.TrimSpace(s.cfg.Model) != ""
}

type visionReply struct {
	Vendor    *string          `json:"vendor"`
	Total     *float64         `json:"total"`
	LineItems []map[string]any `json:"line_items"`
}

func (s *VisionStrategy) TryExtract(ctx context.Context, path string) (*PageResults, error) {
	rid := uuid.NewString()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	images, cleanup, err := renderPages(ctx, s.runner, s.cfg.Pdftoppm, path, s.cfg.DPI, 1, s.cfg.MaxPages)
	if err != nil {
		return nil, &StrategyError{Strategy: s.Name(), Op: "render", Err: err}
	}
	defer cleanup()

	content := []map[string]any{{"type": "text", "text": visionPrompt}}
	for _, img := range images {
		data, err := os.ReadFile(img)
		if err != nil {
			return nil, &StrategyError{Strategy: s.Name(), Op: "render", Err: err}
		}
		content = append(content, map[string]any{
			"type": "image_url",
			"image_url": map[string]any{
				"url": "data:image/png;base64," + base64.StdEncoding.EncodeToString(data),
			},
		})
	}

	body := map[string]any{
		"model":           s.cfg.Model,
		"temperature":     0,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "user", "content": content},
		},
	}

	endpoint := strings.TrimRight(s.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := s.post(ctx, endpoint, rid, body)
	if err != nil {
		return nil, &StrategyError{Strategy: s.Name(), Op: "request", Err: err}
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, &StrategyError{Strategy: s.Name(), Op: "decode", Err: err}
	}
	if len(cc.Choices) == 0 {
		return nil, &StrategyError{Strategy: s.Name(), Op: "decode", Err: errors.New("no choices in response")}
	}

	reply := []byte(strings.TrimSpace(cc.Choices[0].Message.Content))
	if err := validateJSON(s.schema, reply); err != nil {
		return nil, &StrategyError{Strategy: s.Name(), Op: "validate", Err: err}
	}

	var out visionReply
	if err := json.Unmarshal(reply, &out); err != nil {
		return nil, &StrategyError{Strategy: s.Name(), Op: "decode", Err: err}
	}

	res := &PageResults{LineItems: out.LineItems, Total: out.Total}
	if out.Vendor != nil {
		res.Vendor = strings.TrimSpace(*out.Vendor)
	}
	s.logger.Info("vision extraction ok",
		zap.String("req_id", rid),
		zap.Int("pages", len(images)),
		zap.Int("line_items", len(out.LineItems)),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return res, nil
}

func (s *VisionStrategy) post(ctx context.Context, url, rid string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", rid)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vision http error: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("vision status %d: %s", resp.StatusCode, truncate(string(raw), 512))
	}
	return raw, nil
}

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile("schema.json")
}

func validateJSON(schema *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
