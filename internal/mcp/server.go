package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/a3tai/mcp-capex-classifier/internal/config"
	"github.com/a3tai/mcp-capex-classifier/internal/descriptions"
	"github.com/a3tai/mcp-capex-classifier/internal/export"
	"github.com/a3tai/mcp-capex-classifier/internal/pipeline"
)

// Tool names
const (
	ToolClassifyPDF  = "capex_classify_pdf"
	ToolExtractPDF   = "capex_extract_pdf"
	ToolClassifyJSON = "capex_classify_json"
	ToolServerInfo   = "capex_server_info"
)

// Server represents the MCP server instance
type Server struct {
	config    *config.Config
	service   *pipeline.Service
	mcpServer *server.MCPServer
	logger    *zap.Logger
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config, service *pipeline.Service, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if service == nil {
		return nil, errors.New("pipeline service cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		config:    cfg,
		service:   service,
		mcpServer: mcpServer,
		logger:    logger.Named("mcp"),
	}
	s.registerTools()
	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		ToolClassifyPDF,
		mcp.WithDescription(descriptions.ClassifyPDFDescription),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Full path to the PDF file"),
		),
		mcp.WithString("xlsx_path",
			mcp.Description("Optional path; when set the classified document is also written there as XLSX"),
		),
	), s.handleClassifyPDF)

	s.mcpServer.AddTool(mcp.NewTool(
		ToolExtractPDF,
		mcp.WithDescription(descriptions.ExtractPDFDescription),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Full path to the PDF file"),
		),
	), s.handleExtractPDF)

	s.mcpServer.AddTool(mcp.NewTool(
		ToolClassifyJSON,
		mcp.WithDescription(descriptions.ClassifyJSONDescription),
		mcp.WithString("document",
			mcp.Required(),
			mcp.Description("The document as a JSON object or JSON text"),
		),
	), s.handleClassifyJSON)

	s.mcpServer.AddTool(mcp.NewTool(
		ToolServerInfo,
		mcp.WithDescription(descriptions.ServerInfoDescription),
	), s.handleServerInfo)
}

func (s *Server) handleClassifyPDF(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, err := s.service.ClassifyFile(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if xlsxPath := strings.TrimSpace(request.GetString("xlsx_path", "")); xlsxPath != "" {
		if err := writeXLSXFile(xlsxPath, out); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		s.logger.Info("xlsx written", zap.String("path", xlsxPath))
	}
	return jsonResult(out)
}

func (s *Server) handleExtractPDF(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.service.ExtractFile(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) handleClassifyJSON(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, ok := request.GetArguments()["document"]
	if !ok || raw == nil {
		return mcp.NewToolResultError("required argument \"document\" not found"), nil
	}

	// clients send either the object itself or its JSON text
	if text, isText := raw.(string); isText {
		doc, err := s.service.ClassifyJSON([]byte(text))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(doc)
	}
	return jsonResult(s.service.ClassifyRaw(raw))
}

// ServerInfo is the payload of the server info tool
type ServerInfo struct {
	ServerName  string            `json:"server_name"`
	Version     string            `json:"version"`
	MaxFileSize int64             `json:"max_file_size"`
	Strategies  map[string]bool   `json:"strategies"`
	OCR         OCRInfo           `json:"ocr"`
	Policy      PolicyInfo        `json:"policy"`
	Tools       map[string]string `json:"tools"`
}

// OCRInfo summarises the OCR settings
type OCRInfo struct {
	Enabled       bool   `json:"enabled"`
	Lang          string `json:"lang"`
	MinTextLength int    `json:"min_text_length"`
}

// PolicyInfo summarises the active policy
type PolicyInfo struct {
	Path             string   `json:"path,omitempty"`
	AssetAdd         []string `json:"asset_add"`
	ExpenseAdd       []string `json:"expense_add"`
	GuidanceAdd      []string `json:"guidance_add"`
	GuidanceAmount   *int64   `json:"guidance_amount_jpy"`
	AlwaysGuidance   string   `json:"always_guidance,omitempty"`
	AnnotateAllRules bool     `json:"annotate_all_tax_rules"`
}

func (s *Server) handleServerInfo(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.info())
}

func (s *Server) info() ServerInfo {
	pol := s.service.Policy()
	pi := PolicyInfo{
		Path:             s.config.PolicyPath,
		AssetAdd:         pol.Keywords.AssetAdd,
		ExpenseAdd:       pol.Keywords.ExpenseAdd,
		GuidanceAdd:      pol.Keywords.GuidanceAdd,
		GuidanceAmount:   pol.Thresholds.GuidanceAmountJPY,
		AnnotateAllRules: s.config.Classifier.AnnotateAllTaxRules,
	}
	if re := pol.AlwaysGuidance(); re != nil {
		pi.AlwaysGuidance = re.String()
	}

	strategies := make(map[string]bool)
	for _, st := range pipeline.Strategies(s.config, nil, nil, nil) {
		strategies[st.Name()] = st.Enabled()
	}

	return ServerInfo{
		ServerName:  s.config.ServerName,
		Version:     s.config.Version,
		MaxFileSize: s.config.MaxFileSize,
		Strategies:  strategies,
		OCR: OCRInfo{
			Enabled:       s.config.OCR.Enabled,
			Lang:          s.config.OCR.Lang,
			MinTextLength: s.config.OCR.MinTextLength,
		},
		Policy: pi,
		Tools: map[string]string{
			ToolClassifyPDF:  "path, xlsx_path?",
			ToolExtractPDF:   "path",
			ToolClassifyJSON: "document",
			ToolServerInfo:   "",
		},
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func writeXLSXFile(path string, out *pipeline.Outcome) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create xlsx directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create xlsx file: %w", err)
	}
	if err := export.WriteXLSX(out.Document, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Run serves MCP over stdin/stdout until ctx is cancelled or the client
// disconnects
func (s *Server) Run(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve speaks MCP's line-delimited JSON-RPC over in and out
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("starting MCP server in stdio mode",
		zap.String("name", s.config.ServerName), zap.String("version", s.config.Version))

	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger))
	if err := stdio.Listen(ctx, in, out); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}
