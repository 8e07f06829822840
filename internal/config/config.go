package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment variable, e.g. CAPEX_OCR_ENABLED
	EnvPrefix = "CAPEX"

	// Default values
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "console"
	DefaultMaxFileSize   = 100 * 1024 * 1024 // 100MB
	DefaultMinTextLength = 50
	DefaultOCRLang       = "jpn+eng"
	DefaultOCRDPI        = 300
	DefaultConcurrency   = 2
	DefaultOCRTimeout    = 60 * time.Second
	DefaultHTTPTimeout   = 30 * time.Second
	DefaultVisionModel   = "gpt-4o-mini"
	DefaultVisionBaseURL = "https://api.openai.com/v1"
	DefaultVisionPages   = 3
)

// Config holds all configuration for the classifier CLI and MCP server
type Config struct {
	// Application configuration
	Version     string
	ServerName  string
	LogLevel    string
	LogFormat   string // "json" or "console"
	PolicyPath  string
	MaxFileSize int64  // Maximum PDF file size in bytes
	MetricsAddr string // Listen address for /metrics in serve mode; empty disables it

	OCR        OCRConfig
	DocAI      DocAIConfig
	Vision     VisionConfig
	Classifier ClassifierConfig
}

// OCRConfig controls the per-page tesseract fallback
type OCRConfig struct {
	Enabled       bool
	MinTextLength int
	Lang          string
	DPI           int
	Pdftoppm      string
	Tesseract     string
	Concurrency   int
	Timeout       time.Duration
}

// DocAIConfig controls the hosted document-AI strategy
type DocAIConfig struct {
	Enabled  bool
	Endpoint string
	Token    string
	Timeout  time.Duration
}

// VisionConfig controls the vision-model strategy
type VisionConfig struct {
	Enabled  bool
	BaseURL  string
	APIKey   string
	Model    string
	MaxPages int
	Timeout  time.Duration
}

// ClassifierConfig tunes the rule engine
type ClassifierConfig struct {
	AnnotateAllTaxRules bool
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Version:     "1.0.0",
		ServerName:  "mcp-capex-classifier",
		LogLevel:    DefaultLogLevel,
		LogFormat:   DefaultLogFormat,
		MaxFileSize: DefaultMaxFileSize,
		OCR: OCRConfig{
			Enabled:       true,
			MinTextLength: DefaultMinTextLength,
			Lang:          DefaultOCRLang,
			DPI:           DefaultOCRDPI,
			Pdftoppm:      "pdftoppm",
			Tesseract:     "tesseract",
			Concurrency:   DefaultConcurrency,
			Timeout:       DefaultOCRTimeout,
		},
		DocAI: DocAIConfig{
			Timeout: DefaultHTTPTimeout,
		},
		Vision: VisionConfig{
			BaseURL:  DefaultVisionBaseURL,
			Model:    DefaultVisionModel,
			MaxPages: DefaultVisionPages,
			Timeout:  DefaultHTTPTimeout,
		},
	}
}

// binding ties a viper key to its command line flag
type binding struct {
	key  string
	flag string
}

var bindings = []binding{
	{"config", "config"},
	{"log.level", "log-level"},
	{"log.format", "log-format"},
	{"policy", "policy"},
	{"max_file_size", "max-file-size"},
	{"metrics.addr", "metrics-addr"},
	{"ocr.enabled", "ocr"},
	{"ocr.min_text_length", "ocr-min-text"},
	{"ocr.lang", "ocr-lang"},
	{"ocr.dpi", "ocr-dpi"},
	{"ocr.pdftoppm", "pdftoppm"},
	{"ocr.tesseract", "tesseract"},
	{"ocr.concurrency", "ocr-concurrency"},
	{"ocr.timeout", "ocr-timeout"},
	{"docai.enabled", "docai"},
	{"docai.endpoint", "docai-endpoint"},
	{"docai.token", "docai-token"},
	{"docai.timeout", "docai-timeout"},
	{"vision.enabled", "vision"},
	{"vision.base_url", "vision-base-url"},
	{"vision.api_key", "vision-api-key"},
	{"vision.model", "vision-model"},
	{"vision.max_pages", "vision-max-pages"},
	{"vision.timeout", "vision-timeout"},
	{"classifier.annotate_all_tax_rules", "annotate-all-tax-rules"},
}

// RegisterFlags defines every configuration flag on flags
func RegisterFlags(flags *pflag.FlagSet) {
	cfg := DefaultConfig()

	flags.String("config", "", "Optional config file (yaml, json or toml)")
	flags.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flags.String("log-format", cfg.LogFormat, "Log format (json, console)")
	flags.String("policy", "", "Policy file (json or yaml)")
	flags.Int64("max-file-size", cfg.MaxFileSize, "Maximum PDF file size in bytes")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	flags.Bool("ocr", cfg.OCR.Enabled, "Run OCR on pages with too little text")
	flags.Int("ocr-min-text", cfg.OCR.MinTextLength, "Characters below which a page counts as too short")
	flags.String("ocr-lang", cfg.OCR.Lang, "Tesseract language")
	flags.Int("ocr-dpi", cfg.OCR.DPI, "Render resolution for OCR")
	flags.String("pdftoppm", cfg.OCR.Pdftoppm, "pdftoppm binary")
	flags.String("tesseract", cfg.OCR.Tesseract, "tesseract binary")
	flags.Int("ocr-concurrency", cfg.OCR.Concurrency, "Pages OCRed in parallel")
	flags.Duration("ocr-timeout", cfg.OCR.Timeout, "Timeout per OCR command")

	flags.Bool("docai", cfg.DocAI.Enabled, "Enable the document-AI strategy")
	flags.String("docai-endpoint", "", "Document-AI process endpoint")
	flags.String("docai-token", "", "Document-AI bearer token")
	flags.Duration("docai-timeout", cfg.DocAI.Timeout, "Document-AI request timeout")

	flags.Bool("vision", cfg.Vision.Enabled, "Enable the vision-model strategy")
	flags.String("vision-base-url", cfg.Vision.BaseURL, "OpenAI-compatible API base URL")
	flags.String("vision-api-key", "", "Vision API key")
	flags.String("vision-model", cfg.Vision.Model, "Vision model name")
	flags.Int("vision-max-pages", cfg.Vision.MaxPages, "Pages sent to the vision model")
	flags.Duration("vision-timeout", cfg.Vision.Timeout, "Vision request timeout")

	flags.Bool("annotate-all-tax-rules", cfg.Classifier.AnnotateAllTaxRules,
		"Attach guidance-only tax rules to definite decisions too")
}

// Load resolves configuration from defaults, an optional config file,
// CAPEX_* environment variables and flags, in increasing precedence.
// flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setupViperEnvironment(v, DefaultConfig())

	if flags != nil {
		for _, b := range bindings {
			if f := flags.Lookup(b.flag); f != nil {
				if err := v.BindPFlag(b.key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", b.flag, err)
				}
			}
		}
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := DefaultConfig()
	populateConfigFromViper(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupViperEnvironment configures environment lookup and defaults
func setupViperEnvironment(v *viper.Viper, cfg *Config) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("vision.api_key", EnvPrefix+"_VISION_API_KEY", "OPENAI_API_KEY")

	v.SetDefault("log.level", cfg.LogLevel)
	v.SetDefault("log.format", cfg.LogFormat)
	v.SetDefault("policy", cfg.PolicyPath)
	v.SetDefault("max_file_size", cfg.MaxFileSize)
	v.SetDefault("server_name", cfg.ServerName)
	v.SetDefault("version", cfg.Version)
	v.SetDefault("metrics.addr", cfg.MetricsAddr)

	v.SetDefault("ocr.enabled", cfg.OCR.Enabled)
	v.SetDefault("ocr.min_text_length", cfg.OCR.MinTextLength)
	v.SetDefault("ocr.lang", cfg.OCR.Lang)
	v.SetDefault("ocr.dpi", cfg.OCR.DPI)
	v.SetDefault("ocr.pdftoppm", cfg.OCR.Pdftoppm)
	v.SetDefault("ocr.tesseract", cfg.OCR.Tesseract)
	v.SetDefault("ocr.concurrency", cfg.OCR.Concurrency)
	v.SetDefault("ocr.timeout", cfg.OCR.Timeout)

	v.SetDefault("docai.enabled", cfg.DocAI.Enabled)
	v.SetDefault("docai.endpoint", cfg.DocAI.Endpoint)
	v.SetDefault("docai.token", cfg.DocAI.Token)
	v.SetDefault("docai.timeout", cfg.DocAI.Timeout)

	v.SetDefault("vision.enabled", cfg.Vision.Enabled)
	v.SetDefault("vision.base_url", cfg.Vision.BaseURL)
	v.SetDefault("vision.model", cfg.Vision.Model)
	v.SetDefault("vision.max_pages", cfg.Vision.MaxPages)
	v.SetDefault("vision.timeout", cfg.Vision.Timeout)

	v.SetDefault("classifier.annotate_all_tax_rules", cfg.Classifier.AnnotateAllTaxRules)
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(v *viper.Viper, cfg *Config) {
	cfg.LogLevel = strings.ToLower(v.GetString("log.level"))
	cfg.LogFormat = strings.ToLower(v.GetString("log.format"))
	cfg.PolicyPath = v.GetString("policy")
	cfg.MaxFileSize = v.GetInt64("max_file_size")
	cfg.ServerName = v.GetString("server_name")
	cfg.Version = v.GetString("version")
	cfg.MetricsAddr = v.GetString("metrics.addr")

	cfg.OCR.Enabled = v.GetBool("ocr.enabled")
	cfg.OCR.MinTextLength = v.GetInt("ocr.min_text_length")
	cfg.OCR.Lang = v.GetString("ocr.lang")
	cfg.OCR.DPI = v.GetInt("ocr.dpi")
	cfg.OCR.Pdftoppm = v.GetString("ocr.pdftoppm")
	cfg.OCR.Tesseract = v.GetString("ocr.tesseract")
	cfg.OCR.Concurrency = v.GetInt("ocr.concurrency")
	cfg.OCR.Timeout = v.GetDuration("ocr.timeout")

	cfg.DocAI.Enabled = v.GetBool("docai.enabled")
	cfg.DocAI.Endpoint = v.GetString("docai.endpoint")
	cfg.DocAI.Token = v.GetString("docai.token")
	cfg.DocAI.Timeout = v.GetDuration("docai.timeout")

	cfg.Vision.Enabled = v.GetBool("vision.enabled")
	cfg.Vision.BaseURL = v.GetString("vision.base_url")
	cfg.Vision.APIKey = v.GetString("vision.api_key")
	cfg.Vision.Model = v.GetString("vision.model")
	cfg.Vision.MaxPages = v.GetInt("vision.max_pages")
	cfg.Vision.Timeout = v.GetDuration("vision.timeout")

	cfg.Classifier.AnnotateAllTaxRules = v.GetBool("classifier.annotate_all_tax_rules")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.LogFormat)
	}

	if c.OCR.MinTextLength < 0 {
		return errors.New("OCR minimum text length cannot be negative")
	}
	if c.OCR.Enabled {
		if c.OCR.DPI <= 0 {
			return errors.New("OCR DPI must be positive")
		}
		if c.OCR.Concurrency < 1 {
			return errors.New("OCR concurrency must be at least 1")
		}
	}

	if c.Vision.Enabled && c.Vision.MaxPages < 1 {
		return errors.New("vision max pages must be at least 1")
	}
	return nil
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// String returns a string representation of the configuration. Secrets are
// reported only as set or unset.
func (c *Config) String() string {
	return fmt.Sprintf("Config{LogLevel: %s, LogFormat: %s, PolicyPath: %q, MaxFileSize: %d, MetricsAddr: %q, "+
		"OCR: {Enabled: %t, MinTextLength: %d, Lang: %s, DPI: %d, Concurrency: %d}, "+
		"DocAI: {Enabled: %t, Endpoint: %q, Token: %s}, "+
		"Vision: {Enabled: %t, Model: %s, MaxPages: %d, APIKey: %s}, "+
		"Classifier: {AnnotateAllTaxRules: %t}}",
		c.LogLevel, c.LogFormat, c.PolicyPath, c.MaxFileSize, c.MetricsAddr,
		c.OCR.Enabled, c.OCR.MinTextLength, c.OCR.Lang, c.OCR.DPI, c.OCR.Concurrency,
		c.DocAI.Enabled, c.DocAI.Endpoint, secret(c.DocAI.Token),
		c.Vision.Enabled, c.Vision.Model, c.Vision.MaxPages, secret(c.Vision.APIKey),
		c.Classifier.AnnotateAllTaxRules)
}

func secret(s string) string {
	if s == "" {
		return "unset"
	}
	return "set"
}
