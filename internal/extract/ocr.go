package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Runner lets tests stub external commands
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec and logs their outcome
type ExecRunner struct {
	Logger *zap.Logger
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	dur := time.Since(start)
	if err != nil {
		logger.Warn("exec failed",
			zap.String("cmd", name),
			zap.Int64("duration_ms", dur.Milliseconds()),
			zap.Error(err),
			zap.String("stderr", truncate(errb.String(), 8<<10)),
		)
	} else {
		logger.Debug("exec ok",
			zap.String("cmd", name),
			zap.String("args", strings.Join(args, " ")),
			zap.Int64("duration_ms", dur.Milliseconds()),
			zap.Int("stdout_bytes", out.Len()),
		)
	}
	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

// OCRConfig configures page rasterisation and recognition
type OCRConfig struct {
	Pdftoppm  string
	Tesseract string
	Lang      string
	DPI       int
	PSM       int
	Timeout   time.Duration
}

func (c OCRConfig) withDefaults() OCRConfig {
	if c.Pdftoppm == "" {
		c.Pdftoppm = "pdftoppm"
	}
	if c.Tesseract == "" {
		c.Tesseract = "tesseract"
	}
	if c.Lang == "" {
		c.Lang = "jpn+eng"
	}
	if c.DPI <= 0 {
		c.DPI = 300
	}
	if c.PSM <= 0 {
		c.PSM = 6
	}
	return c
}

// TesseractOCR renders one page with pdftoppm and reads it with tesseract
type TesseractOCR struct {
	cfg    OCRConfig
	runner Runner
	logger *zap.Logger
}

// NewTesseractOCR creates a page OCR backend. A nil runner uses os/exec.
func NewTesseractOCR(cfg OCRConfig, runner Runner, logger *zap.Logger) *TesseractOCR {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	return &TesseractOCR{cfg: cfg.withDefaults(), runner: runner, logger: logger.Named("ocr")}
}

var reBoxNoise = regexp.MustCompile(`[│┃┆┊|]{2,}`)

func (o *TesseractOCR) OCRPage(ctx context.Context, path string, page int) (string, error) {
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	images, cleanup, err := renderPages(ctx, o.runner, o.cfg.Pdftoppm, path, o.cfg.DPI, page, page)
	if err != nil {
		return "", err
	}
	defer cleanup()

	args := []string{images[0], "stdout", "-l", o.cfg.Lang, "--psm", strconv.Itoa(o.cfg.PSM)}
	out, errb, err := o.runner.Run(ctx, o.cfg.Tesseract, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, truncate(string(errb), 512))
	}

	text := reBoxNoise.ReplaceAllString(string(out), "")
	o.logger.Debug("page recognised", zap.Int("page", page), zap.Int("runes", textLength(text)))
	return cleanOCRText(text), nil
}

// renderPages rasterises pages first..last (last <= 0 means to the end) into
// a temporary directory and returns the PNG paths in page order
func renderPages(ctx context.Context, runner Runner, bin, path string, dpi, first, last int) ([]string, func(), error) {
	tmpDir, err := os.MkdirTemp("", "capex-pp-*")
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = os.RemoveAll(tmpDir) }

	prefix := filepath.Join(tmpDir, "page")
	args := []string{"-r", strconv.Itoa(dpi), "-png"}
	if first > 0 {
		args = append(args, "-f", strconv.Itoa(first))
	}
	if last > 0 {
		args = append(args, "-l", strconv.Itoa(last))
	}
	args = append(args, path, prefix)

	// pdftoppm -r 300 -png -f N -l N <in.pdf> <tmp/page>
	if _, errb, err := runner.Run(ctx, bin, args...); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("pdftoppm: %w: %s", err, truncate(string(errb), 512))
	}

	// page-1.png, page-01.png ... zero padded to the page count width
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if len(matches) == 0 {
		cleanup()
		return nil, nil, fmt.Errorf("pdftoppm produced no images")
	}
	return matches, cleanup, nil
}

func cleanOCRText(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := lines[:0]
	for _, ln := range lines {
		if ln = strings.TrimSpace(ln); ln != "" {
			out = append(out, ln)
		}
	}
	return strings.Join(out, "\n")
}
