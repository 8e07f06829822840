// Package policy loads the optional caller-supplied ruleset that extends the
// classifier: extra keywords, an amount threshold and an always-guidance
// pattern. Loading is total: any problem yields defaults, never an error.
package policy

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"
)

// Policy is the parsed ruleset. It is read-only after loading and may be
// shared across goroutines.
type Policy struct {
	Keywords   Keywords   `json:"keywords"`
	Thresholds Thresholds `json:"thresholds"`
	Regex      Regex      `json:"regex"`

	alwaysGuidance *regexp.Regexp
}

// Keywords extends the built-in keyword tables
type Keywords struct {
	AssetAdd    []string `json:"asset_add"`
	ExpenseAdd  []string `json:"expense_add"`
	GuidanceAdd []string `json:"guidance_add"`
}

// Thresholds holds numeric policy limits
type Thresholds struct {
	GuidanceAmountJPY *int64 `json:"guidance_amount_jpy"`
}

// Regex holds pattern-based overrides
type Regex struct {
	AlwaysGuidance *string `json:"always_guidance"`
}

// Default returns the all-empty policy
func Default() *Policy {
	return &Policy{
		Keywords: Keywords{
			AssetAdd:    []string{},
			ExpenseAdd:  []string{},
			GuidanceAdd: []string{},
		},
	}
}

// AlwaysGuidance returns the compiled always-guidance pattern, or nil when
// the policy has none or it failed to compile
func (p *Policy) AlwaysGuidance() *regexp.Regexp {
	if p == nil {
		return nil
	}
	return p.alwaysGuidance
}

// GuidanceAmount returns the guidance amount threshold and whether it is set
func (p *Policy) GuidanceAmount() (int64, bool) {
	if p == nil || p.Thresholds.GuidanceAmountJPY == nil {
		return 0, false
	}
	return *p.Thresholds.GuidanceAmountJPY, true
}

// Load reads a policy file. JSON is the default format; files ending in
// .yaml or .yml are read as YAML. A nil logger disables logging.
func Load(path string, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(path) == "" {
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("policy file unreadable, using defaults", zap.String("path", path), zap.Error(err))
		return Default()
	}

	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}

	p, err := parse(data, format)
	if err != nil {
		logger.Warn("policy file malformed, using defaults", zap.String("path", path), zap.Error(err))
		return Default()
	}

	if p.Regex.AlwaysGuidance != nil && p.alwaysGuidance == nil {
		logger.Warn("policy always_guidance pattern ignored",
			zap.String("path", path), zap.String("pattern", *p.Regex.AlwaysGuidance))
	}
	logger.Debug("policy loaded",
		zap.String("path", path),
		zap.Int("asset_add", len(p.Keywords.AssetAdd)),
		zap.Int("expense_add", len(p.Keywords.ExpenseAdd)),
		zap.Int("guidance_add", len(p.Keywords.GuidanceAdd)),
	)
	return p
}

// Parse decodes policy bytes in the given format ("json" or "yaml").
// Malformed input yields the default policy.
func Parse(data []byte, format string) *Policy {
	p, err := parse(data, format)
	if err != nil {
		return Default()
	}
	return p
}

func parse(data []byte, format string) (p *Policy, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("panic while decoding policy: %v", r)
		}
	}()

	var raw any
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	}

	root, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("policy root must be an object, got %T", raw)
	}

	p = Default()
	if kw, ok := root["keywords"].(map[string]any); ok {
		p.Keywords.AssetAdd = stringList(kw["asset_add"])
		p.Keywords.ExpenseAdd = stringList(kw["expense_add"])
		p.Keywords.GuidanceAdd = stringList(kw["guidance_add"])
	}
	if th, ok := root["thresholds"].(map[string]any); ok {
		if n, ok := integer(th["guidance_amount_jpy"]); ok {
			p.Thresholds.GuidanceAmountJPY = &n
		}
	}
	if rx, ok := root["regex"].(map[string]any); ok {
		if s, ok := rx["always_guidance"].(string); ok && strings.TrimSpace(s) != "" {
			p.Regex.AlwaysGuidance = &s
			if re, err := regexp.Compile(s); err == nil {
				p.alwaysGuidance = re
			}
		}
	}
	return p, nil
}

// stringList keeps trimmed, non-empty, unique strings from a decoded list
func stringList(v any) []string {
	out := []string{}
	items, ok := v.([]any)
	if !ok {
		return out
	}
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// integer accepts integral numbers from either decoder
func integer(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}
