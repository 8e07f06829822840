// Package classifier decides, per line item, whether the purchase looks like
// a capital asset, an expense, or something a human has to look at.
//
// Evaluation is Stop-first: any ambiguity signal ends in GUIDANCE, and no
// later rule moves an item out of GUIDANCE. Keyword evidence decides first,
// the policy layer can only escalate, and tax-law amount rules annotate the
// result without changing it. Every decision depends on the item alone.
package classifier

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/unicode/norm"

	"github.com/a3tai/mcp-capex-classifier/internal/policy"
	"github.com/a3tai/mcp-capex-classifier/internal/schema"
)

// Engine-owned flags. Anything starting with one of these is recomputed on
// every evaluation.
const (
	FlagMixedKeyword         = "mixed_keyword:"
	FlagConflictingKeywords  = "conflicting_keywords"
	FlagNoKeywords           = "no_keywords"
	FlagPolicy               = "policy:"
	FlagPolicyAlwaysGuidance = "policy:always_guidance"
	FlagPolicyGuidanceAdd    = "policy:guidance_add:"
	FlagPolicyGuidanceAmount = "policy:guidance_amount:"
	FlagTaxRule              = "tax_rule:"
)

var engineFlagPrefixes = []string{
	FlagMixedKeyword,
	FlagConflictingKeywords,
	FlagNoKeywords,
	FlagPolicy,
	FlagTaxRule,
}

const (
	confidenceBase       = 0.85
	confidenceStep       = 0.03
	confidenceCap        = 0.95
	confidenceMixed      = 0.50
	confidenceConflict   = 0.55
	confidenceNoKeywords = 0.40
	confidencePolicy     = 0.70
)

// Classifier applies keyword, policy and tax rules to line items. It holds
// no per-call state and is safe for concurrent use.
type Classifier struct {
	policy      *policy.Policy
	capital     []string
	expense     []string
	mixed       []string
	guidance    []string
	taxRules    []TaxRule
	annotateAll bool
	logger      *zap.Logger
	printer     *message.Printer
}

// Option configures a Classifier
type Option func(*Classifier)

// WithAnnotateAllTaxRules attaches guidance-only tax rules to every item
// whose amount falls in their band
func WithAnnotateAllTaxRules(enabled bool) Option {
	return func(c *Classifier) {
		c.annotateAll = enabled
	}
}

// WithLogger sets the logger used for per-item debug output
func WithLogger(logger *zap.Logger) Option {
	return func(c *Classifier) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithKeywordRules replaces the built-in keyword tables
func WithKeywordRules(rules []KeywordRule) Option {
	return func(c *Classifier) {
		c.capital, c.expense, c.mixed = nil, nil, nil
		c.addKeywordRules(rules)
	}
}

// New builds a classifier. A nil policy behaves like the default policy.
func New(pol *policy.Policy, opts ...Option) *Classifier {
	if pol == nil {
		pol = policy.Default()
	}
	c := &Classifier{
		policy:   pol,
		taxRules: getDefaultTaxRules(),
		logger:   zap.NewNop(),
		printer:  message.NewPrinter(language.Japanese),
	}
	c.addKeywordRules(getDefaultKeywordRules())
	for _, opt := range opts {
		opt(c)
	}

	c.capital = appendTerms(c.capital, pol.Keywords.AssetAdd...)
	c.expense = appendTerms(c.expense, pol.Keywords.ExpenseAdd...)
	c.guidance = appendTerms(nil, pol.Keywords.GuidanceAdd...)
	return c
}

func (c *Classifier) addKeywordRules(rules []KeywordRule) {
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		switch rule.Category {
		case CategoryCapital:
			c.capital = appendTerms(c.capital, rule.Keywords...)
		case CategoryExpense:
			c.expense = appendTerms(c.expense, rule.Keywords...)
		case CategoryMixed:
			c.mixed = appendTerms(c.mixed, rule.Keywords...)
		}
	}
}

// Decision is the outcome of evaluating one item
type Decision struct {
	Classification schema.Classification
	Confidence     float64
	Flags          schema.Flags // engine-owned flags only
	Rationale      string

	CapitalHits []string
	ExpenseHits []string
	MixedHits   []string
	PolicyHits  []string
	TaxRules    []string
}

// Decide evaluates item without modifying it
func (c *Classifier) Decide(item schema.LineItem) Decision {
	text := matchText(item)
	d := Decision{
		Flags:       schema.Flags{},
		CapitalHits: hits(text, c.capital),
		ExpenseHits: hits(text, c.expense),
		MixedHits:   hits(text, c.mixed),
	}
	var reasons []string

	switch {
	case len(d.MixedHits) > 0:
		d.Classification = schema.Guidance
		d.Confidence = confidenceMixed
		for _, term := range d.MixedHits {
			d.Flags.Add(FlagMixedKeyword + term)
		}
		reasons = append(reasons, fmt.Sprintf("内容が特定できない語句（%s）を含むため判断を保留します。", joinTerms(d.MixedHits)))
	case len(d.CapitalHits) > 0 && len(d.ExpenseHits) > 0:
		d.Classification = schema.Guidance
		d.Confidence = confidenceConflict
		d.Flags.Add(FlagConflictingKeywords)
		reasons = append(reasons, fmt.Sprintf("資産計上を示す語句（%s）と費用処理を示す語句（%s）が混在するため判断を保留します。",
			joinTerms(d.CapitalHits), joinTerms(d.ExpenseHits)))
	case len(d.CapitalHits) > 0:
		d.Classification = schema.CapitalLike
		d.Confidence = corroborated(len(d.CapitalHits))
		reasons = append(reasons, fmt.Sprintf("資産計上を示す語句（%s）を含みます。", joinTerms(d.CapitalHits)))
	case len(d.ExpenseHits) > 0:
		d.Classification = schema.ExpenseLike
		d.Confidence = corroborated(len(d.ExpenseHits))
		reasons = append(reasons, fmt.Sprintf("費用処理を示す語句（%s）を含みます。", joinTerms(d.ExpenseHits)))
	default:
		d.Classification = schema.Guidance
		d.Confidence = confidenceNoKeywords
		d.Flags.Add(FlagNoKeywords)
		reasons = append(reasons, "判断材料となる語句が見つからないため判断を保留します。")
	}

	reasons = append(reasons, c.applyPolicy(&d, item, text)...)
	reasons = append(reasons, c.applyTaxRules(&d, item.Amount)...)

	d.Confidence = clamp(d.Confidence)
	d.Rationale = strings.Join(reasons, "")
	return d
}

// applyPolicy escalates to GUIDANCE; it never leaves GUIDANCE
func (c *Classifier) applyPolicy(d *Decision, item schema.LineItem, text string) []string {
	var reasons []string
	forced := false

	if re := c.policy.AlwaysGuidance(); re != nil && matchesDescription(re, item.Description) {
		forced = true
		d.Flags.Add(FlagPolicyAlwaysGuidance)
		d.PolicyHits = append(d.PolicyHits, re.String())
		reasons = append(reasons, "ポリシーの要確認パターンに一致します。")
	}

	if terms := hits(text, c.guidance); len(terms) > 0 {
		forced = true
		for _, term := range terms {
			d.Flags.Add(FlagPolicyGuidanceAdd + term)
		}
		d.PolicyHits = append(d.PolicyHits, terms...)
		reasons = append(reasons, fmt.Sprintf("ポリシーの要確認語句（%s）を含みます。", joinTerms(terms)))
	}

	if limit, ok := c.policy.GuidanceAmount(); ok && item.Amount != nil && *item.Amount >= float64(limit) {
		forced = true
		d.Flags.Add(fmt.Sprintf("%s%d", FlagPolicyGuidanceAmount, limit))
		reasons = append(reasons, c.printer.Sprintf("金額がポリシーの確認基準額（¥%d）以上です。", limit))
	}

	if forced && d.Classification != schema.Guidance {
		d.Classification = schema.Guidance
		d.Confidence = confidencePolicy
	}
	return reasons
}

// applyTaxRules annotates by the item's own amount. The classification is
// left as it is.
func (c *Classifier) applyTaxRules(d *Decision, amount *float64) []string {
	if amount == nil || *amount < 0 {
		return nil
	}
	var reasons []string
	for _, rule := range c.taxRules {
		if !rule.Matches(*amount) {
			continue
		}
		if rule.GuidanceOnly && d.Classification != schema.Guidance && !c.annotateAll {
			continue
		}
		d.TaxRules = append(d.TaxRules, rule.ID)
		d.Flags.Add(FlagTaxRule + rule.ID)
		reasons = append(reasons, c.printer.Sprintf("[%s] %s（金額 ¥%d）。", rule.ID, rule.Title, int64(*amount)))
	}
	return reasons
}

// ClassifyLineItem classifies item in place and returns it. A nil item is
// replaced by a fresh, empty one, which ends in GUIDANCE.
func (c *Classifier) ClassifyLineItem(item *schema.LineItem) (out *schema.LineItem) {
	if item == nil {
		item = &schema.LineItem{Flags: schema.Flags{}}
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("classification panicked, falling back to guidance",
				zap.Int("line_no", item.LineNo), zap.Any("panic", r))
			item.Classification = schema.Guidance
			item.LabelJA = schema.LabelJA(schema.Guidance)
			item.RationaleJA = "判断材料となる語句が見つからないため判断を保留します。"
			item.Confidence = confidenceNoKeywords
			item.Flags = append(item.Flags.Without(engineFlagPrefixes...), FlagNoKeywords)
			out = item
		}
	}()

	d := c.Decide(*item)

	flags := item.Flags.Without(engineFlagPrefixes...)
	flags.Add(d.Flags...)

	item.Classification = d.Classification
	item.LabelJA = schema.LabelJA(d.Classification)
	item.RationaleJA = d.Rationale
	item.Confidence = d.Confidence
	item.Flags = flags
	if strings.TrimSpace(item.Evidence.SourceText) == "" {
		item.Evidence.SourceText = item.Description
	}

	c.logger.Debug("line item classified",
		zap.Int("line_no", item.LineNo),
		zap.String("classification", string(d.Classification)),
		zap.Float64("confidence", d.Confidence),
		zap.Strings("flags", flags),
	)
	return item
}

// ClassifyDocument classifies every line item of doc in place. A nil
// document is returned unchanged.
func (c *Classifier) ClassifyDocument(doc *schema.Document) *schema.Document {
	if doc == nil {
		return nil
	}
	for i := range doc.LineItems {
		c.ClassifyLineItem(&doc.LineItems[i])
	}
	return doc
}

// ClassifyItems returns classified copies of items; result i belongs to
// items[i] and the inputs are left untouched
func (c *Classifier) ClassifyItems(items []schema.LineItem) []schema.LineItem {
	out := make([]schema.LineItem, len(items))
	for i, item := range items {
		cp := item
		cp.Flags = append(schema.Flags{}, item.Flags...)
		if item.Evidence.Snippets != nil {
			cp.Evidence.Snippets = append([]schema.Snippet(nil), item.Evidence.Snippets...)
		}
		c.ClassifyLineItem(&cp)
		out[i] = cp
	}
	return out
}

// matchText is the normalised description, followed by the evidence source
// text when that adds anything
func matchText(item schema.LineItem) string {
	desc := normalize(item.Description)
	src := normalize(item.Evidence.SourceText)
	if src == "" || src == desc {
		return desc
	}
	return desc + "\n" + src
}

func matchesDescription(re *regexp.Regexp, description string) bool {
	return re.MatchString(description) || re.MatchString(normalize(description))
}

func normalize(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}

// hits returns the terms found in text, in table order
func hits(text string, terms []string) []string {
	if text == "" {
		return nil
	}
	var found []string
	for _, term := range terms {
		if strings.Contains(text, term) {
			found = append(found, term)
		}
	}
	return found
}

// appendTerms adds normalised, non-empty terms not already present
func appendTerms(dst []string, terms ...string) []string {
	for _, term := range terms {
		term = normalize(term)
		if term == "" || contains(dst, term) {
			continue
		}
		dst = append(dst, term)
	}
	return dst
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func corroborated(n int) float64 {
	conf := confidenceBase + confidenceStep*float64(n-1)
	if conf > confidenceCap {
		return confidenceCap
	}
	return conf
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func joinTerms(terms []string) string {
	return strings.Join(terms, "、")
}
