package classifier

// KeywordCategory names the evidence a keyword rule contributes
type KeywordCategory string

const (
	CategoryCapital KeywordCategory = "capital"
	CategoryExpense KeywordCategory = "expense"
	CategoryMixed   KeywordCategory = "mixed"
)

// KeywordRule is a set of terms that, when found in an item's text, count
// as evidence for one category
type KeywordRule struct {
	Name        string
	Category    KeywordCategory
	Keywords    []string
	Enabled     bool
	Description string
}

// TaxRule annotates an item whose own amount falls in [Min, Max).
// A zero Max means the band is open-ended.
type TaxRule struct {
	ID    string
	Min   float64
	Max   float64
	Title string
	// GuidanceOnly rules are attached only when the item already ended up
	// in GUIDANCE, unless every rule is annotated by option
	GuidanceOnly bool
}

// Matches reports whether amount falls in the rule's band
func (r TaxRule) Matches(amount float64) bool {
	if amount < r.Min {
		return false
	}
	return r.Max == 0 || amount < r.Max
}

// getDefaultKeywordRules returns the built-in keyword tables
func getDefaultKeywordRules() []KeywordRule {
	return []KeywordRule{
		{
			Name:     "capital_keywords",
			Category: CategoryCapital,
			Keywords: []string{
				"新設", "設置", "導入", "構築", "購入",
				"増設", "改修", "整備", "据付", "取得",
			},
			Enabled:     true,
			Description: "Acquisition, installation and improvement work",
		},
		{
			Name:     "expense_keywords",
			Category: CategoryExpense,
			Keywords: []string{
				"保守", "点検", "修理", "修繕", "補修",
				"調整", "清掃", "消耗品", "メンテナンス", "交換部品",
			},
			Enabled:     true,
			Description: "Maintenance, repair and consumables",
		},
		{
			Name:     "mixed_keywords",
			Category: CategoryMixed,
			Keywords: []string{
				"一式", "撤去", "移設", "既設", "解体", "処分",
			},
			Enabled:     true,
			Description: "Terms that hide the nature of the work and force a human decision",
		},
	}
}

// getDefaultTaxRules returns the depreciation threshold bands in ascending order
func getDefaultTaxRules() []TaxRule {
	return []TaxRule{
		{
			ID:    "R-AMOUNT-003",
			Min:   0,
			Max:   100_000,
			Title: "少額減価償却資産（損金算入可）",
		},
		{
			ID:           "R-AMOUNT-004",
			Min:          100_000,
			Max:          200_000,
			Title:        "一括償却資産（3年均等償却）",
			GuidanceOnly: true,
		},
		{
			ID:    "R-AMOUNT-005",
			Min:   200_000,
			Max:   300_000,
			Title: "減価償却資産",
		},
		{
			ID:    "R-AMOUNT-006",
			Min:   200_000,
			Max:   300_000,
			Title: "中小企業者等の少額減価償却資産の特例",
		},
		{
			ID:    "R-AMOUNT-001",
			Min:   300_000,
			Max:   600_000,
			Title: "原則として資産計上",
		},
		{
			ID:    "R-AMOUNT-002",
			Min:   600_000,
			Title: "資本的支出か修繕費かの区分が必要",
		},
	}
}
