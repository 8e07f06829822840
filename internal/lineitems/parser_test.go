package lineitems

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-capex-classifier/internal/extract"
)

func f(v float64) *float64 { return &v }

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want *float64
	}{
		{"500,000", f(500000)},
		{"¥1,200,000-", f(1200000)},
		{"５００，０００円", f(500000)},
		{"￥ 3,000", f(3000)},
		{"▲3,000", f(-3000)},
		{"-1500", f(-1500)},
		{"12.5", f(12.5)},
		{"1式", nil},
		{"", nil},
		{"-", nil},
		{"0x10", nil},
		{"Inf", nil},
		{"abc", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseNumber(tt.in))
		})
	}
}

func TestIsSummaryText(t *testing.T) {
	for _, s := range []string{"小計", "合 計", "消費税(10%)", "税込合計", "出精値引き", "内消費税", "Subtotal", "TOTAL:", "Tax 10%", "値引"} {
		assert.True(t, isSummaryText(s), s)
	}
	for _, s := range []string{"サーバー設置工事", "taxi fare", "totally new", "保守", ""} {
		assert.False(t, isSummaryText(s), s)
	}
}

func TestParseTables_HeaderMapped(t *testing.T) {
	pages := []extract.Page{{
		Page:   1,
		Method: extract.MethodLedongthuc,
		Tables: []extract.Table{{
			{"No", "品名", "数量", "単価(円)", "金額"},
			{"1", "サーバー設置工事", "1式", "500,000", "500,000"},
			{"2", "ＵＰＳ購入", "2台", "150,000", ""},
			{"3", "備考のみ", "", "", ""},
			{"", "", "", "小計", "800,000"},
			{"", "", "", "消費税", "80,000"},
			{"", "", "", "合計", "880,000"},
		}},
	}}

	items := ParseTables(pages)

	require.Len(t, items, 2)
	assert.Equal(t, "サーバー設置工事", items[0].Description)
	assert.Equal(t, "1式", items[0].Quantity)
	assert.Equal(t, f(500000), items[0].Amount)
	assert.Equal(t, f(500000), items[0].UnitPrice)
	assert.Equal(t, "page 1 row 2", items[0].Evidence.PositionHint)
	assert.Equal(t, "1 サーバー設置工事 1式 500,000 500,000", items[0].Evidence.SourceText)
	require.Len(t, items[0].Evidence.Snippets, 1)
	assert.Equal(t, extract.MethodLedongthuc, items[0].Evidence.Snippets[0].Method)

	assert.Equal(t, "UPS購入", items[1].Description)
	assert.Equal(t, "2台", items[1].Quantity)
	assert.Equal(t, f(300000), items[1].Amount)
	assert.True(t, items[1].Flags.Has(FlagAmountComputed))
}

func TestParseTables_PositionalFallback(t *testing.T) {
	tests := []struct {
		name  string
		table extract.Table
		desc  string
		qty   string
		unit  *float64
		amt   *float64
	}{
		{"two columns", extract.Table{{"保守点検", "50,000"}, {"清掃", "10,000"}}, "保守点検", "", nil, f(50000)},
		{"three columns", extract.Table{{"保守点検", "2", "100,000"}, {"清掃", "1", "10,000"}}, "保守点検", "2", nil, f(100000)},
		{"five columns, amount last", extract.Table{{"空調設置", "1", "300,000", "課税", "300,000"}, {"x", "1", "1", "", "1"}}, "空調設置", "1", f(300000), f(300000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := ParseTables([]extract.Page{{Page: 2, Tables: []extract.Table{tt.table}}})
			require.NotEmpty(t, items)
			assert.Equal(t, tt.desc, items[0].Description)
			assert.Equal(t, tt.qty, items[0].Quantity)
			assert.Equal(t, tt.unit, items[0].UnitPrice)
			assert.Equal(t, tt.amt, items[0].Amount)
			assert.Equal(t, 2, items[0].Page)
		})
	}
}

func TestParseTables_RemarksColumnIsNotASummary(t *testing.T) {
	pages := []extract.Page{{
		Page: 1,
		Tables: []extract.Table{{
			{"品名", "数量", "金額", "備考"},
			{"サーバー購入", "1", "350,000", "税込"},
			{"保守契約", "1", "50,000", ""},
			{"合計", "", "400,000", ""},
		}},
	}}

	items, totals := parse(pages)

	require.Len(t, items, 2)
	assert.Equal(t, "サーバー購入", items[0].Description)
	assert.Equal(t, f(350000), items[0].Amount)
	assert.Equal(t, "保守契約", items[1].Description)
	assert.Equal(t, f(400000), totals.Total)
}

func TestSummaryCell(t *testing.T) {
	header := map[column]int{colDescription: 1, colAmount: 3}
	tests := []struct {
		name string
		row  []string
		m    map[column]int
		want bool
	}{
		{"description is summary", []string{"", "小計", "", "800,000"}, header, true},
		{"label under unit price", []string{"", "", "合計", "880,000"}, header, true},
		{"remark mentions tax", []string{"1", "サーバー購入", "税込", "350,000"}, header, false},
		{"positional summary", []string{"消費税", "80,000"}, positionalMapping(2), true},
		{"positional numeric first cell", []string{"3", "値引", "-5,000"}, positionalMapping(3), true},
		{"positional item with remark", []string{"保守", "1", "50,000", "税込", "50,000"}, positionalMapping(5), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := summaryCell(tt.row, tt.m)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestParseTables_SkipsSingleRowTablesAndDedups(t *testing.T) {
	pages := []extract.Page{{
		Page: 1,
		Tables: []extract.Table{
			{{"品名", "金額"}},
			{{"保守点検", "50,000"}, {"保守点検", "50,000.4"}, {"保守点検", "60,000"}},
		},
	}}

	items := ParseTables(pages)

	require.Len(t, items, 2)
	assert.Equal(t, f(50000), items[0].Amount)
	assert.Equal(t, f(60000), items[1].Amount)
}

func TestParseText(t *testing.T) {
	pages := []extract.Page{{
		Page:   1,
		Method: extract.MethodOCR,
		Text: "御見積書\n" +
			"2025年4月1日\n" +
			"TEL 03-1234-5678\n" +
			"サーバー設置工事 1式 ¥500,000\n" +
			"年間保守契約 12ヶ月 60,000円\n" +
			"¥75,000\n" +
			"No. 5\n" +
			"小計 635,000\n" +
			"合計 698,500\n",
	}}

	items := ParseText(pages)

	require.Len(t, items, 3)
	assert.Equal(t, "サーバー設置工事", items[0].Description)
	assert.Equal(t, f(500000), items[0].Amount)
	assert.Equal(t, "page 1 line 4", items[0].Evidence.PositionHint)
	assert.Equal(t, "年間保守契約", items[1].Description)
	assert.Equal(t, f(60000), items[1].Amount)
	assert.Equal(t, "項目（¥75000）", items[2].Description)
	assert.Equal(t, extract.MethodOCR, items[2].Evidence.Snippets[0].Method)
}

func TestParseText_KeepsItemLines(t *testing.T) {
	tests := []struct {
		name string
		line string
		desc string
		amt  *float64
	}{
		{"latin name containing tel", "Intel Xeon サーバー購入 350,000", "Intel Xeon サーバー購入", f(350000)},
		{"hotel", "Hotel予約システム導入 800,000", "Hotel予約システム導入", f(800000)},
		{"leading delivery date", "2024/04/01 保守点検 50,000", "保守点検", f(50000)},
		{"japanese date after name", "保守点検 2024年4月1日 50,000", "保守点検", f(50000)},
		{"plain", "サーバー購入 350,000", "サーバー購入", f(350000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := ParseText([]extract.Page{{Page: 1, Text: tt.line}})
			require.Len(t, items, 1)
			assert.Equal(t, tt.desc, items[0].Description)
			assert.Equal(t, tt.amt, items[0].Amount)
			assert.Equal(t, Normalize(tt.line), items[0].Evidence.SourceText)
		})
	}
}

func TestParseText_SkipsContactAndDateLines(t *testing.T) {
	text := "TEL 03-1234-5678\n" +
		"Fax: 03-1234-5679\n" +
		"電話 0120 123 456\n" +
		"〒100-0001 東京都千代田区1-1\n" +
		"2025年4月1日\n" +
		"発行日 2025/04/01\n"
	assert.Empty(t, ParseText([]extract.Page{{Page: 1, Text: text}}))
}

func TestParse_PrefersTablesThenTextThenCatchAll(t *testing.T) {
	withTable := []extract.Page{{
		Page:   1,
		Text:   "別件 99,999",
		Tables: []extract.Table{{{"品名", "金額"}, {"保守", "50,000"}}},
	}}
	items := Parse(withTable)
	require.Len(t, items, 1)
	assert.Equal(t, "保守", items[0].Description)

	textOnly := []extract.Page{{Page: 1, Text: "別件 99,999"}}
	items = Parse(textOnly)
	require.Len(t, items, 1)
	assert.Equal(t, "別件", items[0].Description)

	noNumbers := []extract.Page{{Page: 1, Text: ""}, {Page: 2, Method: extract.MethodOCR, Text: " 機器一式の更新について \n詳細別紙"}}
	items = Parse(noNumbers)
	require.Len(t, items, 1)
	assert.Equal(t, "機器一式の更新について \n詳細別紙", items[0].Description)
	assert.True(t, items[0].Flags.Has(FlagCatchAll))
	assert.Nil(t, items[0].Amount)
	assert.Equal(t, 2, items[0].Page)

	assert.Empty(t, Parse([]extract.Page{{Page: 1, Text: "  "}}))
	assert.Empty(t, Parse(nil))
}
