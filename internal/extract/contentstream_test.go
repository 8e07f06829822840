package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeContentStream(t *testing.T) {
	tests := []struct {
		name   string
		stream string
		want   string
	}{
		{
			name:   "simple Tj",
			stream: "BT\n/F1 12 Tf\n100 700 Td\n(Hello World) Tj\nET\n",
			want:   "Hello World",
		},
		{
			name:   "TJ array with kerning",
			stream: "BT /F1 10 Tf [(Main)-120(tenance)] TJ ET",
			want:   "Maintenance",
		},
		{
			name:   "T* and quote start new lines",
			stream: "BT (Line one) Tj T* (Line two) Tj (Line three) ' ET",
			want:   "Line one\nLine two\nLine three",
		},
		{
			name:   "vertical Td breaks, horizontal Td spaces",
			stream: "BT (Qty) Tj 50 0 Td (2) Tj 0 -14 Td (Total) Tj ET",
			want:   "Qty 2\nTotal",
		},
		{
			name:   "escapes and nested parens",
			stream: `BT (A \(note\) \101 (x)) Tj ET`,
			want:   "A (note) A (x)",
		},
		{
			name:   "printable hex string",
			stream: "BT <48656C6C6F> Tj ET",
			want:   "Hello",
		},
		{
			name:   "glyph id hex string dropped",
			stream: "BT <0012003A> Tj ET",
			want:   "",
		},
		{
			name:   "comments and dictionaries skipped",
			stream: "% comment (not text) Tj\n/P <</MCID 0>> BDC BT (Body) Tj ET EMC",
			want:   "Body",
		},
		{
			name:   "inline image skipped",
			stream: "BI /W 1 /H 1 ID \x00\x01(junk) EI BT (After) Tj ET",
			want:   "After",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeContentStream([]byte(tt.stream)))
		})
	}
}

func TestDecodeContentStream_TruncatedInputDoesNotPanic(t *testing.T) {
	for _, s := range []string{"(unterminated", "<4865", "BT [(a", "\\", "<<"} {
		assert.NotPanics(t, func() { decodeContentStream([]byte(s)) })
	}
}
