package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF assembles a minimal single-font PDF with one content stream per
// page and a correct cross-reference table
func buildPDF(pageStreams ...string) []byte {
	var objs []string
	kids := ""
	for i := range pageStreams {
		kids += fmt.Sprintf("%d 0 R ", 4+2*i)
	}
	objs = append(objs,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, len(pageStreams)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	)
	for i, stream := range pageStreams {
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, obj := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func writeBuiltPDF(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "built.pdf")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLocalStrategy_ReadsSimplePDF(t *testing.T) {
	path := writeBuiltPDF(t, buildPDF(
		"BT /F1 12 Tf 72 720 Td (Maintenance contract) Tj ET",
		"BT /F1 12 Tf 72 720 Td (Second page) Tj ET",
	))

	s := NewLocalStrategy(nil)
	assert.True(t, s.Enabled())
	assert.Equal(t, "local", s.Name())

	pr, err := s.TryExtract(context.Background(), path)

	require.NoError(t, err)
	require.Len(t, pr.Pages, 2)
	assert.Equal(t, 1, pr.Pages[0].Page)
	assert.Equal(t, 2, pr.Pages[1].Page)
	assert.Contains(t, pr.Pages[0].Text, "Maintenance")
	assert.Contains(t, pr.Pages[1].Text, "Second")
	assert.Contains(t, []string{MethodLedongthuc, MethodPDFCPU}, pr.Pages[0].Method)
}

func TestLocalStrategy_PDFCPUReadsContentStreams(t *testing.T) {
	path := writeBuiltPDF(t, buildPDF("BT /F1 12 Tf 72 720 Td (Inspection) Tj 0 -14 Td (Cleaning) Tj ET"))

	pages, err := NewLocalStrategy(nil).extractPDFCPU(context.Background(), path)

	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, MethodPDFCPU, pages[0].Method)
	assert.Equal(t, "Inspection\nCleaning", pages[0].Text)
	assert.NotNil(t, pages[0].Tables)
	assert.Equal(t, 1, countPages(path))
}

func TestLocalStrategy_GarbageIsUnavailable(t *testing.T) {
	path := writeBuiltPDF(t, []byte("%PDF-1.4\n%%EOF\n"))

	pr, err := NewLocalStrategy(nil).TryExtract(context.Background(), path)

	assert.Nil(t, pr)
	var se *StrategyError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "local", se.Strategy)
	assert.Equal(t, 0, countPages(path))
}
