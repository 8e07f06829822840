package extract

import (
	"bytes"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// decodeContentStream pulls the text shown by Tj, TJ, ' and " operators out
// of a page content stream. Line breaks follow T*, ET and vertical moves.
// Only single-byte encodings decode; CID-keyed fonts come back empty and are
// left to OCR.
func decodeContentStream(data []byte) string {
	var out []string
	var line strings.Builder
	var operands []string
	var numbers []float64

	newline := func() {
		if s := strings.TrimSpace(line.String()); s != "" {
			out = append(out, s)
		}
		line.Reset()
	}

	for i := 0; i < len(data); {
		c := data[i]
		switch {
		case isPDFSpace(c) || c == '[' || c == ']':
			i++
		case c == '%':
			for i < len(data) && data[i] != '\n' && data[i] != '\r' {
				i++
			}
		case c == '(':
			s, n := readLiteralString(data[i:])
			operands = append(operands, s)
			i += n
		case c == '<' && i+1 < len(data) && data[i+1] == '<':
			i += 2
		case c == '>' && i+1 < len(data) && data[i+1] == '>':
			i += 2
		case c == '<':
			s, n := readHexString(data[i:])
			operands = append(operands, s)
			i += n
		default:
			start := i
			for i < len(data) && !isPDFSpace(data[i]) && !isPDFDelimiter(data[i]) {
				i++
			}
			if i == start {
				i++
				continue
			}
			tok := string(data[start:i])
			if f, err := strconv.ParseFloat(tok, 64); err == nil {
				numbers = append(numbers, f)
				continue
			}
			if strings.HasPrefix(tok, "/") {
				continue
			}

			switch tok {
			case "Tj", "TJ":
				line.WriteString(strings.Join(operands, ""))
			case "'", "\"":
				newline()
				line.WriteString(strings.Join(operands, ""))
			case "T*", "ET":
				newline()
			case "Td", "TD":
				if len(numbers) >= 2 && numbers[len(numbers)-1] != 0 {
					newline()
				} else if line.Len() > 0 {
					line.WriteByte(' ')
				}
			case "ID":
				i = skipInlineImage(data, i)
			}
			operands = operands[:0]
			numbers = numbers[:0]
		}
	}
	newline()
	return strings.Join(out, "\n")
}

func isPDFSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', 0:
		return true
	}
	return false
}

func isPDFDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '%':
		return true
	}
	return false
}

// readLiteralString decodes a balanced (...) string starting at data[0] and
// returns it with the number of bytes consumed
func readLiteralString(data []byte) (string, int) {
	var buf []byte
	depth := 0
	i := 0
	for ; i < len(data); i++ {
		c := data[i]
		switch c {
		case '(':
			depth++
			if depth == 1 {
				continue
			}
		case ')':
			depth--
			if depth == 0 {
				return printable(buf), i + 1
			}
		case '\\':
			if i+1 >= len(data) {
				continue
			}
			i++
			switch e := data[i]; e {
			case 'n':
				buf = append(buf, '\n')
			case 'r':
				buf = append(buf, '\r')
			case 't':
				buf = append(buf, '\t')
			case 'b', 'f':
			case '\r', '\n':
			default:
				if e >= '0' && e <= '7' {
					val := int(e - '0')
					for k := 0; k < 2 && i+1 < len(data) && data[i+1] >= '0' && data[i+1] <= '7'; k++ {
						i++
						val = val*8 + int(data[i]-'0')
					}
					buf = append(buf, byte(val))
				} else {
					buf = append(buf, e)
				}
			}
			continue
		}
		buf = append(buf, c)
	}
	return printable(buf), i
}

func readHexString(data []byte) (string, int) {
	end := bytes.IndexByte(data, '>')
	if end < 0 {
		return "", len(data)
	}
	digits := make([]byte, 0, end)
	for _, c := range data[1:end] {
		if !isPDFSpace(c) {
			digits = append(digits, c)
		}
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	raw, err := hex.DecodeString(string(digits))
	if err != nil {
		return "", end + 1
	}
	return printable(raw), end + 1
}

// printable keeps the string when it is readable text and drops glyph ids
func printable(raw []byte) string {
	if utf8.Valid(raw) {
		s := string(raw)
		for _, r := range s {
			if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
				return ""
			}
		}
		return s
	}
	var b strings.Builder
	for _, c := range raw {
		if c >= 0x20 && c < 0x7f {
			b.WriteByte(c)
		} else if isPDFSpace(c) {
			b.WriteByte(' ')
		} else {
			return ""
		}
	}
	return b.String()
}

func skipInlineImage(data []byte, i int) int {
	idx := bytes.Index(data[i:], []byte("EI"))
	if idx < 0 {
		return len(data)
	}
	return i + idx + 2
}
