package lineitems

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Normalize folds full-width ASCII to narrow, half-width katakana to wide
// and applies NFKC
func Normalize(s string) string {
	return norm.NFKC.String(width.Fold.String(s))
}

var numberStripper = strings.NewReplacer(
	"¥", "", "￥", "", "\\", "", "円", "", ",", "", "，", "", "、", "", "$", "",
	" ", "", "　", "", "\t", "",
)

// ParseNumber reads a money or quantity figure such as "¥1,200,000-",
// "５００，０００円" or "▲3,000". Anything else yields nil.
func ParseNumber(s string) *float64 {
	s = numberStripper.Replace(Normalize(strings.TrimSpace(s)))
	if s == "" {
		return nil
	}

	neg := false
	switch {
	case strings.HasPrefix(s, "▲"), strings.HasPrefix(s, "△"):
		neg = true
		s = strings.TrimLeft(s, "▲△")
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	}
	s = strings.TrimRight(s, "-―")
	if !plainNumber.MatchString(s) {
		return nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) {
		return nil
	}
	if neg {
		v = -v
	}
	return &v
}

var plainNumber = regexp.MustCompile(`^(\d+(\.\d*)?|\.\d+)$`)

var leadingNumber = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)`)

// quantityValue returns the numeric part of a quantity like "2台" or "1.5"
func quantityValue(q string) (float64, bool) {
	m := leadingNumber.FindStringSubmatch(Normalize(q))
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	return v, err == nil
}

// normalizeQuantity keeps the cell text, width-folded and trimmed
func normalizeQuantity(q string) string {
	return strings.TrimSpace(Normalize(q))
}

// compact lowercases and removes all whitespace, used for keyword matching
func compact(s string) string {
	s = strings.ToLower(Normalize(s))
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
