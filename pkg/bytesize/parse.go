// Parses byte amounts like "128KiB", "0x20000", "1M5" into byte counts
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse accepts one or more concatenated size terms which are summed.
// A term is a decimal or 0x-prefixed hex number, optionally followed by
// a multiplier letter (K/M/G/T/P), an optional "i" selecting binary
// multiples (base 1024 instead of 1000), and optional fraction digits
// ("1M5" = 1.5 M). A trailing "B" is tolerated.
func Parse(input string) (int64, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, fmt.Errorf("bytesize: empty input")
	}

	total := int64(0)

	for len(s) > 0 {
		term, rest, err := parseTerm(s)
		if err != nil {
			return 0, fmt.Errorf("bytesize: %q: %w", input, err)
		}

		total += term
		s = rest
	}

	return total, nil
}

func parseTerm(s string) (int64, string, error) {
	numEnd := 0
	parseBase := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		numEnd = 2
		parseBase = 16
		for numEnd < len(s) && isHexDigit(s[numEnd]) {
			numEnd++
		}
		if numEnd == 2 {
			return 0, "", fmt.Errorf("truncated hex number")
		}
	} else {
		for numEnd < len(s) && isDigit(s[numEnd]) {
			numEnd++
		}
		if numEnd == 0 {
			return 0, "", fmt.Errorf("expected number at %q", s)
		}
	}

	numStr := s[numEnd:]
	value, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimPrefix(s[:numEnd], "0x"), "0X"), parseBase, 64)
	if err != nil {
		return 0, "", err
	}

	s = numStr

	if len(s) == 0 {
		return value, "", nil
	}

	exp := multiplierExponent(s[0])
	if exp == 0 {
		if s[0] == 'B' || s[0] == 'b' {
			return value, s[1:], nil
		}
		return 0, "", fmt.Errorf("invalid multiplier %q", string(s[0]))
	}
	s = s[1:]

	base := int64(1000)
	if len(s) > 0 && s[0] == 'i' {
		base = 1024
		s = s[1:]
	}

	multiplier := int64(1)
	for i := 0; i < exp; i++ {
		multiplier *= base
	}

	value *= multiplier

	// fraction digits are milli-units of the multiplier, scaled by the
	// next smaller multiplier step: "1M5" = 1 M + 500 k
	fracEnd := 0
	for fracEnd < len(s) && isDigit(s[fracEnd]) {
		fracEnd++
	}
	if fracEnd > 0 {
		frac, err := strconv.ParseInt(s[:fracEnd], 10, 64)
		if err != nil {
			return 0, "", err
		}

		switch fracEnd {
		case 1:
			frac *= 100
		case 2:
			frac *= 10
		}

		value += frac * (multiplier / base)
		s = s[fracEnd:]
	}

	if len(s) > 0 && (s[0] == 'B' || s[0] == 'b') {
		s = s[1:]
	}

	return value, s, nil
}

func multiplierExponent(c byte) int {
	switch c {
	case 'k', 'K':
		return 1
	case 'm', 'M':
		return 2
	case 'g', 'G':
		return 3
	case 't', 'T':
		return 4
	case 'p', 'P':
		return 5
	}

	return 0
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
