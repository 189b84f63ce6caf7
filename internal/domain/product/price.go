package product

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// PriceNotAvailable is returned for any price that cannot be parsed.
const PriceNotAvailable = "Price not available"

// ParsePrice converts a provider price of any shape into a two-decimal string.
// Everything after the first '/' is dropped ("$12.50/mo"), then every character
// other than digits and '.' is removed, and the longest leading decimal number
// is kept ("1.2.3" reads as 1.2). Input that leaves no digits yields
// PriceNotAvailable. ParsePrice never fails.
func ParsePrice(raw any) string {
	s, ok := priceText(raw)
	if !ok {
		return PriceNotAvailable
	}

	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}

	num := leadingDecimal(keepDigitsAndDots(s))
	if num == "" {
		return PriceNotAvailable
	}

	d, err := decimal.NewFromString(num)
	if err != nil {
		return PriceNotAvailable
	}
	return d.StringFixed(2)
}

// IsPriceAvailable reports whether a normalized price holds a number.
func IsPriceAvailable(price string) bool {
	return price != "" && price != PriceNotAvailable
}

func priceText(raw any) (string, bool) {
	switch v := raw.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case json.Number:
		// Exponent forms ("1.5e2") must read as their value, not their digits.
		if d, err := decimal.NewFromString(string(v)); err == nil {
			return d.String(), true
		}
		return string(v), true
	case fmt.Stringer:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	default:
		return fmt.Sprint(v), true
	}
}

func keepDigitsAndDots(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= '0' && c <= '9') || c == '.' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// leadingDecimal returns the longest prefix of s shaped like digits[.digits]
// holding at least one digit, or "" when there is none.
func leadingDecimal(s string) string {
	end, digits, dot := 0, 0, false
	for end < len(s) {
		c := s[end]
		if c == '.' {
			if dot {
				break
			}
			dot = true
		} else {
			digits++
		}
		end++
	}
	if digits == 0 {
		return ""
	}
	out := strings.TrimSuffix(s[:end], ".")
	if strings.HasPrefix(out, ".") {
		out = "0" + out
	}
	return out
}
