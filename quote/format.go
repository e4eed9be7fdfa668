package quote

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// FormatBRL renders an amount as Brazilian reais: "R$ 1.234,50".
func FormatBRL(m Money) string {
	fixed := m.Decimal.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")

	var grouped strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(r)
	}

	sign := ""
	if m.Decimal.IsNegative() {
		sign = "-"
	}
	return sign + "R$ " + grouped.String() + "," + frac
}

// FormatQuantity drops trailing zeros: 2 -> "2", 1.5 -> "1,5".
func FormatQuantity(q float64) string {
	s := NewMoney(q).Decimal.String()
	return strings.Replace(s, ".", ",", 1)
}

// Digits strips everything but 0-9.
func Digits(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// FormatPhone masks a Brazilian phone number by length:
// landline "(21) 2345-6789", mobile "(21) 97262-5476".
func FormatPhone(phone string) string {
	d := Digits(phone)
	switch {
	case len(d) == 0:
		return ""
	case len(d) <= 2:
		return "(" + d + ")"
	case len(d) <= 6:
		return "(" + d[:2] + ") " + d[2:]
	case len(d) <= 10:
		return "(" + d[:2] + ") " + d[2:6] + "-" + d[6:]
	default:
		return "(" + d[:2] + ") " + d[2:7] + "-" + d[7:11]
	}
}

// ParseBRL reads "R$ 1.234,50", "1234,5" or "1234.50".
func ParseBRL(s string) (Money, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "R$"))
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, &ValidationError{Fields: []FieldError{{Field: "precoUnitario", Message: "invalid amount " + s}}}
	}
	return Money{d}, nil
}
