package domain

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// CurrencyNGN is the only currency the platform settles in.
const CurrencyNGN = "NGN"

var (
	koboPerNaira = decimal.NewFromInt(100)
	maxKobo      = decimal.NewFromInt(math.MaxInt64)
)

// KoboFromNaira converts a naira amount to kobo. Amounts with more than two
// decimal places, and amounts that do not fit in int64 kobo, are rejected
// rather than rounded or wrapped.
func KoboFromNaira(naira decimal.Decimal) (int64, error) {
	kobo := naira.Mul(koboPerNaira)
	if !kobo.Equal(kobo.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has sub-kobo precision", naira.String())
	}
	if kobo.IsNegative() {
		return 0, fmt.Errorf("amount %s is negative", naira.String())
	}
	if kobo.GreaterThan(maxKobo) {
		return 0, fmt.Errorf("amount %s is out of range", naira.String())
	}
	return kobo.IntPart(), nil
}

// ParseNaira parses a decimal naira string such as "2500" or "2500.50" into kobo.
func ParseNaira(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid naira amount %q: %w", s, err)
	}
	return KoboFromNaira(d)
}

// FormatNaira renders kobo as a naira string with thousands separators, e.g. ₦2,500.00.
func FormatNaira(kobo int64) string {
	s := decimal.New(kobo, -2).Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if kobo < 0 {
		b.WriteByte('-')
	}
	b.WriteString("₦")
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}
