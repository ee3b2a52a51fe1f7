package normalize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrUnparseablePrice is returned when price text holds no usable number.
var ErrUnparseablePrice = errors.New("unparseable price")

// ParsePrice extracts a numeric price from free text such as "1.234,56 €".
//
// Currency symbols, letters and whitespace are discarded. When both ',' and
// '.' appear, whichever occurs last is the decimal separator and the other is
// a thousands separator. A separator that repeats on its own is a thousands
// separator. A single ',' or '.' is a decimal separator, so "1.234" parses as
// 1.234.
func ParsePrice(text string) (decimal.Decimal, error) {
	var b strings.Builder
	for _, r := range text {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	s := strings.Trim(b.String(), ",.")
	if s == "" || s == "-" {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnparseablePrice, text)
	}

	commas := strings.Count(s, ",")
	dots := strings.Count(s, ".")
	switch {
	case commas > 0 && dots > 0:
		decimalSep, thousandsSep := ".", ","
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			decimalSep, thousandsSep = ",", "."
		}
		if strings.Count(s, decimalSep) > 1 {
			return decimal.Zero, fmt.Errorf("%w: %q", ErrUnparseablePrice, text)
		}
		s = strings.ReplaceAll(s, thousandsSep, "")
		s = strings.Replace(s, decimalSep, ".", 1)
	case commas > 1:
		s = strings.ReplaceAll(s, ",", "")
	case dots > 1:
		s = strings.ReplaceAll(s, ".", "")
	case commas == 1:
		s = strings.Replace(s, ",", ".", 1)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnparseablePrice, text)
	}
	return d, nil
}

// FormatPrice renders a parsed price with '.' as decimal separator, keeping
// the number of fractional digits it was parsed with.
func FormatPrice(d decimal.Decimal) string {
	if exp := d.Exponent(); exp < 0 {
		return d.StringFixed(-exp)
	}
	return d.String()
}

// SellingPrice returns round(cost*margin, 2), or zero when cost is not positive.
func SellingPrice(cost decimal.Decimal, margin decimal.Decimal) decimal.Decimal {
	if !cost.IsPositive() {
		return decimal.Zero
	}
	return cost.Mul(margin).Round(2)
}
