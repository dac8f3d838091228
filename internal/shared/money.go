package shared

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var amountPrinter = message.NewPrinter(language.English)

// RoundMoney rounds a monetary amount to two decimal places.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// FormatAmount renders an amount with grouping separators, e.g. 12,500.00.
// Digits come from the decimal itself; only the whole part is grouped.
func FormatAmount(d decimal.Decimal) string {
	rounded := d.Round(2)
	sign := ""
	if rounded.IsNegative() {
		sign = "-"
	}
	fixed := rounded.Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")
	n, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		// Beyond int64 the grouping is dropped rather than the digits.
		return sign + fixed
	}
	return sign + amountPrinter.Sprintf("%d", n) + "." + frac
}
