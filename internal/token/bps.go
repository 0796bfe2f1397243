package token

import "github.com/shopspring/decimal"

// FormatBps renders basis points as a percentage with two decimals, e.g. 2500 -> "25.00%".
func FormatBps(bps uint64) string {
	return decimal.New(int64(bps), -2).StringFixed(2) + "%"
}
