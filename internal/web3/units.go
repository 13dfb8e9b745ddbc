package web3

import (
	"fmt"
	"math/big"
	"strings"
)

const (
	// TokenDecimals applies to both ETH and LPT.
	TokenDecimals = 18
	// GweiDecimals is used for gas prices.
	GweiDecimals = 9
)

// ParseAmount converts a decimal token string such as "0.02" into base units.
func ParseAmount(s string) (*big.Int, error) {
	return ParseUnits(s, TokenDecimals)
}

// ParseUnits converts a non-negative decimal string into an integer scaled by
// 10^decimals. More fractional digits than decimals is an error rather than a
// silent rounding.
func ParseUnits(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("金额不能为空")
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("金额不能为负数: %s", s)
	}
	s = strings.TrimPrefix(s, "+")

	whole, frac, hasDot := strings.Cut(s, ".")
	if hasDot && frac == "" && whole == "" {
		return nil, fmt.Errorf("无效金额: %s", s)
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("金额 %s 超过 %d 位小数", s, decimals)
	}
	if whole == "" {
		whole = "0"
	}
	digits := whole + frac + strings.Repeat("0", decimals-len(frac))
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("无效金额: %s", s)
		}
	}
	value, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("无效金额: %s", s)
	}
	return value, nil
}

// FormatAmount renders base units as a decimal token string without
// trailing zeros.
func FormatAmount(v *big.Int) string {
	return FormatUnits(v, TokenDecimals)
}

// FormatUnits is the inverse of ParseUnits.
func FormatUnits(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	sign := ""
	abs := new(big.Int).Set(v)
	if abs.Sign() < 0 {
		sign = "-"
		abs.Neg(abs)
	}
	text := abs.String()
	if len(text) <= decimals {
		text = strings.Repeat("0", decimals-len(text)+1) + text
	}
	whole, frac := text[:len(text)-decimals], strings.TrimRight(text[len(text)-decimals:], "0")
	if frac == "" {
		return sign + whole
	}
	return sign + whole + "." + frac
}

// AmountFloat is for logs and gauges only, never for decisions.
func AmountFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Rat).SetFrac(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(TokenDecimals), nil)).Float64()
	return f
}
