// Package wei converts between wei amounts and decimal ether strings.
package wei

import (
	"fmt"
	"math/big"
	"strings"
)

var etherWei = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// FormatEther renders a wei amount as a decimal ether string without
// trailing zeros ("1.2", "0.1", "2").
func FormatEther(amount *big.Int) string {
	if amount == nil {
		return "0"
	}

	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)

	quo := new(big.Int)
	rem := new(big.Int)
	quo.QuoRem(abs, etherWei, rem)

	out := quo.String()
	if rem.Sign() != 0 {
		frac := fmt.Sprintf("%018s", rem.String())
		frac = strings.TrimRight(frac, "0")
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

// ParseEther parses a decimal ether string into wei. At most 18 fractional
// digits are accepted.
func ParseEther(input string) (*big.Int, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("empty amount")
	}

	neg := false
	if strings.HasPrefix(input, "-") {
		neg = true
		input = input[1:]
	}

	whole := input
	frac := ""
	if idx := strings.IndexByte(input, '.'); idx >= 0 {
		whole = input[:idx]
		frac = input[idx+1:]
	}
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("malformed amount: %s", input)
	}
	if len(frac) > 18 {
		return nil, fmt.Errorf("too many decimal places: %s", input)
	}
	// Only bare digits are allowed past the optional leading sign. This
	// rejects a second sign ("--1") and signs inside the fraction ("1.-5"),
	// which big.Int.SetString would otherwise accept.
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return nil, fmt.Errorf("malformed amount: %s", input)
	}

	if whole == "" {
		whole = "0"
	}
	wholeInt, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount: %s", input)
	}

	result := new(big.Int).Mul(wholeInt, etherWei)
	if frac != "" {
		fracInt, ok := new(big.Int).SetString(frac, 10)
		if !ok {
			return nil, fmt.Errorf("malformed amount: %s", input)
		}
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(18-len(frac))), nil)
		result.Add(result, fracInt.Mul(fracInt, scale))
	}

	if neg {
		result.Neg(result)
	}
	return result, nil
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Ether returns n ether in wei.
func Ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), etherWei)
}

// TenthEther returns 0.1 ether in wei, the market's minimum bid increment.
func TenthEther() *big.Int {
	return new(big.Int).Div(etherWei, big.NewInt(10))
}
