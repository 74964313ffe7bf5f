// Package units converts between decimal USDC amounts and integer base
// units at the asset's declared 6-digit precision.
package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const Decimals = 6

var ErrInvalidAmount = errors.New("invalid amount")

var scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// ToBaseUnits converts a decimal USDC string (e.g. "5.5") to base units.
// Fractional digits beyond the asset precision are truncated toward zero.
// Negative or malformed input fails with ErrInvalidAmount.
func ToBaseUnits(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty string", ErrInvalidAmount)
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("%w: negative amount %q", ErrInvalidAmount, s)
	}
	// big.Int.SetString tolerates an explicit sign, so a bare digit check
	// is needed to keep "+5" out.
	if strings.HasPrefix(s, "+") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if whole == "" {
		whole = "0"
	}

	if len(frac) > Decimals {
		frac = frac[:Decimals]
	}
	for len(frac) < Decimals {
		frac += "0"
	}

	raw, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return raw, nil
}

// ToDecimal renders base units as a decimal string, trimming trailing
// fractional zeros. Pure, never fails; nil reads as zero.
func ToDecimal(raw *big.Int) string {
	if raw == nil {
		return "0"
	}

	neg := raw.Sign() < 0
	abs := new(big.Int).Abs(raw)

	whole, frac := new(big.Int).QuoRem(abs, scale, new(big.Int))

	out := whole.String()
	if frac.Sign() != 0 {
		digits := frac.String()
		for len(digits) < Decimals {
			digits = "0" + digits
		}
		out += "." + strings.TrimRight(digits, "0")
	}
	if neg {
		out = "-" + out
	}
	return out
}
