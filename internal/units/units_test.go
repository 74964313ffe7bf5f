package units

import (
	"math/big"
	"testing"
)

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"0", 0},
		{"1", 1_000_000},
		{"5.5", 5_500_000},
		{"0.000001", 1},
		{"0.1", 100_000},
		{".5", 500_000},
		{"100.", 100_000_000},
		{"  2.25 ", 2_250_000},
		// Digits beyond the asset precision truncate toward zero.
		{"0.0000019", 1},
		{"1.9999999", 1_999_999},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ToBaseUnits(tt.in)
			if err != nil {
				t.Fatalf("ToBaseUnits(%q) error = %v", tt.in, err)
			}
			if got.Int64() != tt.want {
				t.Errorf("ToBaseUnits(%q) = %s, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestToBaseUnitsRejectsMalformed(t *testing.T) {
	// Explicit plus signs are malformed too: SetString would accept them.
	bad := []string{"", ".", "-1", "-0.5", "+5", "+.5", "1.2.3", "abc", "1e6", "1,5", "0x10"}
	for _, in := range bad {
		t.Run(in, func(t *testing.T) {
			if _, err := ToBaseUnits(in); err == nil {
				t.Errorf("ToBaseUnits(%q) accepted malformed input", in)
			}
		})
	}
}

func TestToDecimal(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{1, "0.000001"},
		{1_000_000, "1"},
		{5_500_000, "5.5"},
		{100_000, "0.1"},
		{1_999_999, "1.999999"},
		{-2_250_000, "-2.25"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := ToDecimal(big.NewInt(tt.in)); got != tt.want {
				t.Errorf("ToDecimal(%d) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	if got := ToDecimal(nil); got != "0" {
		t.Errorf("ToDecimal(nil) = %q, want %q", got, "0")
	}
}

func TestRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "1", "5.5", "0.000001", "123456.789", "0.1"} {
		raw, err := ToBaseUnits(s)
		if err != nil {
			t.Fatalf("ToBaseUnits(%q) error = %v", s, err)
		}
		if got := ToDecimal(raw); got != s {
			t.Errorf("round trip %q -> %s -> %q", s, raw, got)
		}
	}
}
