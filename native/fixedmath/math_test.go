package fixedmath

import (
	"errors"
	"math/big"
	"testing"
)

func fixed(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), Scale)
}

func Test_Mul_TruncatesTowardZero(t *testing.T) {
	// 1.5 * 2.5 = 3.75
	a := new(big.Int).Add(fixed(1), new(big.Int).Quo(Scale, big.NewInt(2)))
	b := new(big.Int).Add(fixed(2), new(big.Int).Quo(Scale, big.NewInt(2)))
	got, err := Mul(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := new(big.Int).Add(fixed(3), new(big.Int).Mul(big.NewInt(75), new(big.Int).Quo(Scale, big.NewInt(100))))
	if got.Cmp(want) != 0 {
		t.Fatalf("unexpected product: got %s want %s", got, want)
	}

	// Negative operands truncate toward zero, not negative infinity.
	neg, err := Mul(new(big.Int).Neg(big.NewInt(1)), big.NewInt(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if neg.Sign() != 0 {
		t.Fatalf("expected truncation to zero, got %s", neg)
	}
}

func Test_Div_RequiresNonZeroDivisor(t *testing.T) {
	if _, err := Div(fixed(1), big.NewInt(0)); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
	got, err := Div(fixed(1), fixed(4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := new(big.Int).Quo(Scale, big.NewInt(4))
	if got.Cmp(want) != 0 {
		t.Fatalf("unexpected quotient: got %s want %s", got, want)
	}
}

func Test_MulAndDiv_Overflow(t *testing.T) {
	huge := new(big.Int).Set(maxInt256)
	if _, err := Mul(huge, fixed(2)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	if _, err := Div(huge, big.NewInt(1)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	if _, err := ToFixed(huge); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func Test_FixedConversions_RoundTrip(t *testing.T) {
	v, err := ToFixed(big.NewInt(42))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back := ToInt(v); back.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("round trip mismatch: %s", back)
	}
	// Fractional remainders truncate.
	frac := new(big.Int).Add(v, big.NewInt(999))
	if back := ToInt(frac); back.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("expected truncation, got %s", back)
	}
}

func Test_ParseDecimal(t *testing.T) {
	cases := []struct {
		raw  string
		want *big.Int
		ok   bool
	}{
		{"25", fixed(25), true},
		{"1.0", fixed(1), true},
		{"-0.5", new(big.Int).Neg(new(big.Int).Quo(Scale, big.NewInt(2))), true},
		{".25", new(big.Int).Quo(Scale, big.NewInt(4)), true},
		{"0.0000000000000000001", nil, false}, // 19 fractional digits
		{"abc", nil, false},
		{"", nil, false},
	}
	for _, tc := range cases {
		got, err := ParseDecimal(tc.raw)
		if tc.ok != (err == nil) {
			t.Fatalf("ParseDecimal(%q) err = %v, want ok=%v", tc.raw, err, tc.ok)
		}
		if tc.ok && got.Cmp(tc.want) != 0 {
			t.Fatalf("ParseDecimal(%q) = %s, want %s", tc.raw, got, tc.want)
		}
	}
}

func Test_MinMax_SignedOrder(t *testing.T) {
	a := fixed(-3)
	b := fixed(2)
	if Min(a, b).Cmp(a) != 0 {
		t.Fatalf("min mismatch")
	}
	if Max(a, b).Cmp(b) != 0 {
		t.Fatalf("max mismatch")
	}
	if Min(a, a).Cmp(a) != 0 || Max(b, b).Cmp(b) != 0 {
		t.Fatalf("expected idempotent min/max on equal inputs")
	}
}

func Test_UMinUMax_RefuseNegatives(t *testing.T) {
	a := fixed(3)
	b := fixed(7)
	got, err := UMin(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Cmp(a) != 0 {
		t.Fatalf("umin mismatch: %s", got)
	}
	got, err = UMax(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Cmp(b) != 0 {
		t.Fatalf("umax mismatch: %s", got)
	}

	neg := fixed(-1)
	if _, err := UMin(neg, b); !errors.Is(err, ErrNegativeValue) {
		t.Fatalf("expected ErrNegativeValue, got %v", err)
	}
	if _, err := UMax(a, neg); !errors.Is(err, ErrNegativeValue) {
		t.Fatalf("expected ErrNegativeValue, got %v", err)
	}
}
