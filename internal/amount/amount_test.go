package amount

import (
	"math/big"
	"testing"
)

func TestFromNumberVariants(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
		want string
	}{
		{"string", "12345", "12345"},
		{"int64", int64(42), "42"},
		{"int", 7, "7"},
		{"float64 whole", float64(100), "100"},
		{"big.Int", big.NewInt(900000000000), "900000000000"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := FromNumber(c.in)
			if err != nil {
				t.Fatalf("FromNumber(%v): %v", c.in, err)
			}
			if got.String() != c.want {
				t.Fatalf("FromNumber(%v) = %s, want %s", c.in, got, c.want)
			}
		})
	}
}

func TestFromNumberRejectsInexact(t *testing.T) {
	cases := []interface{}{
		"1.5",
		float64(1.5),
		"-1",
		int64(-1),
		nil,
	}
	for _, c := range cases {
		if _, err := FromNumber(c); err == nil {
			t.Fatalf("FromNumber(%v): expected error, got none", c)
		}
	}
}

func TestDisplayToAtomsRoundTrip(t *testing.T) {
	for _, d := range []int{0, 1, 2, 8} {
		for _, a := range []int64{0, 1, 42, 123456789} {
			atoms := big.NewInt(a)
			display := AtomsToDisplay(atoms, d)
			back, err := DisplayToAtoms(display, d)
			if err != nil {
				t.Fatalf("DisplayToAtoms(%q, %d): %v", display, d, err)
			}
			if back.Cmp(atoms) != 0 {
				t.Fatalf("round trip mismatch: atoms=%s decimals=%d display=%q back=%s", atoms, d, display, back)
			}
		}
	}
}

func TestDisplayToAtomsFloorsExcessPrecision(t *testing.T) {
	got, err := DisplayToAtoms("1.239", 2)
	if err != nil {
		t.Fatalf("DisplayToAtoms: %v", err)
	}
	if got.String() != "123" {
		t.Fatalf("expected floor to 123, got %s", got)
	}
}

func TestAtomsToDisplayZeroDecimals(t *testing.T) {
	if got := AtomsToDisplay(big.NewInt(500), 0); got != "500" {
		t.Fatalf("expected %q, got %q", "500", got)
	}
}

func TestSumTreatsNilAsZero(t *testing.T) {
	got := Sum(big.NewInt(1), nil, big.NewInt(2))
	if got.String() != "3" {
		t.Fatalf("Sum = %s, want 3", got)
	}
}
