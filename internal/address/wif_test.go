package address

import "testing"

func TestDecodeWIFRejectsZeroScalar(t *testing.T) {
	zero := ""
	for len(zero) < 64 {
		zero += "0"
	}
	if _, err := DecodeWIF(zero); err == nil {
		t.Fatal("expected an error for an all-zero private key scalar")
	}
}

func TestDecodeWIFRejectsScalarAtGroupOrder(t *testing.T) {
	// secp256k1N itself is out of range; N-0 wraps to the identity.
	atN := "FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEBAAEDCE6AF48A03BBFD25E8CD0364141"
	if _, err := DecodeWIF(atN); err == nil {
		t.Fatal("expected an error for a scalar equal to the group order")
	}
}

func TestDecodeWIFAcceptsValidScalar(t *testing.T) {
	one := ""
	for len(one) < 63 {
		one += "0"
	}
	one += "1"
	priv, err := DecodeWIF(one)
	if err != nil {
		t.Fatalf("DecodeWIF: %v", err)
	}
	if priv == nil {
		t.Fatal("expected a non-nil private key")
	}
}
