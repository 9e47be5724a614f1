package classifier

import (
	"math/big"
	"testing"

	"github.com/zh/minimal-xec-wallet/pkg/wallet"
)

func mkUTXO(sats int64, blockHeight int64) wallet.UTXO {
	return wallet.UTXO{
		Outpoint:     wallet.Outpoint{Txid: "aa", Vout: 0},
		Sats:         big.NewInt(sats),
		BlockHeight:  blockHeight,
		OutputScript: []byte{0x76, 0xa9, 0x14, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 0x88, 0xac},
	}
}

// S1: UTXO {sats: 1000, block_height: 799994} at tip 800000.
func TestClassifyScenarioS1(t *testing.T) {
	c := New(DefaultConfig())
	u := mkUTXO(1000, 799994)

	cl, err := c.Classify(u, 800000)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cl.AgeBucket != wallet.AgeRecent {
		t.Errorf("AgeBucket = %s, want %s", cl.AgeBucket, wallet.AgeRecent)
	}
	if cl.ValueBucket != wallet.ValueMicro {
		t.Errorf("ValueBucket = %s, want %s", cl.ValueBucket, wallet.ValueMicro)
	}
	if cl.HealthBucket != wallet.HealthAtRisk {
		t.Errorf("HealthBucket = %s, want %s", cl.HealthBucket, wallet.HealthAtRisk)
	}
	if !cl.Metadata.IsRoundNumber {
		t.Errorf("IsRoundNumber = false, want true")
	}
}

func TestClassifyIdempotent(t *testing.T) {
	c := New(DefaultConfig())
	u := mkUTXO(123456, 799000)

	a, err := c.Classify(u, 800000)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	b, err := c.Classify(u, 800000)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if a != b {
		t.Fatalf("Classify is not idempotent: %+v != %+v", a, b)
	}
}

func TestScoresStayInBounds(t *testing.T) {
	c := New(DefaultConfig())
	amounts := []int64{0, 1, 546, 547, 999, 1000, 5000, 50000, 500000, 5000000, 50000000}
	heights := []int64{-1, 799999, 799994, 795968, 792000, 100}

	for _, sats := range amounts {
		for _, h := range heights {
			u := mkUTXO(sats, h)
			cl, err := c.Classify(u, 800000)
			if err != nil {
				continue // dust/invalid combos are allowed to error
			}
			for name, v := range map[string]int{
				"HealthScore":  cl.HealthScore,
				"PrivacyScore": cl.PrivacyScore,
				"AgeScore":     cl.AgeScore,
				"ValueScore":   cl.ValueScore,
			} {
				if v < 0 || v > 100 {
					t.Fatalf("sats=%d height=%d: %s = %d out of [0,100]", sats, h, name, v)
				}
			}
		}
	}
}

func TestBulkClassifySkipsMalformedWithoutAborting(t *testing.T) {
	c := New(DefaultConfig())
	good := mkUTXO(10000, 799000)
	bad := wallet.UTXO{Outpoint: wallet.Outpoint{Txid: "bb", Vout: 1}, Sats: big.NewInt(-5), BlockHeight: 799000}

	res := c.BulkClassify([]wallet.UTXO{good, bad}, 800000)
	if res.ErrorCount != 1 {
		t.Fatalf("ErrorCount = %d, want 1", res.ErrorCount)
	}
	if _, ok := res.Classifications[good.Outpoint]; !ok {
		t.Fatalf("expected good UTXO to be classified despite the bad one")
	}
	if _, ok := res.Classifications[bad.Outpoint]; ok {
		t.Fatalf("malformed UTXO should not appear in the result")
	}
}

func TestSpendableUnconfirmedUTXO(t *testing.T) {
	c := New(DefaultConfig())
	u := mkUTXO(10000, -1)
	cl, err := c.Classify(u, 800000)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cl.AgeBucket != wallet.AgeUnconfirmed {
		t.Errorf("AgeBucket = %s, want unconfirmed", cl.AgeBucket)
	}
	if cl.HealthBucket != wallet.HealthUnconfirmed {
		t.Errorf("HealthBucket = %s, want unconfirmed", cl.HealthBucket)
	}
}
