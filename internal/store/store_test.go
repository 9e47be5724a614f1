package store

import (
	"math/big"
	"testing"

	"github.com/zh/minimal-xec-wallet/pkg/wallet"
)

func plainUTXO(txid string, sats int64, height int64) wallet.UTXO {
	return wallet.UTXO{
		Outpoint:     wallet.Outpoint{Txid: txid, Vout: 0},
		Sats:         big.NewInt(sats),
		BlockHeight:  height,
		OutputScript: []byte{0x76, 0xa9, 0x14, 0, 0, 0, 0x88, 0xac},
	}
}

func newTestStore(utxos []wallet.UTXO, cls map[wallet.Outpoint]wallet.Classification) *Store {
	if cls == nil {
		cls = make(map[wallet.Outpoint]wallet.Classification)
	}
	return &Store{utxos: utxos, classifications: cls, initialized: true}
}

// §4.5 invariant ii: SpendablePlainUTXOs never surfaces a token UTXO.
func TestSpendablePlainUTXOsExcludesTokens(t *testing.T) {
	tok := plainUTXO("tok", 5000, 100)
	tok.Token = &wallet.TokenAnnotation{TokenID: "t1", Atoms: big.NewInt(1), Protocol: wallet.ProtocolSLP}
	s := newTestStore([]wallet.UTXO{plainUTXO("a", 10000, 100), tok}, nil)

	out := s.SpendablePlainUTXOs(Filter{})
	if len(out) != 1 || out[0].Outpoint.Txid != "a" {
		t.Fatalf("expected only the plain utxo, got %+v", out)
	}
}

func TestSpendablePlainUTXOsExcludesUnconfirmedUnlessRequested(t *testing.T) {
	s := newTestStore([]wallet.UTXO{plainUTXO("a", 10000, -1), plainUTXO("b", 10000, 100)}, nil)

	out := s.SpendablePlainUTXOs(Filter{})
	if len(out) != 1 || out[0].Outpoint.Txid != "b" {
		t.Fatalf("expected only the confirmed utxo by default, got %+v", out)
	}

	out = s.SpendablePlainUTXOs(Filter{IncludeUnconfirmed: true})
	if len(out) != 2 {
		t.Fatalf("expected both utxos with IncludeUnconfirmed, got %+v", out)
	}
}

func TestSpendablePlainUTXOsAppliesScoreFilters(t *testing.T) {
	a, b := plainUTXO("a", 10000, 100), plainUTXO("b", 10000, 100)
	cls := map[wallet.Outpoint]wallet.Classification{
		a.Outpoint: {HealthScore: 90, PrivacyScore: 90},
		b.Outpoint: {HealthScore: 10, PrivacyScore: 10, HealthBucket: wallet.HealthSuspicious},
	}
	s := newTestStore([]wallet.UTXO{a, b}, cls)

	out := s.SpendablePlainUTXOs(Filter{MinHealth: 50})
	if len(out) != 1 || out[0].Outpoint.Txid != "a" {
		t.Fatalf("expected MinHealth to exclude b, got %+v", out)
	}

	out = s.SpendablePlainUTXOs(Filter{ExcludeSuspicious: true})
	if len(out) != 1 || out[0].Outpoint.Txid != "a" {
		t.Fatalf("expected ExcludeSuspicious to drop b, got %+v", out)
	}
}

// AllUTXOs is the one view that does surface token UTXOs (§4.5 "the
// token engine and consolidation planner need to see them").
func TestAllUTXOsIncludesTokens(t *testing.T) {
	tok := plainUTXO("tok", 5000, 100)
	tok.Token = &wallet.TokenAnnotation{TokenID: "t1", Atoms: big.NewInt(1), Protocol: wallet.ProtocolSLP}
	s := newTestStore([]wallet.UTXO{plainUTXO("a", 10000, 100), tok}, nil)

	if len(s.AllUTXOs()) != 2 {
		t.Fatalf("expected AllUTXOs to include the token utxo")
	}
}

func TestTotalBalanceSplitsConfirmedUnconfirmed(t *testing.T) {
	s := newTestStore([]wallet.UTXO{
		plainUTXO("a", 10000, 100),
		plainUTXO("b", 5000, -1),
	}, nil)
	bal := s.TotalBalance()
	if bal.Confirmed.Int64() != 10000 {
		t.Fatalf("Confirmed = %s, want 10000", bal.Confirmed)
	}
	if bal.Unconfirmed.Int64() != 5000 {
		t.Fatalf("Unconfirmed = %s, want 5000", bal.Unconfirmed)
	}
	if bal.Total.Int64() != 15000 {
		t.Fatalf("Total = %s, want 15000", bal.Total)
	}
}

func TestSelectForAmountExcludesTokenUTXOs(t *testing.T) {
	tok := plainUTXO("tok", 100000, 100)
	tok.Token = &wallet.TokenAnnotation{TokenID: "t1", Atoms: big.NewInt(1), Protocol: wallet.ProtocolSLP}
	s := newTestStore([]wallet.UTXO{plainUTXO("a", 100000, 100), tok}, nil)

	plan, err := s.SelectForAmount(big.NewInt(1000), 1.0)
	if err != nil {
		t.Fatalf("SelectForAmount: %v", err)
	}
	for _, in := range plan.Inputs {
		if in.HasToken() {
			t.Fatalf("plan must never select a token-bearing utxo")
		}
	}
}

func TestClassificationAccessors(t *testing.T) {
	a := plainUTXO("a", 10000, 100)
	cls := map[wallet.Outpoint]wallet.Classification{
		a.Outpoint: {HealthScore: 77, PrivacyScore: 33, HealthBucket: wallet.HealthHealthy},
	}
	s := newTestStore([]wallet.UTXO{a}, cls)

	cl, ok := s.Classification(a.Outpoint)
	if !ok || cl.HealthScore != 77 {
		t.Fatalf("Classification = %+v, %v, want HealthScore 77", cl, ok)
	}

	hb, ok := s.HealthBucket(a.Outpoint)
	if !ok || hb != wallet.HealthHealthy {
		t.Fatalf("HealthBucket = %v, %v, want HealthHealthy", hb, ok)
	}

	ps, ok := s.PrivacyScore(a.Outpoint)
	if !ok || ps != 33 {
		t.Fatalf("PrivacyScore = %d, %v, want 33", ps, ok)
	}

	if _, ok := s.Classification(wallet.Outpoint{Txid: "missing", Vout: 0}); ok {
		t.Fatal("expected ok=false for an unclassified outpoint")
	}
}

func TestClearCacheResetsState(t *testing.T) {
	s := newTestStore([]wallet.UTXO{plainUTXO("a", 10000, 100)}, nil)
	s.ClearCache()
	if len(s.AllUTXOs()) != 0 {
		t.Fatal("expected ClearCache to empty the utxo set")
	}
	if s.initialized {
		t.Fatal("expected ClearCache to reset initialized")
	}
}
