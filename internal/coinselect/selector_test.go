package coinselect

import (
	"math/big"
	"testing"

	"github.com/zh/minimal-xec-wallet/pkg/wallet"
)

func mkUTXO(txid string, sats int64) wallet.UTXO {
	return wallet.UTXO{
		Outpoint: wallet.Outpoint{Txid: txid, Vout: 0},
		Sats:     big.NewInt(sats),
	}
}

// S2 (legacy coin selection) — Candidates sats = [100000, 60000, 40000,
// 20000]; target = 90000; rate = 1.0 ⇒ selects [100000]; fee =
// ceil((1×148+2×34+10)×1.0) = 226; change = 100000−90000−226 = 9774.
func TestSelectScenarioS2(t *testing.T) {
	candidates := []wallet.UTXO{
		mkUTXO("a", 100000),
		mkUTXO("b", 60000),
		mkUTXO("c", 40000),
		mkUTXO("d", 20000),
	}
	opts := DefaultOptions()
	opts.FeeRateSatPerByte = 1.0

	plan, err := Select(candidates, nil, big.NewInt(90000), opts)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(plan.Inputs) != 1 || plan.Inputs[0].Sats.Int64() != 100000 {
		t.Fatalf("expected single 100000-sat input, got %+v", plan.Inputs)
	}
	if plan.EstimatedFee.Int64() != 226 {
		t.Fatalf("fee = %s, want 226", plan.EstimatedFee)
	}
	if plan.ChangeSats.Int64() != 9774 {
		t.Fatalf("change = %s, want 9774", plan.ChangeSats)
	}
	if plan.Algorithm != "legacy" {
		t.Fatalf("algorithm = %s, want legacy", plan.Algorithm)
	}
}

func TestSelectInsufficientFunds(t *testing.T) {
	candidates := []wallet.UTXO{mkUTXO("a", 100)}
	_, err := Select(candidates, nil, big.NewInt(1000000), DefaultOptions())
	if err == nil {
		t.Fatal("expected INSUFFICIENT_FUNDS error")
	}
}

// Invariants 1 and 3 of §8: total_input_sats == sum(inputs.sats);
// change is zero or at least the dust limit.
func TestSelectInvariants(t *testing.T) {
	candidates := []wallet.UTXO{
		mkUTXO("a", 1000000),
		mkUTXO("b", 500000),
		mkUTXO("c", 250000),
		mkUTXO("d", 1000),
		mkUTXO("e", 547),
	}
	targets := []int64{100, 1000, 50000, 300000, 1000000}

	for _, target := range targets {
		plan, err := Select(candidates, nil, big.NewInt(target), DefaultOptions())
		if err != nil {
			continue
		}
		sum := big.NewInt(0)
		for _, in := range plan.Inputs {
			sum.Add(sum, in.Sats)
		}
		if sum.Cmp(plan.TotalInputSats) != 0 {
			t.Fatalf("target=%d: sum(inputs)=%s != TotalInputSats=%s", target, sum, plan.TotalInputSats)
		}
		if plan.ChangeSats.Sign() != 0 && plan.ChangeSats.Cmp(wallet.DustLimitBig()) < 0 {
			t.Fatalf("target=%d: change %s is below dust limit but nonzero", target, plan.ChangeSats)
		}
	}
}

func TestSelectExcludesTokenUTXOs(t *testing.T) {
	tokenUTXO := mkUTXO("tok", 100000)
	tokenUTXO.Token = &wallet.TokenAnnotation{TokenID: "t1", Atoms: big.NewInt(5), Protocol: wallet.ProtocolSLP}
	candidates := []wallet.UTXO{tokenUTXO, mkUTXO("plain", 50000)}

	opts := DefaultOptions()
	opts.FeeRateSatPerByte = 1.0
	plan, err := Select(candidates, nil, big.NewInt(1000), opts)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	for _, in := range plan.Inputs {
		if in.HasToken() {
			t.Fatalf("plan selected a token-bearing utxo: %+v", in)
		}
	}
}

func TestEstimateFeeMatchesFormula(t *testing.T) {
	opts := DefaultOptions()
	opts.FeeRateSatPerByte = 1.2
	got := EstimateFee(2, 3, opts)
	// ceil((2*148 + 3*34 + 10) * 1.2) = ceil(408*1.2) = ceil(489.6) = 490
	if got.Int64() != 490 {
		t.Fatalf("EstimateFee = %s, want 490", got)
	}
}
