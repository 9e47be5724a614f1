package token

import (
	"math/big"
	"sort"

	"github.com/zh/minimal-xec-wallet/internal/coinselect"
	"github.com/zh/minimal-xec-wallet/pkg/wallet"
)

// partition splits utxos into token UTXOs matching (tokenID, protocol),
// pure plain UTXOs, and other-token UTXOs (§4.9 "shared bookkeeping" a/b/c).
func partition(utxos []wallet.UTXO, tokenID string, protocol wallet.Protocol) (tokenUTXOs, plainUTXOs, otherTokenUTXOs []wallet.UTXO) {
	for _, u := range utxos {
		switch {
		case u.Token != nil && u.Token.TokenID == tokenID && u.Token.Protocol == protocol:
			tokenUTXOs = append(tokenUTXOs, u)
		case u.Token == nil:
			plainUTXOs = append(plainUTXOs, u)
		default:
			otherTokenUTXOs = append(otherTokenUTXOs, u)
		}
	}
	return
}

func sortDescByAtoms(utxos []wallet.UTXO) []wallet.UTXO {
	sorted := append([]wallet.UTXO(nil), utxos...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Token.Atoms.Cmp(sorted[j].Token.Atoms) > 0 })
	return sorted
}

func sortDescBySats(utxos []wallet.UTXO) []wallet.UTXO {
	sorted := append([]wallet.UTXO(nil), utxos...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Sats.Cmp(sorted[j].Sats) > 0 })
	return sorted
}

func sumSats(utxos []wallet.UTXO) *big.Int {
	total := big.NewInt(0)
	for _, u := range utxos {
		total.Add(total, u.Sats)
	}
	return total
}

// estimateTokenFee quotes the fee for a transaction spending numInputs
// funding numOutputs plain-style (dust or change) outputs plus a
// carrierBytes-sized OP_RETURN payload.
func estimateTokenFee(numInputs, numOutputs, carrierBytes int, feeRate float64) *big.Int {
	opts := coinselect.DefaultOptions()
	opts.FeeRateSatPerByte = feeRate
	opts.OpReturnBytes = carrierBytes
	return coinselect.EstimateFee(numInputs, numOutputs, opts)
}

// selection is the outcome of selectAndFund: the token inputs chosen,
// their total atoms, the resulting change, and whether their own dust
// alone funds the dust outputs + fee.
type selection struct {
	tokenInputs []wallet.UTXO
	totalAtoms  *big.Int
	changeAtoms *big.Int
	funded      bool
	fee         *big.Int
}

// selectAndFund implements §4.9's token-input selection jointly with
// its own dust/fee funding check: token candidates are sorted by atoms
// descending and accumulated until the required amount is covered, but
// the loop does not stop there if the selected inputs' own dust value
// can't yet cover the dust outputs and fee — it keeps pulling in
// further same-token inputs (each contributing another dust_limit
// worth of funding) before the caller falls back to unrelated plain
// UTXOs. This is what makes a burn candidate set with no companion
// plain UTXOs in the wallet still resolvable from token dust alone.
func selectAndFund(candidates []wallet.UTXO, required *big.Int, dustOutputsForChange func(change *big.Int) int, carrierBytes int, feeRate float64) (selection, error) {
	sorted := sortDescByAtoms(candidates)
	var sel []wallet.UTXO
	total := big.NewInt(0)

	check := func() (selection, bool) {
		if total.Cmp(required) < 0 {
			return selection{}, false
		}
		change := new(big.Int).Sub(total, required)
		dustOutputs := dustOutputsForChange(change)
		avail := sumSats(sel)
		fee := estimateTokenFee(len(sel), dustOutputs, carrierBytes, feeRate)
		need := new(big.Int).Add(new(big.Int).Mul(big.NewInt(wallet.DustLimitSats), big.NewInt(int64(dustOutputs))), fee)
		funded := avail.Cmp(need) >= 0
		return selection{tokenInputs: append([]wallet.UTXO(nil), sel...), totalAtoms: total, changeAtoms: change, funded: funded, fee: fee}, funded
	}

	for _, u := range sorted {
		if s, ok := check(); ok {
			return s, nil
		}
		sel = append(sel, u)
		total.Add(total, u.Token.Atoms)
	}

	s, ok := check()
	if total.Cmp(required) < 0 {
		return selection{}, wallet.WrapDeficit(wallet.ErrInsufficientToken, wallet.TokenDeficit{
			Need: required.String(), Have: total.String(),
		}, "need %s atoms, have %s", required, total)
	}
	// atoms are covered even if not yet funded; the caller tops up
	// funding from plain (or, for ALP, other-token) UTXOs.
	_ = ok
	return s, nil
}

// fundingPlan is the result of topping up a selection's dust/fee
// shortfall from an extra candidate pool.
type fundingPlan struct {
	extraInputs []wallet.UTXO
	fee         *big.Int
	plainChange *big.Int
}

// topUpFunding draws additional inputs (largest-sats-first) from
// extraCandidates until the selection's dust+fee shortfall is covered,
// recomputing the fee after every addition. Both SLP and ALP may draw
// more than one extra input this way (§4.9 "SLP: originally single, now
// iterative until covered").
func topUpFunding(sel selection, dustOutputs int, extraCandidates []wallet.UTXO, carrierBytes int, feeRate float64, withPlainChangeSlot bool) (*fundingPlan, error) {
	sorted := sortDescBySats(extraCandidates)
	available := sumSats(sel.tokenInputs)
	numInputs := len(sel.tokenInputs)
	var extra []wallet.UTXO

	dustNeeded := new(big.Int).Mul(big.NewInt(wallet.DustLimitSats), big.NewInt(int64(dustOutputs)))

	quote := func(withChange bool) *big.Int {
		outputs := dustOutputs
		if withChange {
			outputs++
		}
		return estimateTokenFee(numInputs, outputs, carrierBytes, feeRate)
	}
	shortfall := func(withChange bool) *big.Int {
		need := new(big.Int).Add(dustNeeded, quote(withChange))
		return new(big.Int).Sub(need, available)
	}

	for shortfall(withPlainChangeSlot).Sign() > 0 {
		if len(sorted) == 0 {
			break
		}
		next := sorted[0]
		sorted = sorted[1:]
		extra = append(extra, next)
		available.Add(available, next.Sats)
		numInputs++
	}

	if shortfall(withPlainChangeSlot).Sign() <= 0 {
		fee := quote(withPlainChangeSlot)
		residual := new(big.Int).Sub(available, dustNeeded)
		residual.Sub(residual, fee)
		return &fundingPlan{extraInputs: extra, fee: fee, plainChange: residual}, nil
	}

	// dropping the plain-change output shrinks the transaction; retry
	// once before giving up.
	if shortfall(false).Sign() <= 0 {
		fee := quote(false)
		return &fundingPlan{extraInputs: extra, fee: fee, plainChange: big.NewInt(0)}, nil
	}

	return nil, wallet.Wrap(wallet.ErrInsufficientXEC, "no combination of token dust and plain utxos covers dust+fee: short by %s sats", shortfall(false))
}
