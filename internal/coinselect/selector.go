// Package coinselect implements the §4.6 coin selection algorithms:
// legacy largest-first and a health/privacy-weighted hybrid, both
// built over the same greedy accumulation core. Grounded on the
// teacher's internal/heuristics/consolidation_analysis.go (sort
// candidates, greedily accumulate toward a target, compute a
// Plan-shaped result) and cpsat_solver.go for the idea of a weighted
// composite score driving selection order.
package coinselect

import (
	"math"
	"math/big"
	"sort"

	"github.com/zh/minimal-xec-wallet/pkg/wallet"
)

// Hybrid scoring weights, §4.6 defaults.
const (
	HybridHealthWeight  = 1000.0
	HybridPrivacyWeight = 500.0

	// HybridMinWalletSize is the candidate-pool floor below which the
	// hybrid objective falls back to legacy (§4.6 "too small a wallet").
	HybridMinWalletSize = 3
)

// Options configures a Select call.
type Options struct {
	Objective          wallet.SelectionObjective
	IncludeUnconfirmed bool
	MinHealth          int
	MinPrivacy         int
	ExcludeSuspicious  bool
	AllowConsolidation bool
	NumRecipients      int     // explicit outputs, excluding change
	FeeRateSatPerByte  float64
	OpReturnBytes      int  // extra script-length overhead for an OP_RETURN carrier, 0 if none
	ALPeMPPSurcharge   int  // fixed ALP eMPP carrier surcharge, 0 if none
}

// DefaultOptions returns sane legacy-objective defaults.
func DefaultOptions() Options {
	return Options{
		Objective:         wallet.ObjectiveLegacy,
		NumRecipients:     1,
		FeeRateSatPerByte: wallet.DefaultFeeRateSatPerB,
	}
}

// candidate pairs a UTXO with its classification, when available.
type candidate struct {
	utxo wallet.UTXO
	cl   wallet.Classification
}

// Select runs the configured objective, falling back from hybrid to
// legacy on failure or an undersized candidate pool, and returns the
// produced Plan with Algorithm set to whichever objective actually ran.
func Select(candidates []wallet.UTXO, classifications map[wallet.Outpoint]wallet.Classification, targetSats *big.Int, opts Options) (wallet.Plan, error) {
	pool := filterCandidates(candidates, classifications, opts)

	if opts.Objective == wallet.ObjectiveHybrid && len(pool) >= HybridMinWalletSize {
		plan, err := selectHybrid(pool, targetSats, opts)
		if err == nil {
			return plan, nil
		}
	}
	return selectLegacy(pool, targetSats, opts)
}

func filterCandidates(candidates []wallet.UTXO, classifications map[wallet.Outpoint]wallet.Classification, opts Options) []candidate {
	out := make([]candidate, 0, len(candidates))
	for _, u := range candidates {
		if u.HasToken() {
			continue // spendable plain selection never touches token UTXOs, §4.5(ii)
		}
		if u.IsUnconfirmed() && !opts.IncludeUnconfirmed {
			continue
		}
		cl := classifications[u.Outpoint]
		if opts.MinHealth > 0 && cl.HealthScore < opts.MinHealth {
			continue
		}
		if opts.MinPrivacy > 0 && cl.PrivacyScore < opts.MinPrivacy {
			continue
		}
		if opts.ExcludeSuspicious && cl.HealthBucket == wallet.HealthSuspicious {
			continue
		}
		out = append(out, candidate{utxo: u, cl: cl})
	}
	return out
}

// selectLegacy sorts candidates by sats descending and greedily
// accumulates until the running total covers target + estimated fee.
func selectLegacy(pool []candidate, targetSats *big.Int, opts Options) (wallet.Plan, error) {
	sorted := append([]candidate(nil), pool...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].utxo.Sats.Cmp(sorted[j].utxo.Sats) > 0
	})
	plan, err := accumulate(sorted, targetSats, opts)
	if err != nil {
		return wallet.Plan{}, err
	}
	plan.Algorithm = "legacy"
	return plan, nil
}

// selectHybrid sorts by the weighted composite sats + w_h·health +
// w_p·privacy, then reuses the same greedy accumulation core.
func selectHybrid(pool []candidate, targetSats *big.Int, opts Options) (wallet.Plan, error) {
	sorted := append([]candidate(nil), pool...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return hybridScore(sorted[i]) > hybridScore(sorted[j])
	})
	plan, err := accumulate(sorted, targetSats, opts)
	if err != nil {
		return wallet.Plan{}, err
	}
	plan.Algorithm = "hybrid"
	return plan, nil
}

func hybridScore(c candidate) float64 {
	sats := bigToFloat(c.utxo.Sats)
	return sats + HybridHealthWeight*float64(c.cl.HealthScore) + HybridPrivacyWeight*float64(c.cl.PrivacyScore)
}

// accumulate is the shared greedy core: add candidates in the given
// order until the running total covers target + fee(inputs, outputs +
// optional change), per §4.6 steps 2-5.
func accumulate(sorted []candidate, targetSats *big.Int, opts Options) (wallet.Plan, error) {
	total := big.NewInt(0)
	var selected []wallet.UTXO
	var avgHealth, avgPrivacy float64

	for _, c := range sorted {
		selected = append(selected, c.utxo)
		total.Add(total, c.utxo.Sats)
		avgHealth += float64(c.cl.HealthScore)
		avgPrivacy += float64(c.cl.PrivacyScore)

		fee := EstimateFee(len(selected), opts.NumRecipients+1, opts)
		residual := new(big.Int).Sub(total, targetSats)
		residual.Sub(residual, fee)
		if residual.Sign() >= 0 {
			change := new(big.Int).Set(residual)
			if change.Cmp(wallet.DustLimitBig()) < 0 {
				change = big.NewInt(0)
			}

			// Recompute the fee against the output count that's actually
			// emitted: drop the change output when it collapsed to zero.
			outputCount := opts.NumRecipients + 1
			if change.Sign() == 0 {
				outputCount = opts.NumRecipients
			}
			fee = EstimateFee(len(selected), outputCount, opts)
			residual = new(big.Int).Sub(total, targetSats)
			residual.Sub(residual, fee)
			if residual.Sign() < 0 {
				continue // fee grew past the residual once change was dropped; keep accumulating
			}
			change = new(big.Int).Set(residual)
			if change.Cmp(wallet.DustLimitBig()) < 0 {
				change = big.NewInt(0)
			}

			n := float64(len(selected))
			return wallet.Plan{
				Inputs:         selected,
				TotalInputSats: total,
				EstimatedFee:   fee,
				ChangeSats:     change,
				Efficiency:     bigToFloat(targetSats) / bigToFloat(total),
				HealthScore:    avgHealth / n,
				PrivacyScore:   avgPrivacy / n,
			}, nil
		}
	}
	return wallet.Plan{}, wallet.Wrap(wallet.ErrInsufficientFunds, "candidates exhausted: have %s, need %s plus fee", total, targetSats)
}

// EstimateFee implements §4.6: ceil((inputs×148 + outputs×34 + 10) ×
// fee_rate), plus the OP_RETURN script-length overhead and the ALP
// eMPP carrier surcharge when configured.
func EstimateFee(numInputs, numOutputs int, opts Options) *big.Int {
	size := float64(numInputs)*float64(wallet.StandardP2PKHInputSz) +
		float64(numOutputs)*float64(wallet.P2PKHOutputSz) +
		float64(wallet.TxOverheadBytes) +
		float64(opts.OpReturnBytes) +
		float64(opts.ALPeMPPSurcharge)

	feeRate := opts.FeeRateSatPerByte
	if feeRate <= 0 {
		feeRate = wallet.DefaultFeeRateSatPerB
	}
	return big.NewInt(int64(math.Ceil(size * feeRate)))
}

func bigToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f := new(big.Float).SetInt(v)
	out, _ := f.Float64()
	return out
}
