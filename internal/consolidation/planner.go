// Package consolidation implements the §4.10 consolidation planner:
// batching small plain UTXOs into self-sends to cut future spend fees.
// Grounded on the teacher's internal/heuristics/consolidation_analysis.go
// for the input-reduction/fee-efficiency framing, generalized from
// post-hoc transaction analysis into a forward-looking execution plan.
package consolidation

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/zh/minimal-xec-wallet/internal/txbuilder"
	"github.com/zh/minimal-xec-wallet/pkg/wallet"
)

// Options configures a consolidation run.
type Options struct {
	DryRun                bool
	FeeRateSatPerByte     float64
	MaxInputsPerTx        int
	ConsolidationThreshold *big.Int // sats ceiling: only UTXOs at or below this are eligible
	SelfAddress           string
}

// DefaultOptions returns sane defaults: batches of 20, 1.2 sat/byte,
// UTXOs at or below 10000 sats eligible.
func DefaultOptions(selfAddress string) Options {
	return Options{
		FeeRateSatPerByte:      wallet.DefaultFeeRateSatPerB,
		MaxInputsPerTx:         20,
		ConsolidationThreshold: big.NewInt(10000),
		SelfAddress:            selfAddress,
	}
}

// Batch is one planned (or executed) consolidation transaction.
type Batch struct {
	Inputs      []wallet.UTXO
	Fee         *big.Int
	OutputValue *big.Int
	Skipped     bool // output would be dust
	Built       *txbuilder.Built
	Broadcast   bool
	Err         error
}

// Plan is the planner's output: the batches it would (or did) run, and
// the cost/benefit estimate behind its execution recommendation.
type Plan struct {
	Batches           []Batch
	CurrentCost       *big.Int // cost of spending every eligible utxo individually, 2 outputs each
	ConsolidationCost *big.Int // total fee across these batches
	FutureCost        *big.Int // cost of spending the consolidated outputs, 2 outputs each
	Recommend         bool
	FeeRateSatPerByte float64
}

// Broadcaster sends a raw transaction; the indexer adapter satisfies
// this (§4.1).
type Broadcaster interface {
	SendTx(ctx context.Context, rawHex string) (string, error)
}

// Build implements §4.10 steps 1-4: select eligible plain UTXOs,
// batch them, estimate each batch's fee/output, and decide whether
// consolidating is worth it.
func Build(utxos []wallet.UTXO, opts Options) Plan {
	eligible := eligiblePlainUTXOs(utxos, opts.ConsolidationThreshold)
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Sats.Cmp(eligible[j].Sats) < 0 })

	var batches []Batch
	for i := 0; i < len(eligible); i += opts.MaxInputsPerTx {
		end := i + opts.MaxInputsPerTx
		if end > len(eligible) {
			end = len(eligible)
		}
		batches = append(batches, buildBatch(eligible[i:end], opts.FeeRateSatPerByte))
	}

	plan := Plan{Batches: batches, FeeRateSatPerByte: opts.FeeRateSatPerByte}
	plan.CurrentCost = costPerUTXO(len(eligible), opts.FeeRateSatPerByte, 2)
	plan.ConsolidationCost = big.NewInt(0)
	for _, b := range batches {
		if !b.Skipped {
			plan.ConsolidationCost.Add(plan.ConsolidationCost, b.Fee)
		}
	}
	plan.FutureCost = costPerUTXO(countNonSkipped(batches), opts.FeeRateSatPerByte, 2)

	net := new(big.Int).Sub(plan.CurrentCost, plan.ConsolidationCost)
	net.Sub(net, plan.FutureCost)
	plan.Recommend = net.Sign() > 0

	return plan
}

func eligiblePlainUTXOs(utxos []wallet.UTXO, threshold *big.Int) []wallet.UTXO {
	var out []wallet.UTXO
	for _, u := range utxos {
		if u.HasToken() {
			continue
		}
		if u.Sats.Cmp(threshold) <= 0 {
			out = append(out, u)
		}
	}
	return out
}

// buildBatch computes §4.10 step 3: fee = ceil((inputs×148 + 1×34 + 10) × rate),
// output_value = sum(inputs) − fee, skipping the batch if the output
// would be dust.
func buildBatch(inputs []wallet.UTXO, feeRate float64) Batch {
	total := big.NewInt(0)
	for _, u := range inputs {
		total.Add(total, u.Sats)
	}
	fee := estimateFee(len(inputs), feeRate)
	outputValue := new(big.Int).Sub(total, fee)

	if outputValue.Cmp(wallet.DustLimitBig()) < 0 {
		return Batch{Inputs: inputs, Fee: fee, OutputValue: outputValue, Skipped: true}
	}
	return Batch{Inputs: inputs, Fee: fee, OutputValue: outputValue}
}

func estimateFee(numInputs int, feeRate float64) *big.Int {
	bytes := int64(numInputs)*wallet.StandardP2PKHInputSz + wallet.P2PKHOutputSz + wallet.TxOverheadBytes
	return ceilMul(bytes, feeRate)
}

func ceilMul(bytesLen int64, rate float64) *big.Int {
	raw := float64(bytesLen) * rate
	ceil := int64(raw)
	if float64(ceil) < raw {
		ceil++
	}
	return big.NewInt(ceil)
}

// costPerUTXO estimates the fee to spend n UTXOs individually, each in
// its own transaction with the given output count (§4.10 step 4).
func costPerUTXO(n int, feeRate float64, outputsEach int) *big.Int {
	total := big.NewInt(0)
	for i := 0; i < n; i++ {
		bytes := int64(wallet.StandardP2PKHInputSz) + int64(outputsEach)*wallet.P2PKHOutputSz + wallet.TxOverheadBytes
		total.Add(total, ceilMul(bytes, feeRate))
	}
	return total
}

func countNonSkipped(batches []Batch) int {
	n := 0
	for _, b := range batches {
		if !b.Skipped {
			n++
		}
	}
	return n
}

// Execute implements §4.10 step 5: builds, signs, and broadcasts a
// single-output-to-self transaction per batch with a 1s delay between
// transactions, hard-aborting on any token-bearing UTXO. Execute does
// not look at DryRun (a Plan does not carry it); callers check
// opts.DryRun before calling.
func Execute(ctx context.Context, plan *Plan, broadcaster Broadcaster, selfAddress string, keySrc txbuilder.KeySource, sleep func(time.Duration)) {
	if sleep == nil {
		sleep = time.Sleep
	}
	for i := range plan.Batches {
		b := &plan.Batches[i]
		if b.Skipped {
			continue
		}
		for _, u := range b.Inputs {
			if u.HasToken() {
				b.Err = wallet.Wrap(wallet.ErrWrongProtocolForTokn, "refusing to consolidate batch containing token-bearing utxo %s", u.Outpoint)
				break
			}
		}
		if b.Err != nil {
			continue
		}

		built, err := txbuilder.BuildSweep(b.Inputs, selfAddress, plan.FeeRateSatPerByte, keySrc)
		if err != nil {
			b.Err = err
			continue
		}
		b.Built = &built

		txid, err := broadcaster.SendTx(ctx, built.RawHex)
		if err != nil {
			b.Err = err
			continue
		}
		_ = txid
		b.Broadcast = true

		if i < len(plan.Batches)-1 {
			sleep(time.Second)
		}
	}
}
