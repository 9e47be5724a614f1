// Package classifier implements the per-UTXO scoring engine of spec
// §4.3: age/value/health buckets plus privacy/health/age/value scores in
// [0,100]. Grounded on the teacher's internal/heuristics/utxo_age_analysis.go
// (holding-pattern bucketing from an average age), dust_analysis.go
// (dust-threshold tables), and privacy_score.go (additive, clamped
// weighted scoring with a running `score` accumulator) — the same shape
// this package uses for HealthScore/PrivacyScore.
package classifier

import (
	"log"
	"math"
	"math/big"
	"sync"

	"github.com/zh/minimal-xec-wallet/pkg/wallet"
)

// Config holds the configurable bucket boundaries and thresholds of
// §4.3, defaulted to the values spec.md lists.
type Config struct {
	DustLimit int64

	AgeFreshMax   int64
	AgeRecentMax  int64
	AgeMatureMax  int64
	AgeAgedMax    int64

	ValueDustMax   int64
	ValueMicroMax  int64
	ValueSmallMax  int64
	ValueMediumMax int64
	ValueLargeMax  int64

	StandardInputBytes int64

	CoinbaseMaturityBlocks int64

	RoundNumberDivisors []int64 // 10, 100, 1000 (native units = sats/100)
	SurveillanceMarkers []int64 // short allow-list of suspicious amounts
}

// DefaultConfig returns the spec.md-listed default boundaries.
func DefaultConfig() Config {
	return Config{
		DustLimit:              wallet.DustLimitSats,
		AgeFreshMax:            6,
		AgeRecentMax:           144,
		AgeMatureMax:           1008,
		AgeAgedMax:             4032,
		ValueDustMax:           1000,
		ValueMicroMax:          5000,
		ValueSmallMax:          50000,
		ValueMediumMax:         500000,
		ValueLargeMax:          5000000,
		StandardInputBytes:     wallet.StandardP2PKHInputSz,
		CoinbaseMaturityBlocks: 100,
		RoundNumberDivisors:    []int64{10, 100, 1000},
		SurveillanceMarkers:    []int64{546, 550, 1000, 1111, 2100, 5000},
	}
}

// Classifier is a pure, stateless evaluator configured once and reused
// (safe for concurrent use — it holds no mutable state).
type Classifier struct {
	cfg Config
}

func New(cfg Config) *Classifier { return &Classifier{cfg: cfg} }

// errCount is incremented by BulkClassify for malformed UTXOs that are
// skipped rather than aborting the batch (§4.3 "Bulk classification
// errors... must not halt the batch").
type errCount struct {
	mu    sync.Mutex
	count int
}

func (e *errCount) inc() {
	e.mu.Lock()
	e.count++
	e.mu.Unlock()
}

// Classify evaluates a single UTXO against the current best block
// height. It is idempotent: calling it twice with the same inputs
// always yields an equal Classification (§8 property 7).
func (c *Classifier) Classify(u wallet.UTXO, tipHeight int64) (wallet.Classification, error) {
	if u.Sats == nil || u.Sats.Sign() < 0 {
		return wallet.Classification{}, wallet.Wrap(wallet.ErrInvalidUTXOStructure, "utxo %s: missing or negative sats", u.Outpoint)
	}

	sats := u.Sats
	unconfirmed := u.IsUnconfirmed()
	// blocksSince counts blocks mined after the UTXO's own block (0 = same
	// block as tip). confirmations = blocksSince + 1 is what the age
	// bucket boundaries are measured against, matching standard
	// "N confirmations" wallet semantics (a UTXO included at the tip
	// height already has 1 confirmation).
	blocksSince := int64(0)
	confirmations := int64(0)
	if !unconfirmed {
		blocksSince = tipHeight - u.BlockHeight
		if blocksSince < 0 {
			blocksSince = 0
		}
		confirmations = blocksSince + 1
	}

	ageBucket := c.ageBucket(unconfirmed, confirmations)
	valueBucket := c.valueBucket(sats)
	roundNumber := c.isRoundNumber(sats)
	suspiciousDust := c.isSuspiciousDust(sats, unconfirmed)
	scriptType := scriptTypeOf(u.OutputScript)
	econ1 := EconomicalToSpend(sats, 1.0, c.cfg.StandardInputBytes)
	econ2 := EconomicalToSpend(sats, 2.0, c.cfg.StandardInputBytes)

	ageScore := c.ageScore(unconfirmed, blocksSince)
	valueScore := c.valueScore(sats)
	healthScore := c.healthScore(u, unconfirmed, econ1, econ2, suspiciousDust, confirmations)
	privacyScore := c.privacyScore(u, roundNumber, unconfirmed, valueBucket, blocksSince, scriptType)
	healthBucket := c.healthBucket(sats, unconfirmed, econ2, suspiciousDust, valueBucket)

	return wallet.Classification{
		Outpoint:     u.Outpoint,
		AgeBucket:    ageBucket,
		ValueBucket:  valueBucket,
		HealthBucket: healthBucket,
		PrivacyScore: privacyScore,
		HealthScore:  healthScore,
		AgeScore:     ageScore,
		ValueScore:   valueScore,
		Metadata: wallet.Metadata{
			HasToken:            u.HasToken(),
			ScriptType:          scriptType,
			EstimatedInputSize:  int(c.cfg.StandardInputBytes),
			IsRoundNumber:       roundNumber,
			IsEconomicalAt1SatB: econ1,
			IsEconomicalAt2SatB: econ2,
		},
	}, nil
}

// BulkClassifyResult is the output of BulkClassify.
type BulkClassifyResult struct {
	Classifications map[wallet.Outpoint]wallet.Classification
	ErrorCount      int
}

// BulkClassify classifies every UTXO in the set; a malformed UTXO is
// logged and counted, never aborting the batch.
func (c *Classifier) BulkClassify(utxos []wallet.UTXO, tipHeight int64) BulkClassifyResult {
	ec := &errCount{}
	out := make(map[wallet.Outpoint]wallet.Classification, len(utxos))
	for _, u := range utxos {
		cl, err := c.Classify(u, tipHeight)
		if err != nil {
			log.Printf("[Classifier] skipping malformed utxo %v: %v", u.Outpoint, err)
			ec.inc()
			continue
		}
		out[u.Outpoint] = cl
	}
	return BulkClassifyResult{Classifications: out, ErrorCount: ec.count}
}

// ageBucket buckets by confirmations (tip - height + 1), so a UTXO
// mined 6 blocks before the tip (7 confirmations) falls in "recent",
// not "fresh" — matching spec.md scenario S1.
func (c *Classifier) ageBucket(unconfirmed bool, confirmations int64) wallet.AgeBucket {
	switch {
	case unconfirmed:
		return wallet.AgeUnconfirmed
	case confirmations <= c.cfg.AgeFreshMax:
		return wallet.AgeFresh
	case confirmations <= c.cfg.AgeRecentMax:
		return wallet.AgeRecent
	case confirmations <= c.cfg.AgeMatureMax:
		return wallet.AgeMature
	case confirmations <= c.cfg.AgeAgedMax:
		return wallet.AgeAged
	default:
		return wallet.AgeAncient
	}
}

func (c *Classifier) valueBucket(sats *big.Int) wallet.ValueBucket {
	switch {
	case cmpInt64(sats, c.cfg.ValueDustMax) < 0:
		return wallet.ValueDust
	case cmpInt64(sats, c.cfg.ValueMicroMax) < 0:
		return wallet.ValueMicro
	case cmpInt64(sats, c.cfg.ValueSmallMax) < 0:
		return wallet.ValueSmall
	case cmpInt64(sats, c.cfg.ValueMediumMax) < 0:
		return wallet.ValueMedium
	case cmpInt64(sats, c.cfg.ValueLargeMax) < 0:
		return wallet.ValueLarge
	default:
		return wallet.ValueWhale
	}
}

func (c *Classifier) ageScore(unconfirmed bool, ageBlocks int64) int {
	if unconfirmed {
		return 0
	}
	if ageBlocks == 0 {
		return 10
	}
	score := math.Round(math.Min(100, math.Log10(float64(ageBlocks)+1)*25))
	return clamp(int(score), 0, 100)
}

func (c *Classifier) valueScore(sats *big.Int) int {
	f := bigToFloat(sats)
	small := float64(c.cfg.ValueSmallMax)
	medium := float64(c.cfg.ValueMediumMax)
	dust := float64(c.cfg.ValueDustMax)

	switch {
	case f < dust:
		return 0
	case f >= small && f <= medium:
		return 100
	case f < small:
		return clamp(int(math.Round(f/small*80)), 0, 100)
	default: // f > medium
		penalty := math.Min(30, math.Log10(f/medium)*10)
		score := 100 - penalty
		if score < 50 {
			score = 50
		}
		return clamp(int(math.Round(score)), 0, 100)
	}
}

func (c *Classifier) healthScore(u wallet.UTXO, unconfirmed, econ1, econ2, suspiciousDust bool, confirmations int64) int {
	score := 100
	if cmpInt64(u.Sats, c.cfg.DustLimit) < 0 {
		return 0
	}
	if unconfirmed {
		score -= 30
	}
	if !econ1 {
		score -= 40
	} else if !econ2 {
		score -= 20
	}
	if suspiciousDust {
		score -= 50
	}
	if u.HasToken() {
		score += 10
	}
	if !unconfirmed && confirmations < c.cfg.CoinbaseMaturityBlocks && isCoinbaseLike(u) {
		score -= 30
	}
	return clamp(score, 0, 100)
}

func (c *Classifier) healthBucket(sats *big.Int, unconfirmed bool, econ2, suspiciousDust bool, valueBucket wallet.ValueBucket) wallet.HealthBucket {
	switch {
	case cmpInt64(sats, c.cfg.DustLimit) < 0:
		return wallet.HealthDust
	case unconfirmed:
		return wallet.HealthUnconfirmed
	case !econ2:
		return wallet.HealthUneconomical
	case suspiciousDust:
		return wallet.HealthSuspicious
	case valueBucket == wallet.ValueDust || valueBucket == wallet.ValueMicro:
		return wallet.HealthAtRisk
	default:
		return wallet.HealthHealthy
	}
}

func (c *Classifier) privacyScore(u wallet.UTXO, roundNumber, unconfirmed bool, valueBucket wallet.ValueBucket, ageBlocks int64, scriptType string) int {
	score := 100
	if roundNumber {
		score -= 15
	}
	if c.isSurveillanceMarker(u.Sats) {
		score -= 25
	}
	if scriptType == "p2pkh" {
		score += 10
	}
	if !unconfirmed {
		bonus := math.Min(20, math.Log10(float64(ageBlocks)+1)*5)
		score += int(math.Round(bonus))
	}
	if unconfirmed {
		score -= 20
	}
	if valueBucket == wallet.ValueDust {
		score -= 30
	}
	if valueBucket == wallet.ValueWhale {
		score -= 15
	}
	if u.HasToken() {
		score -= 10
	}
	return clamp(score, 0, 100)
}

// isRoundNumber implements the §4.3 test: sats/100 (native units) is a
// whole number AND a multiple of 10, 100, or 1000.
func (c *Classifier) isRoundNumber(sats *big.Int) bool {
	hundred := big.NewInt(100)
	rem := new(big.Int)
	native, _ := new(big.Int).DivMod(sats, hundred, rem)
	if rem.Sign() != 0 {
		return false
	}
	for _, d := range c.cfg.RoundNumberDivisors {
		if new(big.Int).Mod(native, big.NewInt(d)).Sign() == 0 {
			return true
		}
	}
	return false
}

func (c *Classifier) isSurveillanceMarker(sats *big.Int) bool {
	for _, m := range c.cfg.SurveillanceMarkers {
		if cmpInt64(sats, m) == 0 {
			return true
		}
	}
	return false
}

// isSuspiciousDust implements the §4.3 test: dust_limit < sats <
// 2×dust_limit AND unconfirmed.
func (c *Classifier) isSuspiciousDust(sats *big.Int, unconfirmed bool) bool {
	if !unconfirmed {
		return false
	}
	lower := big.NewInt(c.cfg.DustLimit)
	upper := big.NewInt(c.cfg.DustLimit * 2)
	return sats.Cmp(lower) > 0 && sats.Cmp(upper) < 0
}

// EconomicalToSpend implements §4.3: sats > standard_input_bytes ×
// fee_rate × 2.
func EconomicalToSpend(sats *big.Int, feeRateSatPerByte float64, standardInputBytes int64) bool {
	threshold := float64(standardInputBytes) * feeRateSatPerByte * 2
	return bigToFloat(sats) > threshold
}

// IsRoundNumber exposes the round-number test for callers (the dust-
// attack detector) that only have a sats value and no Classification.
func (c *Classifier) IsRoundNumber(sats *big.Int) bool { return c.isRoundNumber(sats) }

// isCoinbaseLike is a heuristic stand-in: the core has no block-reward
// context from the indexer surface in §6, so it always returns false
// and the coinbase-maturity health penalty never applies.
func isCoinbaseLike(u wallet.UTXO) bool { return false }

func scriptTypeOf(script []byte) string {
	if len(script) == 25 && script[0] == 0x76 && script[1] == 0xa9 && script[2] == 0x14 &&
		script[23] == 0x88 && script[24] == 0xac {
		return "p2pkh"
	}
	if len(script) >= 2 && script[0] == 0x6a {
		return "op_return"
	}
	return "unknown"
}

func cmpInt64(v *big.Int, other int64) int {
	return v.Cmp(big.NewInt(other))
}

func bigToFloat(v *big.Int) float64 {
	f := new(big.Float).SetInt(v)
	out, _ := f.Float64()
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
