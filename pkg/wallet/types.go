// Package wallet holds the data model shared across the UTXO engine:
// UTXOs, classifications, alerts, and the plans that the coin selector
// and transaction builders produce. Nothing in this package touches the
// network or a private key; it is pure data, the way pkg/models held the
// teacher's transaction/heuristics shapes.
package wallet

import (
	"math/big"
	"time"
)

// Protocol identifies which token family a UTXO's token annotation
// belongs to.
type Protocol string

const (
	ProtocolNone Protocol = ""
	ProtocolSLP  Protocol = "SLP"
	ProtocolALP  Protocol = "ALP"
)

// Outpoint identifies a UTXO globally: the spending transaction's
// previous-txid and output index.
type Outpoint struct {
	Txid string `json:"txid"`
	Vout uint32 `json:"vout"`
}

func (o Outpoint) String() string {
	return o.Txid + ":" + itoa(int64(o.Vout))
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// TokenAnnotation describes the token-protocol payload a UTXO may carry.
// Atoms is arbitrary precision: token supplies routinely exceed 2^53.
type TokenAnnotation struct {
	TokenID  string   `json:"tokenId"`
	Atoms    *big.Int `json:"atoms"`
	Protocol Protocol `json:"protocol"`
	Type     string   `json:"type"`
}

// UTXO is the immutable unit of observation ingested from the indexer.
// Sats is arbitrary precision to survive values at or above 2^53, per
// spec §3.
type UTXO struct {
	Outpoint     Outpoint         `json:"outpoint"`
	Sats         *big.Int         `json:"sats"`
	BlockHeight  int64            `json:"blockHeight"` // -1 = mempool/unconfirmed
	OutputScript []byte           `json:"outputScript"`
	Token        *TokenAnnotation `json:"token,omitempty"`
}

// IsUnconfirmed reports whether the UTXO has not yet been mined.
func (u UTXO) IsUnconfirmed() bool { return u.BlockHeight < 0 }

// HasToken reports whether the UTXO carries a token annotation.
func (u UTXO) HasToken() bool { return u.Token != nil }

// Clone returns a deep, by-value copy safe to hand to callers that must
// never observe or cause mutation of store-owned state.
func (u UTXO) Clone() UTXO {
	out := u
	if u.Sats != nil {
		out.Sats = new(big.Int).Set(u.Sats)
	}
	if u.OutputScript != nil {
		out.OutputScript = append([]byte(nil), u.OutputScript...)
	}
	if u.Token != nil {
		tok := *u.Token
		if u.Token.Atoms != nil {
			tok.Atoms = new(big.Int).Set(u.Token.Atoms)
		}
		out.Token = &tok
	}
	return out
}

// Age buckets, §4.3.
type AgeBucket string

const (
	AgeUnconfirmed AgeBucket = "unconfirmed"
	AgeFresh       AgeBucket = "fresh"
	AgeRecent      AgeBucket = "recent"
	AgeMature      AgeBucket = "mature"
	AgeAged        AgeBucket = "aged"
	AgeAncient     AgeBucket = "ancient"
)

// Value buckets, §4.3.
type ValueBucket string

const (
	ValueDust   ValueBucket = "dust"
	ValueMicro  ValueBucket = "micro"
	ValueSmall  ValueBucket = "small"
	ValueMedium ValueBucket = "medium"
	ValueLarge  ValueBucket = "large"
	ValueWhale  ValueBucket = "whale"
)

// Health buckets, §4.3/§4.4.
type HealthBucket string

const (
	HealthHealthy      HealthBucket = "healthy"
	HealthAtRisk       HealthBucket = "at-risk"
	HealthUneconomical HealthBucket = "uneconomical"
	HealthSuspicious   HealthBucket = "suspicious"
	HealthDust         HealthBucket = "dust"
	HealthUnconfirmed  HealthBucket = "unconfirmed"
)

// Metadata carries the derived, non-bucketed facts about a UTXO that
// feed downstream decisions (coin selection, builders) without forcing
// a recompute.
type Metadata struct {
	HasToken            bool   `json:"hasToken"`
	ScriptType          string `json:"scriptType"`
	EstimatedInputSize  int    `json:"estimatedInputSize"`
	IsRoundNumber       bool   `json:"isRoundNumber"`
	IsEconomicalAt1SatB bool   `json:"isEconomicalAt1SatB"`
	IsEconomicalAt2SatB bool   `json:"isEconomicalAt2SatB"`
}

// Classification is the per-UTXO scoring tuple produced by the
// classifier, keyed externally by Outpoint.
type Classification struct {
	Outpoint     Outpoint     `json:"outpoint"`
	AgeBucket    AgeBucket    `json:"ageBucket"`
	ValueBucket  ValueBucket  `json:"valueBucket"`
	HealthBucket HealthBucket `json:"healthBucket"`
	PrivacyScore int          `json:"privacyScore"`
	HealthScore  int          `json:"healthScore"`
	AgeScore     int          `json:"ageScore"`
	ValueScore   int          `json:"valueScore"`
	Metadata     Metadata     `json:"metadata"`
}

// IsEconomicalAt reports whether the UTXO is still worth spending at
// the given fee rate, per the Metadata snapshot captured at
// classification time. Computed once per classify() call; callers that
// need a different fee rate should call classifier.EconomicalToSpend
// directly.
func (c Classification) IsEconomicalAt(satPerByte float64) bool {
	switch {
	case satPerByte <= 1.0:
		return c.Metadata.IsEconomicalAt1SatB
	case satPerByte <= 2.0:
		return c.Metadata.IsEconomicalAt2SatB
	default:
		return c.Metadata.IsEconomicalAt2SatB
	}
}

// Severity levels shared by Alerts and dust-attack patterns.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityNone: 0, SeverityLow: 1, SeverityMedium: 2, SeverityHigh: 3, SeverityCritical: 4,
}

// AtLeast reports whether s is at least as severe as min.
func (s Severity) AtLeast(min Severity) bool { return severityRank[s] >= severityRank[min] }

// Alert is a wallet-health observation, never an error: it is
// informational and never fails an operation (§7).
type Alert struct {
	ID              string    `json:"id"`
	Kind            string    `json:"kind"`
	Severity        Severity  `json:"severity"`
	Outpoint        *Outpoint `json:"outpoint,omitempty"`
	Message         string    `json:"message"`
	Recommendations []string  `json:"recommendations,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// DustAttackPattern is the per-address assessment produced by the dust
// attack detector (§4.4).
type DustAttackPattern struct {
	Address         string     `json:"address"`
	Severity        Severity   `json:"severity"`
	Indicators      []string   `json:"indicators"`
	SuspiciousUTXOs []Outpoint `json:"suspiciousUtxos"`
	Recommendations []string   `json:"recommendations"`
}

// SelectionObjective picks the coin-selector's scoring policy.
type SelectionObjective string

const (
	ObjectiveLegacy SelectionObjective = "legacy"
	ObjectiveHybrid SelectionObjective = "hybrid"
)

// Plan is the coin selector's output: the inputs chosen to fund a
// target amount, and the bookkeeping needed to assemble a transaction.
type Plan struct {
	Inputs         []UTXO   `json:"inputs"`
	TotalInputSats *big.Int `json:"totalInputSats"`
	EstimatedFee   *big.Int `json:"estimatedFee"`
	ChangeSats     *big.Int `json:"changeSats"`
	Algorithm      string   `json:"algorithm"`
	Efficiency     float64  `json:"efficiency"`
	PrivacyScore   float64  `json:"privacyScore"`
	HealthScore    float64  `json:"healthScore"`
}

// Balance aggregates confirmed/unconfirmed/total sats for an address.
type Balance struct {
	Confirmed   *big.Int `json:"confirmed"`
	Unconfirmed *big.Int `json:"unconfirmed"`
	Total       *big.Int `json:"total"`
}

// Recipient is a plain-value output destination.
type Recipient struct {
	Address string   `json:"address"`
	Sats    *big.Int `json:"sats"`
}

// Network-wide constants, §6.
const (
	DustLimitSats        = 546
	DefaultFeeRateSatPerB = 1.2
	TokenRecipientCap    = 19
	StandardP2PKHInputSz = 148
	P2PKHOutputSz        = 34
	TxOverheadBytes      = 10
)

// DustLimitBig returns the dust limit as *big.Int for arithmetic with
// arbitrary-precision sat amounts.
func DustLimitBig() *big.Int { return big.NewInt(DustLimitSats) }
