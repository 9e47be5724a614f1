// Package token implements the §4.9 token engine: SLP and ALP send/burn
// transaction assembly sharing one bookkeeping core, plus the Hybrid
// Manager that dispatches between them and caches genesis metadata.
// Grounded on the teacher's internal/heuristics/consolidation_analysis.go
// for the input-selection/greedy-accumulation shape, generalized from
// sats to atoms, and on txbuilder for output assembly and signing.
package token

import (
	"math/big"

	"github.com/zh/minimal-xec-wallet/internal/amount"
	"github.com/zh/minimal-xec-wallet/pkg/wallet"
)

// Metadata is a token's genesis info, cached by the Manager for the
// life of the process (§4.9 "Hybrid Manager").
type Metadata struct {
	TokenID  string
	Ticker   string
	Decimals int
	Protocol wallet.Protocol
}

// Recipient is a token-denominated output destination, in atoms.
type Recipient struct {
	Address string
	Atoms   *big.Int
}

// SendRequest describes a token send across either protocol.
type SendRequest struct {
	TokenID           string
	Recipients        []Recipient
	ChangeAddress     string
	PlainChangeAddr   string
	FeeRateSatPerByte float64
}

// BurnRequest describes a token burn, complete or partial, across
// either protocol.
type BurnRequest struct {
	TokenID           string
	BurnAtoms         *big.Int
	ChangeAddress     string
	PlainChangeAddr   string
	FeeRateSatPerByte float64
}

// Result carries the signed transaction plus the bookkeeping a caller
// needs to display what happened.
type Result struct {
	RawHex       string
	Txid         string
	ChangeAtoms  *big.Int
	PlainChange  *big.Int
	InputsUsed   int
	RecipientCnt int
}

// Balance is a display-ready per-token holding, produced by the token
// query operations.
type Balance struct {
	TokenID  string
	Ticker   string
	Protocol wallet.Protocol
	Atoms    *big.Int
	Display  string
}

// DisplayToAtoms implements display_to_atoms(x, d) = floor(x * 10^d);
// delegates to internal/amount, which already owns exact decimal/atom
// conversion for the whole wallet (§4.9).
func DisplayToAtoms(display string, decimals int) (*big.Int, error) {
	return amount.DisplayToAtoms(display, decimals)
}

// AtomsToDisplay implements atoms_to_display(a, d) = a / 10^d, returned
// as a decimal string (§4.9, "prefer decimal strings when d > 0").
func AtomsToDisplay(atoms *big.Int, decimals int) string {
	return amount.AtomsToDisplay(atoms, decimals)
}

func sumAtoms(rs []Recipient) *big.Int {
	total := big.NewInt(0)
	for _, r := range rs {
		total.Add(total, r.Atoms)
	}
	return total
}
