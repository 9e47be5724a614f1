// Package protocol implements the pure classification functions of
// spec §4.2: tagging a UTXO as plain/SLP/ALP and aggregating totals per
// token id. Modeled on the teacher's internal/heuristics/dust_analysis.go
// and consolidation_analysis.go style — small, stateless functions over
// a slice of domain values, no I/O.
package protocol

import (
	"math/big"

	"github.com/zh/minimal-xec-wallet/pkg/wallet"
)

// Detect classifies a single UTXO as plain, SLP, or ALP. A UTXO with no
// Token annotation is plain. A UTXO carrying an unrecognized protocol
// code fails with UNKNOWN_PROTOCOL.
func Detect(u wallet.UTXO) (wallet.Protocol, error) {
	if u.Token == nil {
		return wallet.ProtocolNone, nil
	}
	switch u.Token.Protocol {
	case wallet.ProtocolSLP, wallet.ProtocolALP:
		return u.Token.Protocol, nil
	default:
		return "", wallet.Wrap(wallet.ErrUnknownProtocol, "unrecognized token protocol %q on %s", u.Token.Protocol, u.Outpoint)
	}
}

// Summary is the single-pass categorization result of Categorize.
type Summary struct {
	PlainCount int
	PlainSats  *big.Int
	TokenCount int
	TokenSats  *big.Int
}

// CategorizedUTXOs partitions a UTXO set by protocol.
type CategorizedUTXOs struct {
	Plain      []wallet.UTXO
	ByTokenID  map[string][]wallet.UTXO
	ByProtocol map[wallet.Protocol][]wallet.UTXO
	Summary    Summary
}

// Categorize partitions utxos into plain/by-token-id/by-protocol groups
// and a summary, in one pass.
func Categorize(utxos []wallet.UTXO) (*CategorizedUTXOs, error) {
	result := &CategorizedUTXOs{
		ByTokenID:  make(map[string][]wallet.UTXO),
		ByProtocol: make(map[wallet.Protocol][]wallet.UTXO),
		Summary:    Summary{PlainSats: big.NewInt(0), TokenSats: big.NewInt(0)},
	}

	for _, u := range utxos {
		proto, err := Detect(u)
		if err != nil {
			return nil, err
		}
		if proto == wallet.ProtocolNone {
			result.Plain = append(result.Plain, u)
			result.Summary.PlainCount++
			if u.Sats != nil {
				result.Summary.PlainSats.Add(result.Summary.PlainSats, u.Sats)
			}
			continue
		}
		result.ByTokenID[u.Token.TokenID] = append(result.ByTokenID[u.Token.TokenID], u)
		result.ByProtocol[proto] = append(result.ByProtocol[proto], u)
		result.Summary.TokenCount++
		if u.Sats != nil {
			result.Summary.TokenSats.Add(result.Summary.TokenSats, u.Sats)
		}
	}
	return result, nil
}

// FilterResult is the output of FilterForToken.
type FilterResult struct {
	TokenUTXOs  []wallet.UTXO
	OtherUTXOs  []wallet.UTXO
	Protocol    wallet.Protocol // "" when no UTXO matches
	TotalAtoms  *big.Int
}

// FilterForToken splits utxos into those matching tokenID and
// everything else, and sums the matching atoms.
func FilterForToken(utxos []wallet.UTXO, tokenID string) (*FilterResult, error) {
	result := &FilterResult{TotalAtoms: big.NewInt(0)}
	for _, u := range utxos {
		if u.Token != nil && u.Token.TokenID == tokenID {
			proto, err := Detect(u)
			if err != nil {
				return nil, err
			}
			result.TokenUTXOs = append(result.TokenUTXOs, u)
			result.Protocol = proto
			if u.Token.Atoms != nil {
				result.TotalAtoms.Add(result.TotalAtoms, u.Token.Atoms)
			}
			continue
		}
		result.OtherUTXOs = append(result.OtherUTXOs, u)
	}
	return result, nil
}

// InventoryEntry summarizes one token id's presence in a UTXO set.
type InventoryEntry struct {
	TokenID         string
	Protocol        wallet.Protocol
	UTXOCount       int
	TotalAtoms      *big.Int
	FirstSeenHeight int64
}

// Inventory lists every distinct token id observed in utxos, with
// per-token totals and the earliest observed block height (mempool
// UTXOs, height -1, never set FirstSeenHeight below an already-seen
// confirmed height).
func Inventory(utxos []wallet.UTXO) ([]InventoryEntry, error) {
	order := make([]string, 0)
	byID := make(map[string]*InventoryEntry)

	for _, u := range utxos {
		if u.Token == nil {
			continue
		}
		proto, err := Detect(u)
		if err != nil {
			return nil, err
		}
		entry, ok := byID[u.Token.TokenID]
		if !ok {
			entry = &InventoryEntry{
				TokenID:         u.Token.TokenID,
				Protocol:        proto,
				TotalAtoms:      big.NewInt(0),
				FirstSeenHeight: u.BlockHeight,
			}
			byID[u.Token.TokenID] = entry
			order = append(order, u.Token.TokenID)
		}
		entry.UTXOCount++
		if u.Token.Atoms != nil {
			entry.TotalAtoms.Add(entry.TotalAtoms, u.Token.Atoms)
		}
		if isEarlier(u.BlockHeight, entry.FirstSeenHeight) {
			entry.FirstSeenHeight = u.BlockHeight
		}
	}

	out := make([]InventoryEntry, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

// isEarlier reports whether candidate height precedes current,
// treating -1 (mempool) as later than any confirmed height.
func isEarlier(candidate, current int64) bool {
	if candidate < 0 {
		return false
	}
	if current < 0 {
		return true
	}
	return candidate < current
}
