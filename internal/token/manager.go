package token

import (
	"context"
	"math/big"
	"sync"

	"github.com/zh/minimal-xec-wallet/internal/indexer"
	"github.com/zh/minimal-xec-wallet/internal/protocol"
	"github.com/zh/minimal-xec-wallet/internal/txbuilder"
	"github.com/zh/minimal-xec-wallet/pkg/wallet"
)

// MetadataSource fetches genesis metadata for a token id; the indexer
// adapter's GetTokenInfo satisfies this directly.
type MetadataSource interface {
	GetTokenInfo(ctx context.Context, tokenID string) (*indexer.TokenInfo, error)
}

// Manager dispatches token operations to the SLP or ALP engine based
// on the protocol carried by the UTXO set (or, failing that, a cached
// genesis lookup), and caches metadata by token id for the life of the
// process (§4.9 "Hybrid Manager").
type Manager struct {
	mu     sync.RWMutex
	cache  map[string]Metadata
	source MetadataSource
}

// New builds a Manager backed by the given metadata source.
func New(source MetadataSource) *Manager {
	return &Manager{cache: make(map[string]Metadata), source: source}
}

// ClearCache drops every cached token metadata entry.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]Metadata)
}

// protocolFor resolves the protocol for tokenID: prefer a UTXO that
// already carries it, falling back to a cached (or freshly fetched)
// genesis lookup.
func (m *Manager) protocolFor(ctx context.Context, tokenID string, utxos []wallet.UTXO) (wallet.Protocol, error) {
	for _, u := range utxos {
		if u.Token != nil && u.Token.TokenID == tokenID {
			return u.Token.Protocol, nil
		}
	}
	meta, err := m.metadata(ctx, tokenID)
	if err != nil {
		return "", err
	}
	return meta.Protocol, nil
}

// metadata returns cached genesis metadata for tokenID, fetching and
// caching it on a miss.
func (m *Manager) metadata(ctx context.Context, tokenID string) (Metadata, error) {
	m.mu.RLock()
	meta, ok := m.cache[tokenID]
	m.mu.RUnlock()
	if ok {
		return meta, nil
	}

	fetched, err := m.source.GetTokenInfo(ctx, tokenID)
	if err != nil {
		return Metadata{}, err
	}
	meta = Metadata{
		TokenID:  fetched.TokenID,
		Ticker:   fetched.Ticker,
		Decimals: fetched.Decimals,
		Protocol: fetched.Protocol,
	}

	m.mu.Lock()
	m.cache[tokenID] = meta
	m.mu.Unlock()
	return meta, nil
}

// Send dispatches a token send to the SLP or ALP engine.
func (m *Manager) Send(ctx context.Context, req SendRequest, utxos []wallet.UTXO, keySrc txbuilder.KeySource) (Result, error) {
	proto, err := m.protocolFor(ctx, req.TokenID, utxos)
	if err != nil {
		return Result{}, err
	}
	switch proto {
	case wallet.ProtocolSLP:
		return SendSLP(req, utxos, keySrc)
	case wallet.ProtocolALP:
		return SendALP(req, utxos, keySrc)
	default:
		return Result{}, wallet.Wrap(wallet.ErrUnknownProtocol, "unrecognized token protocol %q for token %s", proto, req.TokenID)
	}
}

// Burn dispatches a token burn to the SLP or ALP engine.
func (m *Manager) Burn(ctx context.Context, req BurnRequest, utxos []wallet.UTXO, keySrc txbuilder.KeySource) (Result, error) {
	proto, err := m.protocolFor(ctx, req.TokenID, utxos)
	if err != nil {
		return Result{}, err
	}
	switch proto {
	case wallet.ProtocolSLP:
		return BurnSLP(req, utxos, keySrc)
	case wallet.ProtocolALP:
		return BurnALP(req, utxos, keySrc)
	default:
		return Result{}, wallet.Wrap(wallet.ErrUnknownProtocol, "unrecognized token protocol %q for token %s", proto, req.TokenID)
	}
}

// ListTokensFromUTXOs implements §4.9 `list_tokens_from_utxos`:
// inventory every token id present, enrich each with genesis metadata,
// and return display balances.
func (m *Manager) ListTokensFromUTXOs(ctx context.Context, utxos []wallet.UTXO) ([]Balance, error) {
	inv, err := protocol.Inventory(utxos)
	if err != nil {
		return nil, err
	}

	out := make([]Balance, 0, len(inv))
	for _, entry := range inv {
		meta, err := m.metadata(ctx, entry.TokenID)
		ticker := meta.Ticker
		decimals := meta.Decimals
		proto := entry.Protocol
		if err != nil {
			ticker = ""
			decimals = 0
		}
		out = append(out, Balance{
			TokenID:  entry.TokenID,
			Ticker:   ticker,
			Protocol: proto,
			Atoms:    entry.TotalAtoms,
			Display:  AtomsToDisplay(entry.TotalAtoms, decimals),
		})
	}
	return out, nil
}

// TokenBalance implements §4.9 `token_balance`: the balance for one
// token id, zero-valued (protocol "UNKNOWN") when the id isn't present
// and its genesis metadata can't be resolved either.
func (m *Manager) TokenBalance(ctx context.Context, tokenID string, utxos []wallet.UTXO) (Balance, error) {
	filtered, err := protocol.FilterForToken(utxos, tokenID)
	if err != nil {
		return Balance{}, err
	}

	total := filtered.TotalAtoms
	if total == nil {
		total = big.NewInt(0)
	}
	proto := filtered.Protocol

	meta, metaErr := m.metadata(ctx, tokenID)
	ticker := meta.Ticker
	decimals := meta.Decimals
	if proto == "" {
		if metaErr != nil {
			proto = "UNKNOWN"
		} else {
			proto = meta.Protocol
		}
	}

	return Balance{
		TokenID:  tokenID,
		Ticker:   ticker,
		Protocol: proto,
		Atoms:    total,
		Display:  AtomsToDisplay(total, decimals),
	}, nil
}
