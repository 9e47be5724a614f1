// Package store implements the UTXO Store of spec §4.5: the
// wallet-owned cache of UTXOs plus their derived classifications. It
// is the sole writer of wallet state; every other package receives
// by-value snapshots. Grounded on the teacher's internal/mempool/poller.go
// (ticker-driven background loop over shared state) and
// internal/heuristics/alert_system.go (mutex-guarded slice, callers
// always get a copy), generalized with a coalesced-fetch init the way
// a production indexer client avoids a thundering herd of identical
// refreshes.
package store

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/zh/minimal-xec-wallet/internal/classifier"
	"github.com/zh/minimal-xec-wallet/internal/coinselect"
	"github.com/zh/minimal-xec-wallet/internal/health"
	"github.com/zh/minimal-xec-wallet/internal/indexer"
	"github.com/zh/minimal-xec-wallet/pkg/wallet"
)

// Filter narrows spendable_plain_utxos, §4.5.
type Filter struct {
	MinHealth          int
	MinPrivacy         int
	ExcludeSuspicious  bool
	IncludeUnconfirmed bool
}

// Config tunes cache lifetime and re-classification cadence.
type Config struct {
	CacheTTL              time.Duration
	ReclassifyEveryBlocks int64
	FetchMaxRetries       int
	FetchBaseDelay        time.Duration
}

// DefaultConfig mirrors the adapter's own retry cadence, §4.1/§4.5.
func DefaultConfig() Config {
	return Config{
		CacheTTL:              60 * time.Second,
		ReclassifyEveryBlocks: 144,
		FetchMaxRetries:       3,
		FetchBaseDelay:        250 * time.Millisecond,
	}
}

// initCall lets concurrent Init calls for the same store coalesce onto
// a single in-flight fetch, the way a shared cache avoids duplicate
// upstream requests under load.
type initCall struct {
	wg  sync.WaitGroup
	err error
}

// Store is the wallet's UTXO cache. Reads (GetX, SpendablePlainUTXOs,
// TotalBalance) take an RLock over a snapshot that background refresh
// replaces wholesale, never mutates in place — so a read started before
// a refresh completes always observes the pre-refresh state (§4.5 iv).
type Store struct {
	mu sync.RWMutex

	adapter    *indexer.Adapter
	classifier *classifier.Classifier
	monitor    *health.Monitor
	cfg        Config

	address              string
	utxos                []wallet.UTXO
	classifications      map[wallet.Outpoint]wallet.Classification
	tipHeight            int64
	lastClassifiedHeight int64
	lastFetch            time.Time
	initialized          bool

	initMu   sync.Mutex
	inflight *initCall
}

// New builds a Store bound to one adapter/classifier/monitor triple.
// A single Store instance is scoped to one wallet address.
func New(adapter *indexer.Adapter, cl *classifier.Classifier, mon *health.Monitor, cfg Config) *Store {
	return &Store{
		adapter:         adapter,
		classifier:      cl,
		monitor:         mon,
		cfg:             cfg,
		classifications: make(map[wallet.Outpoint]wallet.Classification),
	}
}

// Init (re)populates the cache for address. Expired or forced calls
// fetch via the adapter; concurrent calls for the same store coalesce
// onto one fetch and all observe its result.
func (s *Store) Init(ctx context.Context, address string, forceRefresh bool) error {
	s.mu.RLock()
	fresh := s.initialized && address == s.address && time.Since(s.lastFetch) < s.cfg.CacheTTL
	s.mu.RUnlock()
	if fresh && !forceRefresh {
		return nil
	}

	s.initMu.Lock()
	if call := s.inflight; call != nil {
		s.initMu.Unlock()
		call.wg.Wait()
		return call.err
	}
	call := &initCall{}
	call.wg.Add(1)
	s.inflight = call
	s.initMu.Unlock()

	err := s.doInit(ctx, address)

	s.initMu.Lock()
	call.err = err
	s.inflight = nil
	s.initMu.Unlock()
	call.wg.Done()
	return err
}

func (s *Store) doInit(ctx context.Context, address string) error {
	raw, tipHeight, err := s.fetchWithRetry(ctx, address)
	if err != nil {
		return err
	}

	valid := make([]wallet.UTXO, 0, len(raw))
	for _, u := range raw {
		if !structurallyValid(u) {
			continue
		}
		if u.Sats.Cmp(wallet.DustLimitBig()) < 0 {
			continue // below-dust outputs are not worth tracking, §4.5
		}
		valid = append(valid, u)
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Sats.Cmp(valid[j].Sats) > 0
	})

	classifications := s.classifyParallel(valid, tipHeight)

	s.mu.Lock()
	s.address = address
	s.utxos = valid
	s.classifications = classifications
	s.tipHeight = tipHeight
	s.lastClassifiedHeight = tipHeight
	s.lastFetch = time.Now()
	s.initialized = true
	s.mu.Unlock()
	return nil
}

// fetchWithRetry wraps the adapter call in a small bounded
// exponential-backoff loop; the adapter already fails over across
// endpoints internally, so this only guards against a transient
// failure of the adapter call as a whole.
func (s *Store) fetchWithRetry(ctx context.Context, address string) ([]wallet.UTXO, int64, error) {
	var lastErr error
	delay := s.cfg.FetchBaseDelay
	for attempt := 1; attempt <= s.cfg.FetchMaxRetries; attempt++ {
		utxos, err := s.adapter.GetUTXOs(ctx, address)
		if err == nil {
			info, infoErr := s.adapter.GetBlockchainInfo(ctx)
			tip := int64(0)
			if infoErr == nil {
				tip = info.TipHeight
			}
			return utxos, tip, nil
		}
		lastErr = err
		if attempt == s.cfg.FetchMaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, 0, lastErr
}

// classifyParallel computes classifications concurrently, the way
// BulkClassify processes a batch but fanned across goroutines for
// throughput on a large UTXO set.
func (s *Store) classifyParallel(utxos []wallet.UTXO, tipHeight int64) map[wallet.Outpoint]wallet.Classification {
	type result struct {
		outpoint wallet.Outpoint
		cl       wallet.Classification
		ok       bool
	}
	results := make(chan result, len(utxos))
	var wg sync.WaitGroup
	for _, u := range utxos {
		wg.Add(1)
		go func(u wallet.UTXO) {
			defer wg.Done()
			cl, err := s.classifier.Classify(u, tipHeight)
			results <- result{outpoint: u.Outpoint, cl: cl, ok: err == nil}
		}(u)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	out := make(map[wallet.Outpoint]wallet.Classification, len(utxos))
	for r := range results {
		if r.ok {
			out[r.outpoint] = r.cl
		}
	}
	return out
}

func structurallyValid(u wallet.UTXO) bool {
	if u.Outpoint.Txid == "" {
		return false
	}
	if u.Sats == nil || u.Sats.Sign() < 0 {
		return false
	}
	if len(u.OutputScript) == 0 {
		return false
	}
	return true
}

// snapshot returns a consistent, by-value view under a single RLock.
func (s *Store) snapshot() ([]wallet.UTXO, map[wallet.Outpoint]wallet.Classification) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	utxos := make([]wallet.UTXO, len(s.utxos))
	for i, u := range s.utxos {
		utxos[i] = u.Clone()
	}
	cls := make(map[wallet.Outpoint]wallet.Classification, len(s.classifications))
	for k, v := range s.classifications {
		cls[k] = v
	}
	return utxos, cls
}

// SpendablePlainUTXOs returns non-token UTXOs matching filter. Never
// surfaces a token UTXO (§4.5 invariant ii).
func (s *Store) SpendablePlainUTXOs(filter Filter) []wallet.UTXO {
	utxos, cls := s.snapshot()
	out := make([]wallet.UTXO, 0, len(utxos))
	for _, u := range utxos {
		if u.HasToken() {
			continue
		}
		if u.IsUnconfirmed() && !filter.IncludeUnconfirmed {
			continue
		}
		cl := cls[u.Outpoint]
		if filter.MinHealth > 0 && cl.HealthScore < filter.MinHealth {
			continue
		}
		if filter.MinPrivacy > 0 && cl.PrivacyScore < filter.MinPrivacy {
			continue
		}
		if filter.ExcludeSuspicious && cl.HealthBucket == wallet.HealthSuspicious {
			continue
		}
		out = append(out, u)
	}
	return out
}

// AllUTXOs returns every cached UTXO, token-bearing included — the view
// the token engine and consolidation planner need since both must see
// (and, for consolidation, hard-reject) token-bearing outputs that
// SpendablePlainUTXOs already filters out.
func (s *Store) AllUTXOs() []wallet.UTXO {
	utxos, _ := s.snapshot()
	return utxos
}

// TotalBalance sums confirmed, unconfirmed, and combined sats.
func (s *Store) TotalBalance() wallet.Balance {
	utxos, _ := s.snapshot()
	confirmed, unconfirmed := big.NewInt(0), big.NewInt(0)
	for _, u := range utxos {
		if u.Sats == nil {
			continue
		}
		if u.IsUnconfirmed() {
			unconfirmed.Add(unconfirmed, u.Sats)
		} else {
			confirmed.Add(confirmed, u.Sats)
		}
	}
	return wallet.Balance{
		Confirmed:   confirmed,
		Unconfirmed: unconfirmed,
		Total:       new(big.Int).Add(confirmed, unconfirmed),
	}
}

// SelectForAmount is a thin wrapper over coinselect with the legacy
// objective, §4.5.
func (s *Store) SelectForAmount(targetSats *big.Int, feeRate float64) (wallet.Plan, error) {
	utxos, cls := s.snapshot()
	plain := make([]wallet.UTXO, 0, len(utxos))
	for _, u := range utxos {
		if !u.HasToken() {
			plain = append(plain, u)
		}
	}
	opts := coinselect.DefaultOptions()
	opts.FeeRateSatPerByte = feeRate
	return coinselect.Select(plain, cls, targetSats, opts)
}

// Classification returns the cached classification for an outpoint.
func (s *Store) Classification(o wallet.Outpoint) (wallet.Classification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cl, ok := s.classifications[o]
	return cl, ok
}

// HealthBucket is a convenience accessor over the cached classification.
func (s *Store) HealthBucket(o wallet.Outpoint) (wallet.HealthBucket, bool) {
	cl, ok := s.Classification(o)
	return cl.HealthBucket, ok
}

// PrivacyScore is a convenience accessor over the cached classification.
func (s *Store) PrivacyScore(o wallet.Outpoint) (int, bool) {
	cl, ok := s.Classification(o)
	return cl.PrivacyScore, ok
}

// RefreshCache forces a re-fetch for address.
func (s *Store) RefreshCache(ctx context.Context, address string) error {
	return s.Init(ctx, address, true)
}

// ClearCache drops all cached state; the next Init always fetches.
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utxos = nil
	s.classifications = make(map[wallet.Outpoint]wallet.Classification)
	s.initialized = false
	s.lastFetch = time.Time{}
}

// UpdateBlockHeight records a new tip height and, if it advanced by at
// least ReclassifyEveryBlocks since the last classification pass,
// kicks off a background re-classification that swaps in its result
// without ever blocking a concurrent read.
func (s *Store) UpdateBlockHeight(h int64) {
	s.mu.Lock()
	s.tipHeight = h
	shouldReclassify := h-s.lastClassifiedHeight >= s.cfg.ReclassifyEveryBlocks
	utxos := make([]wallet.UTXO, len(s.utxos))
	copy(utxos, s.utxos)
	s.mu.Unlock()

	if !shouldReclassify {
		return
	}

	go func() {
		classifications := s.classifyParallel(utxos, h)
		s.mu.Lock()
		s.classifications = classifications
		s.lastClassifiedHeight = h
		s.mu.Unlock()
	}()
}
