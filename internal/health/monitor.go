// Package health implements the wallet-health reporting and dust-attack
// detection of spec §4.4. Grounded on the teacher's
// internal/heuristics/alert_system.go (AlertManager shape: mutex-guarded
// history, webhook fan-out, severity thresholding) and
// internal/heuristics/dust_analysis.go (ordered, severity-escalates-only
// rule evaluation over a UTXO/output set).
package health

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zh/minimal-xec-wallet/internal/classifier"
	"github.com/zh/minimal-xec-wallet/pkg/wallet"
)

// Config holds the configurable thresholds of §4.4, defaulted to the
// values spec.md lists.
type Config struct {
	DustAttackSize         int64 // ≥ this many dust-range UTXOs ⇒ high
	RapidDeposits          int64 // ≥ this many total recent deposits ⇒ at least medium
	RecentWindowBlocks     int64 // confirmed UTXOs within this many blocks of tip count as "recent"
	FragmentationDustCount int     // dust count above this ⇒ wallet_fragmentation alert
	AttackSuspiciousCount  int     // suspicious count above this ⇒ potential_attack alert
	InefficiencyFraction   float64 // uneconomical fraction above this ⇒ economic_inefficiency alert
	MaxAlertAge            time.Duration
	MaxHistoryPerUTXO      int
}

// DefaultConfig returns the spec.md-listed default thresholds.
func DefaultConfig() Config {
	return Config{
		DustAttackSize:         5,
		RapidDeposits:          10,
		RecentWindowBlocks:     6,
		FragmentationDustCount: 10,
		AttackSuspiciousCount:  3,
		InefficiencyFraction:   0.30,
		MaxAlertAge:            24 * time.Hour,
		MaxHistoryPerUTXO:      10,
	}
}

// Assessment is the per-UTXO health verdict of §4.4.
type Assessment struct {
	Outpoint         wallet.Outpoint    `json:"outpoint"`
	Status           wallet.HealthBucket `json:"status"`
	Severity         wallet.Severity    `json:"severity"`
	HealthScore      int                `json:"healthScore"`
	SpendingCostSats int64              `json:"spendingCostSats"`
	BreakEvenFeeRate float64            `json:"breakEvenFeeRate"`
	RiskFactors      []string           `json:"riskFactors"`
	Recommendations  []string           `json:"recommendations"`
	AssessedAt       time.Time          `json:"assessedAt"`
}

// Summary is the aggregate view across every assessed UTXO.
type Summary struct {
	CountByStatus         map[wallet.HealthBucket]int `json:"countByStatus"`
	TotalValueSats        *big.Int                    `json:"totalValueSats"`
	SpendableValueSats    *big.Int                    `json:"spendableValueSats"`
	UneconomicalValueSats *big.Int                    `json:"uneconomicalValueSats"`
	SpendablePercent      float64                     `json:"spendablePercent"`
	UneconomicalPercent   float64                     `json:"uneconomicalPercent"`
}

// SystemRecommendation is a wallet-wide action suggestion, §4.4.
type SystemRecommendation struct {
	Kind     string `json:"kind"` // consolidation | wallet_health | security | confirmation
	Priority string `json:"priority"`
	Action   string `json:"action"`
	Message  string `json:"message"`
}

// Report is the full output of Assess.
type Report struct {
	Assessments     []Assessment           `json:"assessments"`
	Summary         Summary                `json:"summary"`
	Alerts          []wallet.Alert         `json:"alerts"`
	Recommendations []SystemRecommendation `json:"recommendations"`
	GeneratedAt     time.Time              `json:"generatedAt"`
}

// WebhookEndpoint is a registered alert receiver, mirrored from the
// teacher's WebhookEndpoint (Slack/Discord/SIEM compatible payloads).
type WebhookEndpoint struct {
	Name        string
	URL         string
	Enabled     bool
	Headers     map[string]string
	MinSeverity wallet.Severity
}

// Monitor is the stateful health/alert engine: it holds rolling
// per-UTXO assessment history, per-address dust-attack patterns, alert
// history, and registered webhooks.
type Monitor struct {
	mu sync.RWMutex

	cfg        Config
	classifier *classifier.Classifier

	history      map[wallet.Outpoint][]Assessment
	dustPatterns map[string]wallet.DustAttackPattern
	alerts       []wallet.Alert
	webhooks     []WebhookEndpoint

	httpClient *http.Client
	broadcast  func(wallet.Alert)
}

// New builds a Monitor. broadcastFn, if non-nil, is invoked for every
// emitted alert (e.g. to fan out over a websocket, as the teacher's
// AlertManager does for dashboards).
func New(cfg Config, cl *classifier.Classifier, broadcastFn func(wallet.Alert)) *Monitor {
	return &Monitor{
		cfg:          cfg,
		classifier:   cl,
		history:      make(map[wallet.Outpoint][]Assessment),
		dustPatterns: make(map[string]wallet.DustAttackPattern),
		httpClient:   &http.Client{Timeout: 5 * time.Second},
		broadcast:    broadcastFn,
	}
}

// RegisterWebhook adds a webhook endpoint for alert delivery.
func (m *Monitor) RegisterWebhook(name, url string, minSeverity wallet.Severity, headers map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooks = append(m.webhooks, WebhookEndpoint{
		Name: name, URL: url, Enabled: true, Headers: headers, MinSeverity: minSeverity,
	})
	log.Printf("[health] registered webhook: %s -> %s (min: %s)", name, url, minSeverity)
}

// RemoveWebhook removes a webhook by name.
func (m *Monitor) RemoveWebhook(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, wh := range m.webhooks {
		if wh.Name == name {
			m.webhooks = append(m.webhooks[:i], m.webhooks[i+1:]...)
			return
		}
	}
}

// Assess produces a Health Report for utxos at the given fee rate.
// Pre-computed classifications may be supplied (typically by the
// store); any UTXO missing one is classified on demand.
func (m *Monitor) Assess(utxos []wallet.UTXO, classifications map[wallet.Outpoint]wallet.Classification, tipHeight int64, feeRateSatPerByte float64) Report {
	now := time.Now()
	assessments := make([]Assessment, 0, len(utxos))
	countByStatus := make(map[wallet.HealthBucket]int)
	totalValue := big.NewInt(0)
	spendableValue := big.NewInt(0)
	uneconomicalValue := big.NewInt(0)

	var dustCount, suspiciousCount, uneconomicalCount int

	for _, u := range utxos {
		cl, ok := classifications[u.Outpoint]
		if !ok && m.classifier != nil {
			var err error
			cl, err = m.classifier.Classify(u, tipHeight)
			if err != nil {
				continue
			}
		}

		a := m.assessOne(u, cl, feeRateSatPerByte, now)
		assessments = append(assessments, a)
		m.recordHistory(a)

		countByStatus[a.Status]++
		if u.Sats != nil {
			totalValue.Add(totalValue, u.Sats)
			if cl.IsEconomicalAt(feeRateSatPerByte) {
				spendableValue.Add(spendableValue, u.Sats)
			} else {
				uneconomicalValue.Add(uneconomicalValue, u.Sats)
				uneconomicalCount++
			}
		}
		if a.Status == wallet.HealthDust {
			dustCount++
		}
		if a.Status == wallet.HealthSuspicious {
			suspiciousCount++
		}
	}

	summary := Summary{
		CountByStatus:         countByStatus,
		TotalValueSats:        totalValue,
		SpendableValueSats:    spendableValue,
		UneconomicalValueSats: uneconomicalValue,
	}
	if totalFloat := bigToFloat(totalValue); totalFloat > 0 {
		summary.SpendablePercent = bigToFloat(spendableValue) / totalFloat * 100
		summary.UneconomicalPercent = bigToFloat(uneconomicalValue) / totalFloat * 100
	}

	var alerts []wallet.Alert
	for _, a := range assessments {
		if a.Severity.AtLeast(wallet.SeverityHigh) {
			outp := a.Outpoint
			alerts = append(alerts, wallet.Alert{
				Kind:            "utxo_risk",
				Severity:        a.Severity,
				Outpoint:        &outp,
				Message:         fmt.Sprintf("utxo %s is %s", a.Outpoint, a.Status),
				Recommendations: a.Recommendations,
				CreatedAt:       now,
			})
		}
	}
	if dustCount > m.cfg.FragmentationDustCount {
		alerts = append(alerts, wallet.Alert{
			Kind: "wallet_fragmentation", Severity: wallet.SeverityMedium,
			Message:         fmt.Sprintf("%d dust UTXOs are fragmenting the wallet", dustCount),
			Recommendations: []string{"consolidate dust UTXOs when fees are low"},
			CreatedAt:       now,
		})
	}
	if suspiciousCount > m.cfg.AttackSuspiciousCount {
		alerts = append(alerts, wallet.Alert{
			Kind: "potential_attack", Severity: wallet.SeverityHigh,
			Message:         fmt.Sprintf("%d suspicious UTXOs detected, consistent with a dust attack", suspiciousCount),
			Recommendations: []string{"do not spend micro-UTXOs", "use a new receiving address"},
			CreatedAt:       now,
		})
	}
	if len(assessments) > 0 && summary.UneconomicalPercent > m.cfg.InefficiencyFraction*100 {
		alerts = append(alerts, wallet.Alert{
			Kind: "economic_inefficiency", Severity: wallet.SeverityMedium,
			Message:         fmt.Sprintf("%.1f%% of wallet value is uneconomical to spend at %.2f sat/byte", summary.UneconomicalPercent, feeRateSatPerByte),
			Recommendations: []string{"wait for lower fees", "consolidate uneconomical UTXOs"},
			CreatedAt:       now,
		})
	}

	for _, al := range alerts {
		m.emit(al)
	}

	recs := m.systemRecommendations(summary, dustCount, suspiciousCount, countByStatus[wallet.HealthUnconfirmed])

	return Report{
		Assessments:     assessments,
		Summary:         summary,
		Alerts:          alerts,
		Recommendations: recs,
		GeneratedAt:     now,
	}
}

func (m *Monitor) assessOne(u wallet.UTXO, cl wallet.Classification, feeRateSatPerByte float64, now time.Time) Assessment {
	standardInputBytes := float64(wallet.StandardP2PKHInputSz)
	spendCost := int64(math.Ceil(standardInputBytes * feeRateSatPerByte))

	var breakEven float64
	if u.Sats != nil {
		breakEven = bigToFloat(u.Sats) / standardInputBytes
	}

	var risks, recs []string
	severity := wallet.SeverityNone

	switch cl.HealthBucket {
	case wallet.HealthDust:
		severity = wallet.SeverityHigh
		risks = append(risks, fmt.Sprintf("value below the %d sat dust limit", wallet.DustLimitSats))
		recs = append(recs, "do not spend individually", "consolidate with other small UTXOs")
	case wallet.HealthSuspicious:
		severity = wallet.SeverityCritical
		risks = append(risks, "matches a suspicious dust pattern (possible address-linking attempt)")
		recs = append(recs, "avoid spending alongside other UTXOs", "consider abandoning this output")
	case wallet.HealthUneconomical:
		severity = wallet.SeverityMedium
		risks = append(risks, fmt.Sprintf("spending cost (%d sats) exceeds the value's marginal benefit at %.2f sat/byte", spendCost, feeRateSatPerByte))
		recs = append(recs, "wait for lower fees or consolidate with larger UTXOs")
	case wallet.HealthAtRisk:
		severity = wallet.SeverityLow
		risks = append(risks, "low value, approaching the uneconomical threshold")
		recs = append(recs, "monitor fee rates before spending")
	case wallet.HealthUnconfirmed:
		severity = wallet.SeverityNone
		risks = append(risks, "not yet confirmed")
		recs = append(recs, "wait for at least one confirmation before spending")
	case wallet.HealthHealthy:
		severity = wallet.SeverityNone
	}

	return Assessment{
		Outpoint:         u.Outpoint,
		Status:           cl.HealthBucket,
		Severity:         severity,
		HealthScore:      cl.HealthScore,
		SpendingCostSats: spendCost,
		BreakEvenFeeRate: breakEven,
		RiskFactors:      risks,
		Recommendations:  recs,
		AssessedAt:       now,
	}
}

func (m *Monitor) systemRecommendations(s Summary, dustCount, suspiciousCount, unconfirmedCount int) []SystemRecommendation {
	var out []SystemRecommendation

	if dustCount > m.cfg.FragmentationDustCount || s.UneconomicalPercent > m.cfg.InefficiencyFraction*100 {
		out = append(out, SystemRecommendation{
			Kind: "consolidation", Priority: "medium", Action: "consolidate_dust_utxos",
			Message: "consolidate small or uneconomical UTXOs during a low-fee window",
		})
	}
	if s.SpendablePercent < 50 && bigToFloat(s.TotalValueSats) > 0 {
		out = append(out, SystemRecommendation{
			Kind: "wallet_health", Priority: "low", Action: "review_utxo_set",
			Message: "less than half of wallet value is currently economical to spend",
		})
	}
	if suspiciousCount > m.cfg.AttackSuspiciousCount {
		out = append(out, SystemRecommendation{
			Kind: "security", Priority: "high", Action: "rotate_receiving_address",
			Message: "suspicious dust pattern detected; rotate to a new receiving address",
		})
	}
	if unconfirmedCount > 0 {
		out = append(out, SystemRecommendation{
			Kind: "confirmation", Priority: "low", Action: "await_confirmations",
			Message: fmt.Sprintf("%d UTXOs are unconfirmed; wait before relying on their funds", unconfirmedCount),
		})
	}
	return out
}

// recordHistory appends to the per-outpoint rolling history, retaining
// at most MaxHistoryPerUTXO entries (oldest dropped first).
func (m *Monitor) recordHistory(a Assessment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := append(m.history[a.Outpoint], a)
	if len(h) > m.cfg.MaxHistoryPerUTXO {
		h = h[len(h)-m.cfg.MaxHistoryPerUTXO:]
	}
	m.history[a.Outpoint] = h
}

// History returns the rolling assessment history for an outpoint,
// oldest first.
func (m *Monitor) History(o wallet.Outpoint) []Assessment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.history[o]
	out := make([]Assessment, len(h))
	copy(out, h)
	return out
}

// DetectDustAttack evaluates the §4.4 dust-attack rules, in order,
// against utxos observed at address. Severity only ever escalates
// across the rule sequence (§8 invariant 9).
func (m *Monitor) DetectDustAttack(utxos []wallet.UTXO, classifications map[wallet.Outpoint]wallet.Classification, address string, tipHeight int64) wallet.DustAttackPattern {
	lower := wallet.DustLimitBig()
	upper := big.NewInt(wallet.DustLimitSats * 5)

	var recent []wallet.UTXO
	for _, u := range utxos {
		if u.Sats == nil {
			continue
		}
		if u.Sats.Cmp(lower) <= 0 || u.Sats.Cmp(upper) >= 0 {
			continue
		}
		if !m.isRecent(u, tipHeight) {
			continue
		}
		recent = append(recent, u)
	}

	severity := wallet.SeverityNone
	var indicators []string
	suspicious := make([]wallet.Outpoint, 0, len(recent))
	for _, u := range recent {
		suspicious = append(suspicious, u.Outpoint)
	}

	// Rule 1: enough dust-range recent UTXOs ⇒ high.
	if int64(len(recent)) >= m.cfg.DustAttackSize {
		severity = escalate(severity, wallet.SeverityHigh)
		indicators = append(indicators, fmt.Sprintf("%d dust UTXOs (%d-%d sats) received recently", len(recent), wallet.DustLimitSats+1, wallet.DustLimitSats*5-1))
	}

	// Rule 2: ≥3 round-number amounts among them ⇒ escalate to critical.
	if severity.AtLeast(wallet.SeverityHigh) {
		roundCount := 0
		for _, u := range recent {
			if m.isRoundNumber(u.Sats) {
				roundCount++
			}
		}
		if roundCount >= 3 {
			severity = escalate(severity, wallet.SeverityCritical)
			indicators = append(indicators, fmt.Sprintf("%d round-number dust amounts", roundCount))
		}
	}

	// Rule 3: any amount repeats ≥3 times ⇒ critical, naming the amount.
	counts := make(map[string]int)
	for _, u := range recent {
		counts[u.Sats.String()]++
	}
	for amount, n := range counts {
		if n >= 3 {
			severity = escalate(severity, wallet.SeverityCritical)
			indicators = append(indicators, fmt.Sprintf("%d identical amounts of %s sats", n, amount))
		}
	}

	// Rule 4: total rapid deposits (any sats, recent) ⇒ at least medium.
	rapidCount := 0
	for _, u := range utxos {
		if m.isRecent(u, tipHeight) {
			rapidCount++
		}
	}
	if int64(rapidCount) >= m.cfg.RapidDeposits {
		severity = escalate(severity, wallet.SeverityMedium)
		indicators = append(indicators, fmt.Sprintf("%d rapid deposits observed", rapidCount))
	}

	pattern := wallet.DustAttackPattern{
		Address:         address,
		Severity:        severity,
		Indicators:      indicators,
		SuspiciousUTXOs: suspicious,
	}
	if severity.AtLeast(wallet.SeverityMedium) {
		pattern.Recommendations = []string{"do not spend micro-UTXOs", "use a new receiving address"}
	}

	m.mu.Lock()
	m.dustPatterns[address] = pattern
	m.mu.Unlock()

	return pattern
}

// DustPattern returns the last detected pattern for address, if any.
func (m *Monitor) DustPattern(address string) (wallet.DustAttackPattern, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.dustPatterns[address]
	return p, ok
}

func (m *Monitor) isRoundNumber(sats *big.Int) bool {
	if m.classifier != nil {
		return m.classifier.IsRoundNumber(sats)
	}
	return false
}

func (m *Monitor) isRecent(u wallet.UTXO, tipHeight int64) bool {
	if u.IsUnconfirmed() {
		return true
	}
	blocksSince := tipHeight - u.BlockHeight
	return blocksSince >= 0 && blocksSince <= m.cfg.RecentWindowBlocks
}

func escalate(current, candidate wallet.Severity) wallet.Severity {
	if candidate.AtLeast(current) {
		return candidate
	}
	return current
}

// emit stores an alert, prunes anything past MaxAlertAge, broadcasts it,
// and fans it out to every webhook whose MinSeverity is met.
func (m *Monitor) emit(a wallet.Alert) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	m.mu.Lock()
	m.alerts = append(m.alerts, a)
	cutoff := time.Now().Add(-m.cfg.MaxAlertAge)
	kept := m.alerts[:0]
	for _, al := range m.alerts {
		if al.CreatedAt.After(cutoff) {
			kept = append(kept, al)
		}
	}
	m.alerts = kept
	webhooks := make([]WebhookEndpoint, len(m.webhooks))
	copy(webhooks, m.webhooks)
	m.mu.Unlock()

	if m.broadcast != nil {
		m.broadcast(a)
	}
	for _, wh := range webhooks {
		if !wh.Enabled || !a.Severity.AtLeast(wh.MinSeverity) {
			continue
		}
		go m.sendWebhook(wh, a)
	}

	log.Printf("[health] [%s] %s: %s", a.Severity, a.Kind, a.Message)
}

func (m *Monitor) sendWebhook(wh WebhookEndpoint, a wallet.Alert) {
	payload, err := json.Marshal(a)
	if err != nil {
		log.Printf("[health] failed to marshal alert for %s: %v", wh.Name, err)
		return
	}
	req, err := http.NewRequest(http.MethodPost, wh.URL, bytes.NewBuffer(payload))
	if err != nil {
		log.Printf("[health] failed to build request for %s: %v", wh.Name, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range wh.Headers {
		req.Header.Set(k, v)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		log.Printf("[health] failed to deliver to %s: %v", wh.Name, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		log.Printf("[health] webhook %s returned status %d", wh.Name, resp.StatusCode)
	}
}

// GetRecentAlerts returns the most recent alerts, newest first, capped
// at limit (0 or negative returns all).
func (m *Monitor) GetRecentAlerts(limit int) []wallet.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.alerts) {
		limit = len(m.alerts)
	}
	out := make([]wallet.Alert, limit)
	start := len(m.alerts) - limit
	for i := 0; i < limit; i++ {
		out[i] = m.alerts[start+limit-1-i]
	}
	return out
}

func bigToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f := new(big.Float).SetInt(v)
	out, _ := f.Float64()
	return out
}
