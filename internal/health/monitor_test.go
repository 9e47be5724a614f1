package health

import (
	"math/big"
	"testing"

	"github.com/zh/minimal-xec-wallet/internal/classifier"
	"github.com/zh/minimal-xec-wallet/pkg/wallet"
)

func dustUTXO(txid string, sats int64) wallet.UTXO {
	return wallet.UTXO{
		Outpoint:    wallet.Outpoint{Txid: txid, Vout: 0},
		Sats:        big.NewInt(sats),
		BlockHeight: -1, // unconfirmed, per S6
	}
}

// S6 (dust-attack detection) — 6 unconfirmed UTXOs at sats ∈ {547, 547,
// 547, 548, 549, 550}, threshold dust_attack_size = 5 ⇒ severity ≥
// high; since 547 appears ≥ 3 times ⇒ severity = critical.
func TestDetectDustAttackScenarioS6(t *testing.T) {
	m := New(DefaultConfig(), classifier.New(classifier.DefaultConfig()), nil)
	amounts := []int64{547, 547, 547, 548, 549, 550}
	var utxos []wallet.UTXO
	for i, a := range amounts {
		utxos = append(utxos, dustUTXO(string(rune('a'+i)), a))
	}

	pattern := m.DetectDustAttack(utxos, nil, "ecash:test", 800000)
	if pattern.Severity != wallet.SeverityCritical {
		t.Fatalf("severity = %s, want critical", pattern.Severity)
	}

	found := false
	for _, ind := range pattern.Indicators {
		if ind == "3 identical amounts of 547 sats" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected indicator naming 3 identical amounts of 547 sats, got %v", pattern.Indicators)
	}
}

// §8 invariant 9: dust-attack severity is monotone — adding more
// suspicious UTXOs never lowers severity.
func TestDustAttackSeverityMonotone(t *testing.T) {
	m := New(DefaultConfig(), classifier.New(classifier.DefaultConfig()), nil)

	prevRank := -1
	var utxos []wallet.UTXO
	for i := 0; i < 8; i++ {
		utxos = append(utxos, dustUTXO(string(rune('a'+i)), int64(600+i)))
		pattern := m.DetectDustAttack(utxos, nil, "ecash:mono", 800000)
		rank := severityRank(pattern.Severity)
		if rank < prevRank {
			t.Fatalf("severity dropped from rank %d to %d after adding utxo %d", prevRank, rank, i)
		}
		prevRank = rank
	}
}

func severityRank(s wallet.Severity) int {
	switch s {
	case wallet.SeverityNone:
		return 0
	case wallet.SeverityLow:
		return 1
	case wallet.SeverityMedium:
		return 2
	case wallet.SeverityHigh:
		return 3
	case wallet.SeverityCritical:
		return 4
	default:
		return -1
	}
}

func TestDustAttackNoneBelowThreshold(t *testing.T) {
	m := New(DefaultConfig(), classifier.New(classifier.DefaultConfig()), nil)
	utxos := []wallet.UTXO{dustUTXO("a", 600), dustUTXO("b", 700)}
	pattern := m.DetectDustAttack(utxos, nil, "ecash:quiet", 800000)
	if pattern.Severity != wallet.SeverityNone {
		t.Fatalf("severity = %s, want none for only 2 dust utxos", pattern.Severity)
	}
}

func TestAssessRecordsHistory(t *testing.T) {
	var broadcasted []wallet.Alert
	m := New(DefaultConfig(), classifier.New(classifier.DefaultConfig()), func(a wallet.Alert) {
		broadcasted = append(broadcasted, a)
	})

	suspicious := wallet.UTXO{
		Outpoint:    wallet.Outpoint{Txid: "susp", Vout: 0},
		Sats:        big.NewInt(600),
		BlockHeight: -1,
	}
	report := m.Assess([]wallet.UTXO{suspicious}, nil, 800000, 1.2)
	if len(report.Assessments) != 1 {
		t.Fatalf("expected 1 assessment, got %d", len(report.Assessments))
	}

	hist := m.History(suspicious.Outpoint)
	if len(hist) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(hist))
	}
}

func TestGetRecentAlertsNewestFirst(t *testing.T) {
	m := New(DefaultConfig(), classifier.New(classifier.DefaultConfig()), nil)
	// below-dust UTXOs classify as HealthDust regardless of confirmation
	// status, which Assess always escalates to a high-severity alert.
	var utxos []wallet.UTXO
	for i := 0; i < 4; i++ {
		utxos = append(utxos, wallet.UTXO{
			Outpoint:    wallet.Outpoint{Txid: string(rune('x' + i)), Vout: 0},
			Sats:        big.NewInt(100),
			BlockHeight: 799000,
		})
	}
	m.Assess(utxos, nil, 800000, 1.2)
	alerts := m.GetRecentAlerts(0)
	if len(alerts) == 0 {
		t.Fatalf("expected at least one alert from below-dust utxos")
	}
	// the first alert emitted is the utxo_risk alert for utxo "x", so it
	// comes last when the list is newest first.
	if oldest := alerts[len(alerts)-1]; oldest.Outpoint == nil || oldest.Outpoint.Txid != "x" {
		t.Fatalf("oldest alert = %+v, want the utxo_risk alert for utxo x", oldest)
	}
}
