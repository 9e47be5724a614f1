// Package dbstore persists the wallet's observational state — Health
// Monitor alerts and per-address dust-attack assessments — the way the
// teacher's internal/db/postgres.go persists heuristic results: an
// optional pgx pool the wallet runs without when DATABASE_URL is unset.
package dbstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zh/minimal-xec-wallet/pkg/wallet"
)

// Store wraps a pgx connection pool for the wallet's optional
// persistence layer.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens the pool and pings it, exactly as the teacher's
// db.Connect does.
func Connect(connStr string) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("dbstore: unable to connect: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("dbstore: ping failed: %w", err)
	}
	log.Println("[dbstore] connected to PostgreSQL")
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema loads and executes schema.sql, mirroring the teacher's
// InitSchema: a single idempotent migration file run at startup.
func (s *Store) InitSchema() error {
	schemaBytes, err := os.ReadFile("internal/dbstore/schema.sql")
	if err != nil {
		return fmt.Errorf("dbstore: failed to read schema file: %w", err)
	}
	if _, err := s.pool.Exec(context.Background(), string(schemaBytes)); err != nil {
		return fmt.Errorf("dbstore: failed to execute schema migrations: %w", err)
	}
	log.Println("[dbstore] schema initialized")
	return nil
}

// SaveAlert persists one Health Monitor alert (§4.4), the analogue of
// the teacher's SaveAnalysisResult: one upsert-shaped insert per call.
func (s *Store) SaveAlert(ctx context.Context, a wallet.Alert) error {
	var outpoint *string
	if a.Outpoint != nil {
		s := a.Outpoint.String()
		outpoint = &s
	}
	recs, err := json.Marshal(a.Recommendations)
	if err != nil {
		return fmt.Errorf("dbstore: marshal recommendations: %w", err)
	}

	sql := `
		INSERT INTO wallet_alerts (id, kind, severity, outpoint, message, recommendations, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET severity = EXCLUDED.severity, message = EXCLUDED.message,
		    recommendations = EXCLUDED.recommendations;
	`
	_, err = s.pool.Exec(ctx, sql, a.ID, a.Kind, string(a.Severity), outpoint, a.Message, recs, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("dbstore: insert wallet_alerts: %w", err)
	}
	return nil
}

// SaveDustPattern persists a per-address dust-attack assessment,
// keyed by address so the latest run replaces the prior one.
func (s *Store) SaveDustPattern(ctx context.Context, p wallet.DustAttackPattern) error {
	indicators, err := json.Marshal(p.Indicators)
	if err != nil {
		return fmt.Errorf("dbstore: marshal indicators: %w", err)
	}
	suspicious, err := json.Marshal(p.SuspiciousUTXOs)
	if err != nil {
		return fmt.Errorf("dbstore: marshal suspicious utxos: %w", err)
	}
	recs, err := json.Marshal(p.Recommendations)
	if err != nil {
		return fmt.Errorf("dbstore: marshal recommendations: %w", err)
	}

	sql := `
		INSERT INTO dust_attack_patterns (address, severity, indicators, suspicious_utxos, recommendations, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (address) DO UPDATE
		SET severity = EXCLUDED.severity, indicators = EXCLUDED.indicators,
		    suspicious_utxos = EXCLUDED.suspicious_utxos, recommendations = EXCLUDED.recommendations,
		    updated_at = NOW();
	`
	_, err = s.pool.Exec(ctx, sql, p.Address, string(p.Severity), indicators, suspicious, recs)
	if err != nil {
		return fmt.Errorf("dbstore: insert dust_attack_patterns: %w", err)
	}
	return nil
}

// RecentAlerts returns up to limit alerts, most recent first — the
// analogue of the teacher's GetMixers pagination shape.
func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]wallet.Alert, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, severity, outpoint, message, recommendations, created_at
		FROM wallet_alerts ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("dbstore: query wallet_alerts: %w", err)
	}
	defer rows.Close()

	var out []wallet.Alert
	for rows.Next() {
		var a wallet.Alert
		var severity string
		var outpoint *string
		var recs []byte
		if err := rows.Scan(&a.ID, &a.Kind, &severity, &outpoint, &a.Message, &recs, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("dbstore: scan wallet_alerts row: %w", err)
		}
		a.Severity = wallet.Severity(severity)
		if len(recs) > 0 {
			_ = json.Unmarshal(recs, &a.Recommendations)
		}
		out = append(out, a)
	}
	if out == nil {
		out = []wallet.Alert{}
	}
	return out, nil
}

// ConnectOptional behaves like the teacher's main.go: it logs a
// warning and returns a nil store instead of failing startup when the
// database is unreachable or unconfigured.
func ConnectOptional(connStr string) *Store {
	if connStr == "" {
		log.Println("[dbstore] DATABASE_URL not set, continuing without persisting alert history")
		return nil
	}
	store, err := Connect(connStr)
	if err != nil {
		log.Printf("[dbstore] warning: failed to connect to PostgreSQL, continuing without persisting alert history: %v", err)
		return nil
	}
	if err := store.InitSchema(); err != nil {
		log.Printf("[dbstore] warning: schema init failed: %v", err)
	}
	return store
}
