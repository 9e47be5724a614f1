package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zh/minimal-xec-wallet/internal/api"
	"github.com/zh/minimal-xec-wallet/internal/classifier"
	"github.com/zh/minimal-xec-wallet/internal/dbstore"
	"github.com/zh/minimal-xec-wallet/internal/health"
	"github.com/zh/minimal-xec-wallet/internal/indexer"
	"github.com/zh/minimal-xec-wallet/internal/store"
	"github.com/zh/minimal-xec-wallet/internal/token"
	"github.com/zh/minimal-xec-wallet/internal/txbuilder"
	"github.com/zh/minimal-xec-wallet/pkg/wallet"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	log.Println("Starting minimal-xec-wallet engine...")

	// ─── Required Environment Variables ─────────────────────────────────
	// All credentials MUST come from environment variables. No fallback
	// defaults for security-sensitive values. Use a .env file for local
	// development: cp .env.example .env && edit .env
	// ────────────────────────────────────────────────────────────────────

	dbStore := dbstore.ConnectOptional(os.Getenv("DATABASE_URL"))
	if dbStore != nil {
		defer dbStore.Close()
	}

	indexerURLs := splitCSV(getEnvOrDefault("XEC_INDEXER_URLS", "https://chronik.fabien.cash"))
	adapter, err := indexer.New(indexerURLs, nil)
	if err != nil {
		log.Fatalf("FATAL: failed to initialize indexer adapter: %v", err)
	}
	defer adapter.Close()

	feeRate := parseFloatOrDefault(os.Getenv("FEE_RATE_SAT_PER_BYTE"), wallet.DefaultFeeRateSatPerB)

	wsHub := api.NewHub()
	go wsHub.Run()

	cl := classifier.New(classifier.DefaultConfig())

	monitor := health.New(health.DefaultConfig(), cl, func(a wallet.Alert) {
		wsHub.Broadcast(api.WalletEvent{Type: api.EventAlert, Alert: &a})
		if dbStore != nil {
			if err := dbStore.SaveAlert(context.Background(), a); err != nil {
				log.Printf("[walletd] warning: failed to persist alert: %v", err)
			}
		}
	})
	if webhookURL := os.Getenv("ALERT_WEBHOOK_URL"); webhookURL != "" {
		monitor.RegisterWebhook("default", webhookURL, wallet.SeverityMedium, nil)
	}

	st := store.New(adapter, cl, monitor, store.DefaultConfig())
	tokenMgr := token.New(adapter)

	keySrc := txbuilder.WIFKeySource{Secret: requireEnv("WALLET_SECRET")}

	rateLimitPerMin := parseIntOrDefault(os.Getenv("API_RATE_LIMIT_PER_MIN"), api.DefaultRateLimitPerMin)
	rateLimitBurst := parseIntOrDefault(os.Getenv("API_RATE_LIMIT_BURST"), api.DefaultRateLimitBurst)

	r := api.SetupRouter(adapter, st, monitor, tokenMgr, wsHub, dbStore, keySrc, feeRate, rateLimitPerMin, rateLimitBurst)

	// Background tip-height poll: refreshes the store's reclassification
	// clock and runs a periodic health assessment + dust-attack sweep for
	// the configured watch address, mirroring the teacher's mempool
	// poller ticker loop.
	if watchAddr := os.Getenv("WALLET_ADDRESS"); watchAddr != "" {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go pollLoop(ctx, adapter, st, monitor, watchAddr, feeRate, dbStore)
	} else {
		log.Println("[walletd] WALLET_ADDRESS not set — background health polling disabled, API-only mode")
	}

	port := getEnvOrDefault("PORT", "8420")
	log.Printf("walletd running on :%s\n", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// pollLoop periodically refreshes the UTXO cache for the configured
// watch address and runs the Health Monitor's assessment and dust-attack
// detector over the result, broadcasting/persisting whatever it finds.
func pollLoop(ctx context.Context, adapter *indexer.Adapter, st *store.Store, monitor *health.Monitor, address string, feeRate float64, dbStore *dbstore.Store) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		if err := st.Init(ctx, address, false); err != nil {
			log.Printf("[walletd] poll: init failed for %s: %v", address, err)
		} else {
			utxos := st.AllUTXOs()
			classifications := make(map[wallet.Outpoint]wallet.Classification, len(utxos))
			for _, u := range utxos {
				if cl, ok := st.Classification(u.Outpoint); ok {
					classifications[u.Outpoint] = cl
				}
			}
			info, err := adapter.GetBlockchainInfo(ctx)
			tip := int64(0)
			if err == nil {
				tip = info.TipHeight
				st.UpdateBlockHeight(tip)
			}
			monitor.Assess(utxos, classifications, tip, feeRate)
			pattern := monitor.DetectDustAttack(utxos, classifications, address, tip)
			if dbStore != nil {
				if err := dbStore.SaveDustPattern(ctx, pattern); err != nil {
					log.Printf("[walletd] warning: failed to persist dust pattern: %v", err)
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// requireEnv reads a required environment variable and exits if it is not set.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set. "+
			"Copy .env.example to .env and fill in your values: cp .env.example .env", key)
	}
	return val
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseFloatOrDefault(s string, fallback float64) float64 {
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return v
}

func parseIntOrDefault(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}
