package api

import (
	"math/big"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/zh/minimal-xec-wallet/internal/consolidation"
	"github.com/zh/minimal-xec-wallet/internal/dbstore"
	"github.com/zh/minimal-xec-wallet/internal/health"
	"github.com/zh/minimal-xec-wallet/internal/indexer"
	"github.com/zh/minimal-xec-wallet/internal/store"
	"github.com/zh/minimal-xec-wallet/internal/token"
	"github.com/zh/minimal-xec-wallet/internal/txbuilder"
	"github.com/zh/minimal-xec-wallet/pkg/wallet"
)

// APIHandler is the thin HTTP surface over the wallet core: every
// handler here is a direct translation of a store/selector/token-engine
// call, matching the teacher's APIHandler-wraps-subsystems shape.
type APIHandler struct {
	adapter *indexer.Adapter
	store   *store.Store
	monitor *health.Monitor
	tokens  *token.Manager
	wsHub   *Hub
	dbStore *dbstore.Store
	keySrc  txbuilder.KeySource
	feeRate float64
}

// SetupRouter wires the wallet's HTTP surface, mirroring the teacher's
// public/protected route-group split and CORS middleware verbatim.
// rateLimitPerMin/rateLimitBurst configure the auth-gated group's
// per-address rate limiter; callers pass 0 for either to fall back to
// DefaultRateLimitPerMin/DefaultRateLimitBurst.
func SetupRouter(adapter *indexer.Adapter, st *store.Store, monitor *health.Monitor, tokens *token.Manager, wsHub *Hub, dbStore *dbstore.Store, keySrc txbuilder.KeySource, feeRate float64, rateLimitPerMin, rateLimitBurst int) *gin.Engine {
	if rateLimitPerMin <= 0 {
		rateLimitPerMin = DefaultRateLimitPerMin
	}
	if rateLimitBurst <= 0 {
		rateLimitBurst = DefaultRateLimitBurst
	}
	r := gin.Default()

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		adapter: adapter,
		store:   st,
		monitor: monitor,
		tokens:  tokens,
		wsHub:   wsHub,
		dbStore: dbStore,
		keySrc:  keySrc,
		feeRate: feeRate,
	}

	pub := r.Group("/api/v1")
	{
		pub.GET("/health", handler.handleHealth)
		pub.GET("/stream", wsHub.Subscribe)
		pub.GET("/balance/:address", handler.handleBalance)
		pub.GET("/utxos/:address", handler.handleUTXOs)
		pub.GET("/alerts", handler.handleAlerts)
		pub.GET("/dust/:address", handler.handleDustPattern)
		pub.GET("/tokens/:address", handler.handleListTokens)
		pub.GET("/tokens/:address/:tokenId", handler.handleTokenBalance)
	}

	auth := r.Group("/api/v1")
	auth.Use(AuthMiddleware())
	auth.Use(NewRateLimiter(rateLimitPerMin, rateLimitBurst).Middleware())
	{
		auth.POST("/refresh/:address", handler.handleRefresh)
		auth.POST("/send", handler.handleSend)
		auth.POST("/sweep", handler.handleSweep)
		auth.POST("/opreturn", handler.handleOpReturn)
		auth.POST("/tokens/:tokenId/send", handler.handleTokenSend)
		auth.POST("/tokens/:tokenId/burn", handler.handleTokenBurn)
		auth.POST("/consolidate/plan", handler.handleConsolidatePlan)
		auth.POST("/consolidate/execute", handler.handleConsolidateExecute)
	}

	return r
}

func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "operational",
		"dbConnected": h.dbStore != nil,
	})
}

// handleRefresh forces a fresh UTXO fetch + reclassification for an
// address, the HTTP analogue of store.Init(forceRefresh=true).
func (h *APIHandler) handleRefresh(c *gin.Context) {
	address := c.Param("address")
	if err := h.store.Init(c.Request.Context(), address, true); err != nil {
		writeWalletError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "refreshed"})
}

func (h *APIHandler) handleBalance(c *gin.Context) {
	address := c.Param("address")
	if err := h.store.Init(c.Request.Context(), address, false); err != nil {
		writeWalletError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.store.TotalBalance())
}

func (h *APIHandler) handleUTXOs(c *gin.Context) {
	address := c.Param("address")
	if err := h.store.Init(c.Request.Context(), address, false); err != nil {
		writeWalletError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.store.SpendablePlainUTXOs(store.Filter{}))
}

func (h *APIHandler) handleListTokens(c *gin.Context) {
	address := c.Param("address")
	if err := h.store.Init(c.Request.Context(), address, false); err != nil {
		writeWalletError(c, err)
		return
	}
	utxos := h.store.AllUTXOs()
	balances, err := h.tokens.ListTokensFromUTXOs(c.Request.Context(), utxos)
	if err != nil {
		writeWalletError(c, err)
		return
	}
	c.JSON(http.StatusOK, balances)
}

func (h *APIHandler) handleTokenBalance(c *gin.Context) {
	address := c.Param("address")
	tokenID := c.Param("tokenId")
	if err := h.store.Init(c.Request.Context(), address, false); err != nil {
		writeWalletError(c, err)
		return
	}
	utxos := h.store.AllUTXOs()
	bal, err := h.tokens.TokenBalance(c.Request.Context(), tokenID, utxos)
	if err != nil {
		writeWalletError(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

func (h *APIHandler) handleAlerts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	c.JSON(http.StatusOK, h.monitor.GetRecentAlerts(limit))
}

func (h *APIHandler) handleDustPattern(c *gin.Context) {
	address := c.Param("address")
	pattern, ok := h.monitor.DustPattern(address)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no dust assessment for address"})
		return
	}
	c.JSON(http.StatusOK, pattern)
}

// recipientWire is a plain-sats output destination on the wire.
type recipientWire struct {
	Address string `json:"address" binding:"required"`
	Sats    string `json:"sats" binding:"required"`
}

func parseRecipients(raw []recipientWire) ([]wallet.Recipient, *big.Int, error) {
	recipients := make([]wallet.Recipient, 0, len(raw))
	total := big.NewInt(0)
	for _, r := range raw {
		sats, ok := new(big.Int).SetString(r.Sats, 10)
		if !ok {
			return nil, nil, wallet.Wrap(wallet.ErrInvalidUTXOStructure, "invalid sats amount %q", r.Sats)
		}
		recipients = append(recipients, wallet.Recipient{Address: r.Address, Sats: sats})
		total.Add(total, sats)
	}
	return recipients, total, nil
}

func (h *APIHandler) handleSend(c *gin.Context) {
	var req struct {
		Address           string          `json:"address" binding:"required"`
		Recipients        []recipientWire `json:"recipients" binding:"required"`
		ChangeAddress     string          `json:"changeAddress" binding:"required"`
		FeeRateSatPerByte float64         `json:"feeRateSatPerByte"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.Init(c.Request.Context(), req.Address, false); err != nil {
		writeWalletError(c, err)
		return
	}
	recipients, total, err := parseRecipients(req.Recipients)
	if err != nil {
		writeWalletError(c, err)
		return
	}

	feeRate := h.effectiveFeeRate(req.FeeRateSatPerByte)
	plan, err := h.store.SelectForAmount(total, feeRate)
	if err != nil {
		writeWalletError(c, err)
		return
	}
	built, err := txbuilder.BuildPlain(plan, recipients, req.ChangeAddress, h.keySrc)
	if err != nil {
		writeWalletError(c, err)
		return
	}
	h.broadcastAndRespond(c, built)
}

func (h *APIHandler) handleSweep(c *gin.Context) {
	var req struct {
		Address           string  `json:"address" binding:"required"`
		ToAddress         string  `json:"toAddress" binding:"required"`
		FeeRateSatPerByte float64 `json:"feeRateSatPerByte"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.Init(c.Request.Context(), req.Address, false); err != nil {
		writeWalletError(c, err)
		return
	}
	utxos := h.store.SpendablePlainUTXOs(store.Filter{})
	built, err := txbuilder.BuildSweep(utxos, req.ToAddress, h.effectiveFeeRate(req.FeeRateSatPerByte), h.keySrc)
	if err != nil {
		writeWalletError(c, err)
		return
	}
	h.broadcastAndRespond(c, built)
}

func (h *APIHandler) handleOpReturn(c *gin.Context) {
	var req struct {
		Address           string          `json:"address" binding:"required"`
		Message           string          `json:"message"`
		Recipients        []recipientWire `json:"recipients"`
		ChangeAddress     string          `json:"changeAddress" binding:"required"`
		FeeRateSatPerByte float64         `json:"feeRateSatPerByte"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.Init(c.Request.Context(), req.Address, false); err != nil {
		writeWalletError(c, err)
		return
	}
	recipients, total, err := parseRecipients(req.Recipients)
	if err != nil {
		writeWalletError(c, err)
		return
	}

	feeRate := h.effectiveFeeRate(req.FeeRateSatPerByte)
	plan, err := h.store.SelectForAmount(total, feeRate)
	if err != nil {
		writeWalletError(c, err)
		return
	}
	built, err := txbuilder.BuildOpReturn(plan, txbuilder.DefaultOpReturnPrefix, []byte(req.Message), recipients, req.ChangeAddress, h.keySrc)
	if err != nil {
		writeWalletError(c, err)
		return
	}
	h.broadcastAndRespond(c, built)
}

type tokenRecipientWire struct {
	Address string `json:"address" binding:"required"`
	Atoms   string `json:"atoms" binding:"required"`
}

func (h *APIHandler) handleTokenSend(c *gin.Context) {
	tokenID := c.Param("tokenId")
	var req struct {
		Address           string               `json:"address" binding:"required"`
		Recipients        []tokenRecipientWire `json:"recipients" binding:"required"`
		ChangeAddress     string               `json:"changeAddress" binding:"required"`
		PlainChangeAddr   string               `json:"plainChangeAddress" binding:"required"`
		FeeRateSatPerByte float64              `json:"feeRateSatPerByte"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.Init(c.Request.Context(), req.Address, false); err != nil {
		writeWalletError(c, err)
		return
	}

	recipients := make([]token.Recipient, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		atoms, ok := new(big.Int).SetString(r.Atoms, 10)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid atoms amount: " + r.Atoms})
			return
		}
		recipients = append(recipients, token.Recipient{Address: r.Address, Atoms: atoms})
	}

	utxos := h.store.AllUTXOs()
	result, err := h.tokens.Send(c.Request.Context(), token.SendRequest{
		TokenID:           tokenID,
		Recipients:        recipients,
		ChangeAddress:     req.ChangeAddress,
		PlainChangeAddr:   req.PlainChangeAddr,
		FeeRateSatPerByte: h.effectiveFeeRate(req.FeeRateSatPerByte),
	}, utxos, h.keySrc)
	if err != nil {
		writeWalletError(c, err)
		return
	}
	h.broadcastAndRespondRaw(c, result.RawHex, result.Txid)
}

func (h *APIHandler) handleTokenBurn(c *gin.Context) {
	tokenID := c.Param("tokenId")
	var req struct {
		Address           string  `json:"address" binding:"required"`
		BurnAtoms         string  `json:"burnAtoms" binding:"required"`
		ChangeAddress     string  `json:"changeAddress" binding:"required"`
		PlainChangeAddr   string  `json:"plainChangeAddress" binding:"required"`
		FeeRateSatPerByte float64 `json:"feeRateSatPerByte"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.Init(c.Request.Context(), req.Address, false); err != nil {
		writeWalletError(c, err)
		return
	}
	burnAtoms, ok := new(big.Int).SetString(req.BurnAtoms, 10)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid burnAtoms amount: " + req.BurnAtoms})
		return
	}

	utxos := h.store.AllUTXOs()
	result, err := h.tokens.Burn(c.Request.Context(), token.BurnRequest{
		TokenID:           tokenID,
		BurnAtoms:         burnAtoms,
		ChangeAddress:     req.ChangeAddress,
		PlainChangeAddr:   req.PlainChangeAddr,
		FeeRateSatPerByte: h.effectiveFeeRate(req.FeeRateSatPerByte),
	}, utxos, h.keySrc)
	if err != nil {
		writeWalletError(c, err)
		return
	}
	h.broadcastAndRespondRaw(c, result.RawHex, result.Txid)
}

func (h *APIHandler) handleConsolidatePlan(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.Init(c.Request.Context(), req.Address, false); err != nil {
		writeWalletError(c, err)
		return
	}
	utxos := h.store.AllUTXOs()
	opts := consolidation.DefaultOptions(req.Address)
	opts.FeeRateSatPerByte = h.feeRate
	plan := consolidation.Build(utxos, opts)
	c.JSON(http.StatusOK, plan)
}

// handleConsolidateExecute builds, broadcasts, and delays between
// batches (§4.10 step 5). Gated behind ENABLE_AUTO_CONSOLIDATE since it
// broadcasts real transactions rather than just returning a plan.
func (h *APIHandler) handleConsolidateExecute(c *gin.Context) {
	if !IsAutoConsolidateEnabled() {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "consolidation execution is disabled",
			"hint":  "set ENABLE_AUTO_CONSOLIDATE=true to allow broadcasting consolidation transactions",
		})
		return
	}
	var req struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.Init(c.Request.Context(), req.Address, false); err != nil {
		writeWalletError(c, err)
		return
	}
	utxos := h.store.AllUTXOs()
	opts := consolidation.DefaultOptions(req.Address)
	opts.FeeRateSatPerByte = h.feeRate
	plan := consolidation.Build(utxos, opts)
	if !plan.Recommend {
		c.JSON(http.StatusOK, gin.H{"status": "not_recommended", "plan": plan})
		return
	}

	consolidation.Execute(c.Request.Context(), &plan, h.adapter, req.Address, h.keySrc, nil)
	h.store.ClearCache()
	c.JSON(http.StatusOK, gin.H{"status": "executed", "plan": plan})
}

func (h *APIHandler) effectiveFeeRate(requested float64) float64 {
	if requested == 0 {
		return h.feeRate
	}
	return requested
}

func (h *APIHandler) broadcastAndRespond(c *gin.Context, built txbuilder.Built) {
	h.broadcastAndRespondRaw(c, built.RawHex, built.Txid)
}

func (h *APIHandler) broadcastAndRespondRaw(c *gin.Context, rawHex, txid string) {
	sentTxid, err := h.adapter.SendTx(c.Request.Context(), rawHex)
	if err != nil {
		writeWalletError(c, err)
		return
	}
	h.wsHub.Broadcast(WalletEvent{Type: EventTxBroadcast, Txid: sentTxid})
	c.JSON(http.StatusOK, gin.H{"txid": sentTxid, "rawHex": rawHex, "builtTxid": txid})
}

// writeWalletError maps a *wallet.Error's Kind to an HTTP status the
// way the teacher's handlers map heuristics failures to 4xx/5xx.
func writeWalletError(c *gin.Context, err error) {
	werr, ok := err.(*wallet.Error)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusBadRequest
	switch werr.Kind {
	case wallet.ErrInsufficientFunds, wallet.ErrInsufficientToken, wallet.ErrInsufficientXEC:
		status = http.StatusUnprocessableEntity
	case wallet.ErrNetworkTimeout, wallet.ErrConnectionRefused, wallet.ErrServerUnavailable, wallet.ErrServerIndexing, wallet.ErrRateLimited, wallet.ErrProtocolError:
		status = http.StatusBadGateway
	case wallet.ErrCancelled:
		status = http.StatusRequestTimeout
	}
	body := gin.H{"error": werr.Message}
	if werr.Deficit != nil {
		body["deficit"] = werr.Deficit
	}
	c.JSON(status, body)
}
