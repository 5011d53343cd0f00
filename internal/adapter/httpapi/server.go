// Package httpapi exposes the engine's operations over HTTP.
package httpapi

import (
	"log/slog"
	"math/big"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/basketfi/fund-backend/internal/domain"
	"github.com/basketfi/fund-backend/internal/guard"
	"github.com/basketfi/fund-backend/internal/usecase/burn"
	"github.com/basketfi/fund-backend/internal/usecase/mint"
	"github.com/basketfi/fund-backend/internal/usecase/rebalance"
)

// Config holds server configuration. AdminToken guards the admin and
// rebalance-trigger endpoints.
type Config struct {
	Addr       string
	AdminToken string
}

// Server wires the use cases to HTTP routes. All amounts cross the wire as
// decimal strings so values never pass through float64.
type Server struct {
	cfg       Config
	router    *gin.Engine
	mints     *mint.Service
	burns     *burn.Service
	rebalance *rebalance.Service
	coord     *guard.Coordinator
	log       *slog.Logger
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(
	cfg Config,
	mints *mint.Service,
	burns *burn.Service,
	reb *rebalance.Service,
	coord *guard.Coordinator,
	log *slog.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:       cfg,
		router:    gin.New(),
		mints:     mints,
		burns:     burns,
		rebalance: reb,
		coord:     coord,
		log:       log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())

	s.router.GET("/v1/healthz", s.health)

	v1 := s.router.Group("/v1")
	{
		v1.POST("/mints", s.initiateMint)
		v1.POST("/mints/:id/complete", s.completeMint)
		v1.GET("/mints/:id", s.mintStatus)

		v1.POST("/burns", s.burnShares)

		v1.GET("/rebalance/status", s.rebalanceStatus)
		v1.GET("/rebalance/history", s.rebalanceHistory)
		v1.GET("/rebalance/positions", s.rebalancePositions)
		v1.POST("/rebalance", s.authMiddleware(), s.triggerRebalance)

		admin := v1.Group("/admin", s.authMiddleware())
		{
			admin.POST("/pause", s.pause)
			admin.POST("/unpause", s.unpause)
		}
	}
}

// Run starts serving until the listener fails.
func (s *Server) Run() error {
	return s.router.Run(s.cfg.Addr)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Handlers

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"paused": s.coord.Paused(),
	})
}

type initiateMintRequest struct {
	Account string `json:"account" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
}

func (s *Server) initiateMint(c *gin.Context) {
	var req initiateMintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a positive integer string"})
		return
	}

	id, err := s.mints.Initiate(c.Request.Context(), domain.Account(req.Account), amount)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

type completeMintRequest struct {
	Account string `json:"account" binding:"required"`
}

func (s *Server) completeMint(c *gin.Context) {
	var req completeMintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	minted, err := s.mints.Complete(c.Request.Context(), domain.Account(req.Account), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"minted": minted.String()})
}

func (s *Server) mintStatus(c *gin.Context) {
	status, err := s.mints.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}

	resp := gin.H{"state": string(status.State)}
	if status.Minted != nil {
		resp["minted"] = status.Minted.String()
	}
	if status.Reason != "" {
		resp["reason"] = status.Reason
	}
	c.JSON(http.StatusOK, resp)
}

type burnRequest struct {
	Account string `json:"account" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
}

func (s *Server) burnShares(c *gin.Context) {
	var req burnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a positive integer string"})
		return
	}

	receipt, err := s.burns.Burn(c.Request.Context(), domain.Account(req.Account), amount)
	if err != nil && receipt == nil {
		s.renderError(c, err)
		return
	}

	// A receipt with an error means the shares were burned but every
	// transfer failed. The burn itself happened, so report the receipt
	// with a non-2xx status instead of a bare error.
	code := http.StatusOK
	if err != nil {
		code = http.StatusBadGateway
	}
	c.JSON(code, burnReceiptResponse(receipt))
}

func (s *Server) triggerRebalance(c *gin.Context) {
	rec, err := s.rebalance.Trigger(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, rebalanceRecordResponse(*rec))
}

func (s *Server) rebalanceStatus(c *gin.Context) {
	status := s.rebalance.Status()

	resp := gin.H{"recent_history": rebalanceHistoryResponse(status.RecentHistory)}
	if status.LastRebalance != nil {
		resp["last_rebalance"] = status.LastRebalance
		resp["next_rebalance"] = status.NextRebalance
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) rebalancePositions(c *gin.Context) {
	positions, targets, err := s.rebalance.Positions(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}

	out := make([]gin.H, 0, len(positions))
	for i, p := range positions {
		out = append(out, gin.H{
			"asset":          p.Asset.Symbol,
			"balance":        p.Balance.String(),
			"value":          p.Value.String(),
			"current_weight": p.Weight.String(),
			"target_weight":  targets[i].Weight.String(),
			"locked_value":   targets[i].LockedValue.String(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"positions": out})
}

func (s *Server) rebalanceHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"history": rebalanceHistoryResponse(s.rebalance.History()),
	})
}

func (s *Server) pause(c *gin.Context) {
	s.coord.Pause()
	s.log.Warn("system paused by admin request")
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (s *Server) unpause(c *gin.Context) {
	s.coord.Unpause()
	s.log.Info("system unpaused by admin request")
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

// Response shaping

func burnReceiptResponse(receipt *domain.BurnReceipt) gin.H {
	successes := make([]gin.H, 0, len(receipt.Successes))
	for _, p := range receipt.Successes {
		successes = append(successes, gin.H{"asset": p.Asset, "amount": p.Amount.String()})
	}
	failures := make([]gin.H, 0, len(receipt.Failures))
	for _, f := range receipt.Failures {
		failures = append(failures, gin.H{"asset": f.Asset, "amount": f.Amount.String(), "reason": f.Reason})
	}
	return gin.H{
		"total_burned": receipt.TotalBurned.String(),
		"timestamp":    receipt.Timestamp,
		"successes":    successes,
		"failures":     failures,
	}
}

func rebalanceRecordResponse(rec domain.RebalanceRecord) gin.H {
	resp := gin.H{
		"timestamp": rec.Timestamp,
		"action":    string(rec.Action.Kind),
		"success":   rec.Success,
		"details":   rec.Details,
	}
	if rec.Action.Kind != domain.ActionNone {
		resp["asset"] = rec.Action.Asset
		resp["amount"] = rec.Action.Amount.String()
	}
	return resp
}

func rebalanceHistoryResponse(records []domain.RebalanceRecord) []gin.H {
	out := make([]gin.H, 0, len(records))
	for _, rec := range records {
		out = append(out, rebalanceRecordResponse(rec))
	}
	return out
}

// renderError maps a domain error kind to an HTTP status.
func (s *Server) renderError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case domain.IsKind(err, domain.KindValidation):
		code = http.StatusBadRequest
	case domain.IsKind(err, domain.KindConcurrency):
		code = http.StatusConflict
	case domain.IsKind(err, domain.KindConsistency):
		code = http.StatusServiceUnavailable
	case domain.IsKind(err, domain.KindExchange), domain.IsKind(err, domain.KindLedger):
		code = http.StatusBadGateway
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func parseAmount(s string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, false
	}
	return amount, true
}
