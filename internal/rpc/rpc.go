// Package rpc exposes the daemon's JSON façade: gin-gonic/gin wrapped
// around a typed core config, with handlers kept as thin wrappers over the
// engine/quote/store services so they never touch the vault or raw secret
// material directly.
package rpc

import (
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/catalogfi/stealthswapd/internal/engine"
	"github.com/catalogfi/stealthswapd/internal/engineerr"
	"github.com/catalogfi/stealthswapd/internal/metrics"
	"github.com/catalogfi/stealthswapd/internal/quote"
	"github.com/catalogfi/stealthswapd/internal/store"
)

// Server is the core config every handler closes over.
type Server struct {
	quotes  *quote.Service
	eng     *engine.Engine
	metrics *metrics.Registry
	logger  *zap.Logger

	healthChecks []HealthCheck
}

// HealthCheck reports a named collaborator's liveness for GET /health.
type HealthCheck struct {
	Name  string
	Check func() error
}

func New(quotes *quote.Service, eng *engine.Engine, reg *metrics.Registry, logger *zap.Logger, checks ...HealthCheck) *Server {
	return &Server{quotes: quotes, eng: eng, metrics: reg, logger: logger, healthChecks: checks}
}

// Router builds the gin engine with every route bound.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/v1/quote", s.handleQuote)
	r.POST("/v1/swap/accept", s.handleAccept)
	r.GET("/v1/swap/:id", s.handleStatus)
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Collector, promhttp.HandlerOpts{})))
	return r
}

type quoteRequest struct {
	Direction   string `json:"direction" binding:"required"`
	TokenAmount uint64 `json:"token_amount"`
}

type quoteResponse struct {
	QuoteID    string    `json:"quote_id"`
	SecretHash string    `json:"secret_hash"`
	Rate       float64   `json:"rate"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (s *Server) handleQuote(c *gin.Context) {
	var req quoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	direction, err := parseDirection(req.Direction)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	q, err := s.quotes.Quote(direction, req.TokenAmount)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	s.metrics.IncQuotesIssued()

	c.JSON(http.StatusOK, quoteResponse{
		QuoteID:    q.QuoteID.String(),
		SecretHash: hex.EncodeToString(q.SecretHash[:]),
		Rate:       q.Rate,
		ExpiresAt:  q.ValidUntil,
	})
}

type acceptRequest struct {
	QuoteID             string `json:"quote_id" binding:"required"`
	CounterpartyPubkey  string `json:"counterparty_pubkey" binding:"required"`
	Destination         string `json:"destination" binding:"required"`
}

type acceptResponse struct {
	SwapID string `json:"swap_id"`
}

func (s *Server) handleAccept(c *gin.Context) {
	var req acceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	quoteID, err := uuid.Parse(req.QuoteID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quote_id"})
		return
	}

	swap, err := s.quotes.Accept(quoteID, req.CounterpartyPubkey, req.Destination)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	if err := s.eng.Accept(swap); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.metrics.IncSwapsAccepted()

	c.JSON(http.StatusOK, acceptResponse{SwapID: swap.SwapID})
}

// swapProjection is the public view of a swap row: everything in
// store.Swap except secret material, which the store never held anyway —
// the vault is what handlers must never reach into.
type swapProjection struct {
	SwapID      string    `json:"swap_id"`
	Direction   string    `json:"direction"`
	State       string    `json:"state"`
	TokenAmount uint64    `json:"token_amount"`
	PrivateAmount uint64  `json:"private_amount"`
	FailureKind string    `json:"failure_kind,omitempty"`
	ExpiresAtOne time.Time `json:"expires_at_one"`
	ExpiresAtTwo time.Time `json:"expires_at_two"`
}

func (s *Server) handleStatus(c *gin.Context) {
	swap, err := s.eng.Status(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, swapProjection{
		SwapID:        swap.SwapID,
		Direction:     swap.Direction.String(),
		State:         swap.State.String(),
		TokenAmount:   swap.TokenAmount,
		PrivateAmount: swap.PrivateAmount,
		FailureKind:   string(swap.FailureKind),
		ExpiresAtOne:  swap.ExpiresAtOne,
		ExpiresAtTwo:  swap.ExpiresAtTwo,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	for _, check := range s.healthChecks {
		if err := check.Check(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "component": check.Name, "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func parseDirection(s string) (store.Direction, error) {
	switch s {
	case "token_to_private":
		return store.TokenToPrivate, nil
	case "private_to_token":
		return store.PrivateToToken, nil
	default:
		return 0, engineerr.New(engineerr.KindAmountOutOfBounds, "", nil)
	}
}

// statusFor maps a typed engineerr.Kind, if present, to the HTTP status
// appropriate for its class; anything else is a 500.
func statusFor(err error) int {
	if err == store.ErrNotFound {
		return http.StatusNotFound
	}
	engErr, ok := err.(*engineerr.Error)
	if !ok {
		return http.StatusInternalServerError
	}
	switch engErr.Kind {
	case engineerr.KindAmountOutOfBounds, engineerr.KindQuoteUnknown, engineerr.KindQuoteExpired,
		engineerr.KindDestinationInvalid, engineerr.KindAlreadyAccepted:
		return http.StatusBadRequest
	case engineerr.KindInsufficientLiquidity, engineerr.KindRateUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
