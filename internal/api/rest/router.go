// Package rest provides the Gin-based REST API server.
package rest

import (
	"context"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/kittykatsky/Remittance/internal/ledger"
	"github.com/kittykatsky/Remittance/internal/payout"
	"github.com/kittykatsky/Remittance/internal/units"
)

// CallerHeader carries the hex address of the party submitting an operation.
const CallerHeader = "X-Caller"

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	defaultLimit    = 100
	maxLimit        = 1000
)

//go:embed openapi.yaml
var openAPI []byte

// Server is the REST API server.
type Server struct {
	engine   *gin.Engine
	ledger   *ledger.Ledger
	accounts *payout.Accounts
	decimals int32
	logger   *zap.Logger
	health   func() (string, bool)
}

// New creates a REST Server.
func New(l *ledger.Ledger, accounts *payout.Accounts, decimals int32, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:   engine,
		ledger:   l,
		accounts: accounts,
		decimals: decimals,
		logger:   logger,
	}
	engine.Use(s.requestLogger())
	s.registerRoutes()
	return s
}

// Handler exposes the engine for an http.Server or tests.
func (s *Server) Handler() http.Handler { return s.engine }

// registerRoutes sets up the /remit context path.
func (s *Server) registerRoutes() {
	remit := s.engine.Group("/remit")

	// Swagger UI
	remit.GET("/openapi.yaml", s.openAPI)
	remit.GET("/swagger-ui/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/remit/openapi.yaml")))

	remit.GET("/health", s.healthCheck)
	remit.GET("/status", s.status)
	remit.POST("/puzzle", s.puzzle)
	remit.GET("/events", s.events)
	remit.GET("/accounts/:address", s.account)

	remit.POST("/remittances", s.createRemittance)
	remit.GET("/remittances/:commitment", s.getRemittance)
	remit.POST("/release", s.release)
	remit.POST("/reclaim", s.reclaim)

	admin := remit.Group("/admin")
	{
		admin.POST("/pause", s.pause)
		admin.POST("/resume", s.resume)
		admin.POST("/kill", s.kill)
		admin.POST("/transfer-ownership", s.transferOwnership)
		admin.POST("/empty", s.emptyAccount)
		admin.POST("/withdraw-fees", s.withdrawFees)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := "req_" + uuid.NewString()
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		start := time.Now()
		c.Next()
		s.logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", id),
		)
	}
}

// SetHealth installs the node lifecycle probe reported by /remit/health.
func (s *Server) SetHealth(fn func() (state string, ready bool)) { s.health = fn }

func (s *Server) openAPI(c *gin.Context) {
	c.Data(http.StatusOK, "application/yaml", openAPI)
}

// @Summary Node lifecycle state
// @Tags node
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /remit/health [get]
func (s *Server) healthCheck(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"state": "serving"})
		return
	}
	state, ready := s.health()
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"state": state})
}

// --- Error mapping ---

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInconsistent):
		return http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrNotOwner), errors.Is(err, ledger.ErrNotDepositor):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInvalidState), errors.Is(err, ledger.ErrSystemPaused),
		errors.Is(err, ledger.ErrDuplicateCommitment), errors.Is(err, ledger.ErrExpired),
		errors.Is(err, ledger.ErrNotExpired):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientValue), errors.Is(err, ledger.ErrNullAddress):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrTransferFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, status int, code string, err error) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.GetString(requestIDKey),
		"error":      gin.H{"code": code, "message": err.Error()},
	})
}

func (s *Server) ledgerError(c *gin.Context, err error) {
	s.fail(c, statusFor(err), ledger.Code(err), err)
}

func (s *Server) badRequest(c *gin.Context, err error) {
	s.fail(c, http.StatusBadRequest, "BadRequest", err)
}

// caller reads the submitting identity; it writes the error response itself.
func (s *Server) caller(c *gin.Context) (ledger.Address, bool) {
	raw := c.GetHeader(CallerHeader)
	if raw == "" {
		s.badRequest(c, fmt.Errorf("missing %s header", CallerHeader))
		return ledger.Address{}, false
	}
	addr, err := ledger.ParseAddress(raw)
	if err != nil {
		s.badRequest(c, err)
		return ledger.Address{}, false
	}
	return addr, true
}

func decodeSecret(s string) ([]byte, error) {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("secret: %w", err)
	}
	return b, nil
}

// --- Read handlers ---

// @Summary Ledger status
// @Tags ledger
// @Produce json
// @Success 200 {object} map[string]any
// @Router /remit/status [get]
func (s *Server) status(c *gin.Context) {
	st := s.ledger.Status()
	c.JSON(http.StatusOK, gin.H{
		"id":             st.ID,
		"owner":          st.Owner,
		"state":          st.State,
		"fee":            st.Fee,
		"feePool":        st.FeePool,
		"held":           st.Held,
		"openDeposits":   st.OpenDeposits,
		"feeDisplay":     units.Format(st.Fee, s.decimals),
		"feePoolDisplay": units.Format(st.FeePool, s.decimals),
		"heldDisplay":    units.Format(st.Held, s.decimals),
	})
}

type puzzleRequest struct {
	Releaser ledger.Address `json:"releaser"`
	Secret   string         `json:"secret"`
}

// @Summary Compute a commitment for a releaser and secret
// @Tags remittances
// @Accept json
// @Produce json
// @Param request body puzzleRequest true "Releaser and hex secret"
// @Success 200 {object} map[string]string
// @Router /remit/puzzle [post]
func (s *Server) puzzle(c *gin.Context) {
	var req puzzleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	secret, err := decodeSecret(req.Secret)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commitment": s.ledger.GeneratePuzzle(req.Releaser, secret)})
}

// @Summary Get the record stored under a commitment
// @Tags remittances
// @Produce json
// @Param commitment path string true "Commitment (hex)"
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /remit/remittances/{commitment} [get]
func (s *Server) getRemittance(c *gin.Context) {
	commitment, err := ledger.ParseCommitment(c.Param("commitment"))
	if err != nil {
		s.badRequest(c, err)
		return
	}
	d, ok := s.ledger.Remittance(commitment)
	if !ok {
		s.ledgerError(c, fmt.Errorf("%w: %s", ledger.ErrNotFound, commitment))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"commitment": commitment,
		"depositor":  d.Depositor,
		"amount":     d.Amount,
		"deadline":   d.Deadline,
		"open":       d.Open(),
	})
}

// @Summary List ledger events
// @Tags ledger
// @Produce json
// @Param from query int false "First sequence number"
// @Param limit query int false "Page size (default 100, max 1000)"
// @Success 200 {object} map[string]any
// @Router /remit/events [get]
func (s *Server) events(c *gin.Context) {
	from, err := strconv.ParseUint(c.DefaultQuery("from", "0"), 10, 64)
	if err != nil {
		s.badRequest(c, fmt.Errorf("from: %w", err))
		return
	}
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		s.badRequest(c, err)
		return
	}
	events, err := s.ledger.Events(from, limit)
	if err != nil {
		s.ledgerError(c, err)
		return
	}
	if events == nil {
		events = []ledger.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// parseLimit bounds a page size: empty or 0 selects defaultLimit.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("limit: %w", err)
	}
	switch {
	case limit < 0:
		return 0, fmt.Errorf("limit: must not be negative, got %d", limit)
	case limit == 0:
		return defaultLimit, nil
	case limit > maxLimit:
		return maxLimit, nil
	}
	return limit, nil
}

// @Summary Payout account balance
// @Tags accounts
// @Produce json
// @Param address path string true "Address (hex)"
// @Success 200 {object} map[string]any
// @Router /remit/accounts/{address} [get]
func (s *Server) account(c *gin.Context) {
	addr, err := ledger.ParseAddress(c.Param("address"))
	if err != nil {
		s.badRequest(c, err)
		return
	}
	bal := s.accounts.Balance(addr)
	c.JSON(http.StatusOK, gin.H{
		"address":        addr,
		"balance":        bal,
		"balanceDisplay": units.Format(bal, s.decimals),
	})
}

// --- Remittance handlers ---

type createRequest struct {
	Commitment      ledger.Commitment `json:"commitment"`
	DurationSeconds uint64            `json:"durationSeconds"`
	Amount          uint64            `json:"amount"`
}

// @Summary Lock value under a commitment
// @Description The amount is debited from the caller's account and refunded if the ledger rejects the deposit.
// @Tags remittances
// @Accept json
// @Produce json
// @Param X-Caller header string true "Caller address"
// @Param request body createRequest true "Commitment, duration and amount"
// @Success 201 {object} map[string]any
// @Failure 402 {object} map[string]any
// @Router /remit/remittances [post]
func (s *Server) createRemittance(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := s.accounts.Debit(ctx, caller, req.Amount); err != nil {
		if errors.Is(err, payout.ErrInsufficientFunds) {
			s.fail(c, http.StatusPaymentRequired, "InsufficientFunds", err)
			return
		}
		s.fail(c, http.StatusInternalServerError, "Internal", err)
		return
	}
	d, err := s.ledger.CreateRemittance(ctx, caller, req.Commitment, req.DurationSeconds, req.Amount)
	if err != nil {
		if rerr := s.accounts.Transfer(context.WithoutCancel(ctx), caller, req.Amount); rerr != nil {
			s.logger.Error("Refund of rejected deposit failed",
				zap.Stringer("caller", caller), zap.Uint64("amount", req.Amount), zap.Error(rerr))
		}
		s.ledgerError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"commitment": req.Commitment,
		"depositor":  d.Depositor,
		"amount":     d.Amount,
		"deadline":   d.Deadline,
	})
}

type releaseRequest struct {
	Secret string `json:"secret"`
}

// @Summary Release a deposit to the caller
// @Tags remittances
// @Accept json
// @Produce json
// @Param X-Caller header string true "Releaser address"
// @Param request body releaseRequest true "Hex secret"
// @Success 200 {object} map[string]uint64
// @Router /remit/release [post]
func (s *Server) release(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}
	var req releaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	secret, err := decodeSecret(req.Secret)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	amount, err := s.ledger.ReleaseFunds(c.Request.Context(), caller, secret)
	if err != nil {
		s.ledgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount": amount})
}

type reclaimRequest struct {
	Commitment ledger.Commitment `json:"commitment"`
}

// @Summary Refund an expired deposit to its depositor
// @Tags remittances
// @Accept json
// @Produce json
// @Param X-Caller header string true "Depositor address"
// @Param request body reclaimRequest true "Commitment"
// @Success 200 {object} map[string]uint64
// @Router /remit/reclaim [post]
func (s *Server) reclaim(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}
	var req reclaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	amount, err := s.ledger.ReclaimFunds(c.Request.Context(), caller, req.Commitment)
	if err != nil {
		s.ledgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount": amount})
}

// --- Admin handlers ---

// @Summary Pause the ledger
// @Tags admin
// @Param X-Caller header string true "Owner address"
// @Success 200 {object} map[string]string
// @Router /remit/admin/pause [post]
func (s *Server) pause(c *gin.Context) {
	s.lifecycle(c, s.ledger.Pause)
}

// @Summary Resume a paused ledger
// @Tags admin
// @Param X-Caller header string true "Owner address"
// @Success 200 {object} map[string]string
// @Router /remit/admin/resume [post]
func (s *Server) resume(c *gin.Context) {
	s.lifecycle(c, s.ledger.Resume)
}

// @Summary Kill a paused ledger
// @Tags admin
// @Param X-Caller header string true "Owner address"
// @Success 200 {object} map[string]string
// @Router /remit/admin/kill [post]
func (s *Server) kill(c *gin.Context) {
	s.lifecycle(c, s.ledger.Kill)
}

func (s *Server) lifecycle(c *gin.Context, op func(context.Context, ledger.Address) error) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}
	if err := op(c.Request.Context(), caller); err != nil {
		s.ledgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.ledger.State()})
}

// @Summary Hand the ledger to a new owner
// @Tags admin
// @Accept json
// @Param X-Caller header string true "Owner address"
// @Success 200 {object} map[string]string
// @Router /remit/admin/transfer-ownership [post]
func (s *Server) transferOwnership(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}
	var body struct {
		NewOwner ledger.Address `json:"newOwner"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		s.badRequest(c, err)
		return
	}
	if err := s.ledger.TransferOwnership(c.Request.Context(), caller, body.NewOwner); err != nil {
		s.ledgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": body.NewOwner})
}

// @Summary Sweep a killed ledger to a destination
// @Tags admin
// @Accept json
// @Param X-Caller header string true "Owner address"
// @Success 200 {object} map[string]uint64
// @Router /remit/admin/empty [post]
func (s *Server) emptyAccount(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}
	var body struct {
		Destination ledger.Address `json:"destination"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		s.badRequest(c, err)
		return
	}
	amount, err := s.ledger.EmptyAccount(c.Request.Context(), caller, body.Destination)
	if err != nil {
		s.ledgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount": amount})
}

// @Summary Pay the fee pool to the owner
// @Tags admin
// @Param X-Caller header string true "Owner address"
// @Success 200 {object} map[string]uint64
// @Router /remit/admin/withdraw-fees [post]
func (s *Server) withdrawFees(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}
	amount, err := s.ledger.WithdrawFees(c.Request.Context(), caller)
	if err != nil {
		s.ledgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount": amount})
}
