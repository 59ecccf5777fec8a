package httpgin

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/tix-ledger/internal/domain"
	"github.com/kirinyoku/tix-ledger/internal/service"
	"github.com/kirinyoku/tix-ledger/internal/service/admission"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// IdempotencyStore is satisfied by the redis and the in-memory stores.
type IdempotencyStore interface {
	AcquireLock(ctx context.Context, key string, lockTTL time.Duration) (bool, error)
	SaveResult(ctx context.Context, key string, jsonPayload string) error
	GetResult(ctx context.Context, key string) (string, bool, error)
	Release(ctx context.Context, key string) error
}

// FeedSubscriber streams committed ledger changes.
type FeedSubscriber interface {
	Subscribe(ctx context.Context, handler func(ctx context.Context, change domain.LedgerChange)) error
}

type Options struct {
	Idempotency IdempotencyStore
	Feed        FeedSubscriber
	Metrics     http.Handler
	AdminToken  string
}

func NewRouter(
	svcs *service.Services,
	logger *slog.Logger,
	opts Options,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	// Public API
	r.GET("/events", handleListEvents(svcs))
	r.GET("/events/:id", handleGetEvent(svcs))
	r.GET("/events/:id/quote", handleQuote(svcs))
	r.POST("/events/:id/purchases", handlePurchase(svcs, opts.Idempotency, logger))

	if opts.Feed != nil {
		r.GET("/events/feed", handleFeed(opts.Feed, logger))
	}

	r.GET("/purchases", handleListPurchases(svcs))
	r.GET("/purchases/:id", handleGetPurchase(svcs))

	r.GET("/members/:address", handleGetMember(svcs))

	// Admin API
	admin := r.Group("/admin", AdminAuth(opts.AdminToken))
	{
		admin.POST("/events", handleCreateEvent(svcs))
		admin.PUT("/members/:address", handleSetMember(svcs))
		admin.GET("/members", handleListMembers(svcs))
	}

	return r
}

// @Summary  List events
// @Param    limit  query  int  false  "page size"
// @Param    offset query  int  false  "offset"
// @Success  200  {object}  EventListResponse
// @Router   /events [get]
func handleListEvents(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		limit := parseIntDefault(c.Query("limit"), 100)
		offset := parseIntDefault(c.Query("offset"), 0)

		events, err := svcs.Ledger.ListEvents(ctx, limit, offset)
		if err != nil {
			respondErr(c, err)
			return
		}

		next, err := svcs.Ledger.NextEventID(ctx)
		if err != nil {
			respondErr(c, err)
			return
		}

		resp := EventListResponse{
			Events:      make([]EventResponse, 0, len(events)),
			NextEventID: next,
		}
		for _, e := range events {
			resp.Events = append(resp.Events, toEventResponse(e))
		}

		writeJSONWithCache(c, http.StatusOK, resp, "no-cache", true)
	}
}

// @Summary  Get event
// @Param    id  path  int  true  "Event ID"
// @Success  200  {object}  EventResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id} [get]
func handleGetEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		e, err := svcs.Ledger.GetEvent(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}

		writeJSONWithCache(c, http.StatusOK, toEventResponse(*e), "no-cache", true)
	}
}

// @Summary  Quote the unit price for a buyer
// @Param    id     path   int     true   "Event ID"
// @Param    buyer  query  string  false  "buyer address"
// @Success  200  {object}  domain.Quote
// @Failure  400  {object}  ErrorResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id}/quote [get]
func handleQuote(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		buyer, err := domain.ParseAddress(c.Query("buyer"))
		if err != nil {
			respondErr(c, err)
			return
		}

		q, err := svcs.Pricing.Quote(c.Request.Context(), eventID, buyer)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, q)
	}
}

// @Summary  Get membership status
// @Param    address  path  string  true  "address"
// @Success  200  {object}  MemberResponse
// @Failure  400  {object}  ErrorResponse
// @Router   /members/{address} [get]
func handleGetMember(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		addr, ok := parseAddressParam(c, "address")
		if !ok {
			return
		}

		verified, err := svcs.Membership.IsVerified(c.Request.Context(), addr)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, MemberResponse{Address: addr.String(), Verified: verified})
	}
}

// @Summary  Create event
// @Security BearerAuth
// @Param    req body  CreateEventRequest true "payload"
// @Success  201 {object} CreateEventResponse
// @Failure  400 {object} ErrorResponse
// @Failure  401 {object} ErrorResponse
// @Router   /admin/events [post]
func handleCreateEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		id, err := svcs.Ledger.CreateEvent(
			c.Request.Context(),
			req.Name,
			*req.BasePrice,
			req.TotalTickets,
		)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, CreateEventResponse{EventID: id})
	}
}

// @Summary  Grant or revoke membership
// @Security BearerAuth
// @Param    address  path  string            true  "address"
// @Param    req      body  SetMemberRequest  true  "payload"
// @Success  200 {object} domain.Member
// @Failure  400 {object} ErrorResponse
// @Failure  401 {object} ErrorResponse
// @Router   /admin/members/{address} [put]
func handleSetMember(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		addr, ok := parseAddressParam(c, "address")
		if !ok {
			return
		}

		var req SetMemberRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		m, err := svcs.Membership.SetVerified(c.Request.Context(), addr, *req.Verified)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, m)
	}
}

// @Summary  List verified members
// @Security BearerAuth
// @Success  200 {array} domain.Member
// @Failure  401 {object} ErrorResponse
// @Router   /admin/members [get]
func handleListMembers(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		members, err := svcs.Membership.ListVerified(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, members)
	}
}

// --- Helpers ---

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

// parseAddressParam rejects both malformed and empty addresses.
func parseAddressParam(c *gin.Context, name string) (domain.Address, bool) {
	addr, err := domain.ParseAddress(c.Param(name))
	if err != nil || addr.IsAnonymous() {
		badRequest(c, "invalid "+name)
		return "", false
	}
	return addr, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: "invalid_parameters"})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	var rl admission.RateLimitedError

	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found", Code: "not_found"})
	case errors.Is(err, domain.ErrInvalidParameters):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid parameters", Code: "invalid_parameters"})
	case errors.Is(err, domain.ErrSoldOut):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "sold out", Code: "sold_out"})
	case errors.Is(err, domain.ErrInsufficientPayment):
		c.JSON(http.StatusPaymentRequired, ErrorResponse{Error: "insufficient payment", Code: "insufficient_payment"})
	case errors.As(err, &rl):
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limited", Code: "rate_limited"})
	case errors.Is(err, admission.ErrRateLimited):
		c.Header("Retry-After", "60")
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limited", Code: "rate_limited"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
