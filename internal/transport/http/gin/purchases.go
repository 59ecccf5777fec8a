package httpgin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kirinyoku/tix-ledger/internal/domain"
	redisrepo "github.com/kirinyoku/tix-ledger/internal/repository/redis"
	"github.com/kirinyoku/tix-ledger/internal/service"
)

const idemLockTTL = 60 * time.Second

// idemRecord is what a completed purchase stores under its key. Request
// is the fingerprint of the body that produced it.
type idemRecord struct {
	Request  string          `json:"request"`
	Purchase json.RawMessage `json:"purchase"`
}

func requestFingerprint(buyer domain.Address, quantity int64, paid domain.Amount) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", buyer, quantity, paid)))
	return hex.EncodeToString(sum[:])
}

// @Summary  Purchase tickets (idempotent)
// @Param    id  path  int  true  "Event ID"
// @Param    req body  PurchaseRequest true "payload"
// @Param    Idempotency-Key header string false "retry key"
// @Header   201 {string} Idempotency-Key "echo"
// @Success  201 {object} domain.Purchase
// @Failure  400 {object} ErrorResponse
// @Failure  402 {object} ErrorResponse "insufficient payment"
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "sold out / idem in progress"
// @Failure  422 {object} ErrorResponse "idem key reused with another body"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /events/{id}/purchases [post]
func handlePurchase(
	svcs *service.Services,
	idem IdempotencyStore,
	logger *slog.Logger,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		var req PurchaseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		buyer, err := domain.ParseAddress(req.Buyer)
		if err != nil {
			respondErr(c, err)
			return
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		fingerprint := requestFingerprint(buyer, req.Quantity, *req.PaidAmount)

		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemPurchase(eventID, idemKey)

			payload, ok, err := idem.GetResult(ctx, idemStorageKey)
			if err != nil {
				respondErr(c, fmt.Errorf("idempotency lookup: %w", err))
				return
			}
			if ok {
				replay(c, idemKey, fingerprint, payload)
				return
			}

			locked, err := idem.AcquireLock(ctx, idemStorageKey, idemLockTTL)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				payload, ok, err := idem.GetResult(ctx, idemStorageKey)
				if err != nil {
					logger.Warn("idempotency lookup failed", slog.String("key", idemStorageKey), slog.Any("error", err))
				}
				if ok {
					replay(c, idemKey, fingerprint, payload)
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(
					http.StatusConflict,
					ErrorResponse{Error: "idempotency key in progress", Code: "idempotency_in_progress"},
				)
				return
			}
		}

		p, err := svcs.Admission.Purchase(ctx, domain.PurchaseRequest{
			EventID:  eventID,
			Buyer:    buyer,
			Quantity: req.Quantity,
			Paid:     *req.PaidAmount,
		})
		if err != nil {
			if idemStorageKey != "" {
				if rerr := idem.Release(ctx, idemStorageKey); rerr != nil {
					logger.Warn("failed to release idempotency key", slog.String("key", idemStorageKey), slog.Any("error", rerr))
				}
			}
			respondErr(c, err)
			return
		}

		if idemStorageKey != "" {
			// the lock is kept until idemLockTTL so a retry cannot buy twice
			if err := saveIdemRecord(ctx, idem, idemStorageKey, fingerprint, p); err != nil {
				logger.Error("failed to save idempotent purchase",
					slog.String("key", idemStorageKey),
					slog.String("purchase_id", p.ID.String()),
					slog.Any("error", err),
				)
			}
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, p)
	}
}

func saveIdemRecord(ctx context.Context, idem IdempotencyStore, key, fingerprint string, p *domain.Purchase) error {
	purchase, err := json.Marshal(p)
	if err != nil {
		return err
	}

	rec, err := json.Marshal(idemRecord{Request: fingerprint, Purchase: purchase})
	if err != nil {
		return err
	}

	return idem.SaveResult(ctx, key, string(rec))
}

// replay answers a retry with the stored purchase. A key reused with a
// different body is rejected.
func replay(c *gin.Context, idemKey, fingerprint, payload string) {
	var rec idemRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		respondErr(c, fmt.Errorf("idempotency record: %w", err))
		return
	}

	if rec.Request != fingerprint {
		c.JSON(
			http.StatusUnprocessableEntity,
			ErrorResponse{Error: "idempotency key reused with a different request", Code: "idempotency_key_reused"},
		)
		return
	}

	c.Header("Idempotency-Key", idemKey)
	c.Header("Idempotent-Replayed", "true")
	c.Data(http.StatusCreated, "application/json; charset=utf-8", rec.Purchase)
}

// @Summary  Get purchase record
// @Param    id  path  string  true  "Purchase ID (uuid)"
// @Success  200 {object} domain.Purchase
// @Failure  404 {object} ErrorResponse
// @Router   /purchases/{id} [get]
func handleGetPurchase(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			badRequest(c, "invalid id")
			return
		}

		p, err := svcs.Admission.GetPurchase(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, p)
	}
}

// @Summary  List purchase records
// @Param    buyer     query  string  false  "buyer address"
// @Param    event_id  query  int     false  "Event ID"
// @Param    limit     query  int     false  "page size"
// @Param    offset    query  int     false  "offset"
// @Success  200 {array} domain.Purchase
// @Failure  400 {object} ErrorResponse
// @Router   /purchases [get]
func handleListPurchases(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		buyer, err := domain.ParseAddress(c.Query("buyer"))
		if err != nil {
			respondErr(c, err)
			return
		}

		f := domain.PurchaseFilter{
			Buyer:  buyer,
			Limit:  parseIntDefault(c.Query("limit"), 50),
			Offset: parseIntDefault(c.Query("offset"), 0),
		}

		if s := c.Query("event_id"); s != "" {
			id, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				badRequest(c, "invalid event_id")
				return
			}
			f.EventID = &id
		}

		out, err := svcs.Admission.ListPurchases(c.Request.Context(), f)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, out)
	}
}
