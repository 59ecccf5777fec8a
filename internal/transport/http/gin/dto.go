package httpgin

import (
	"time"

	"github.com/kirinyoku/tix-ledger/internal/domain"
)

type CreateEventRequest struct {
	Name         string `json:"name" binding:"required"`
	BasePrice    *int64 `json:"base_price" binding:"required"`
	TotalTickets int64  `json:"total_tickets" binding:"required"`
}

type PurchaseRequest struct {
	Buyer      string `json:"buyer" binding:"required"`
	Quantity   int64  `json:"quantity" binding:"required"`
	PaidAmount *int64 `json:"paid_amount" binding:"required"`
}

type SetMemberRequest struct {
	Verified *bool `json:"verified" binding:"required"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type CreateEventResponse struct {
	EventID int64 `json:"event_id"`
}

type EventResponse struct {
	ID           int64              `json:"id"`
	Name         string             `json:"name"`
	BasePrice    int64              `json:"base_price"`
	TotalTickets int64              `json:"total_tickets"`
	SoldTickets  int64              `json:"sold_tickets"`
	Remaining    int64              `json:"remaining"`
	Status       domain.EventStatus `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
}

type EventListResponse struct {
	Events      []EventResponse `json:"events"`
	NextEventID int64           `json:"next_event_id"`
}

type MemberResponse struct {
	Address  string `json:"address"`
	Verified bool   `json:"verified"`
}

func toEventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:           e.ID,
		Name:         e.Name,
		BasePrice:    e.BasePrice,
		TotalTickets: e.TotalTickets,
		SoldTickets:  e.SoldTickets,
		Remaining:    e.Remaining(),
		Status:       e.Status(),
		CreatedAt:    e.CreatedAt,
	}
}
