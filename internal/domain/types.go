package domain

import (
	"time"

	"github.com/google/uuid"
)

// Amount is a monetary value in the smallest unit of the native currency.
type Amount = int64

type EventStatus string

const (
	EventOpen    EventStatus = "open"
	EventSoldOut EventStatus = "sold_out"
)

type Event struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	BasePrice    Amount    `json:"base_price"`
	TotalTickets int64     `json:"total_tickets"`
	SoldTickets  int64     `json:"sold_tickets"`
	CreatedAt    time.Time `json:"created_at"`
}

// Remaining returns the number of tickets still for sale.
func (e Event) Remaining() int64 {
	return e.TotalTickets - e.SoldTickets
}

func (e Event) Status() EventStatus {
	if e.SoldTickets >= e.TotalTickets {
		return EventSoldOut
	}
	return EventOpen
}

// NewEvent carries the immutable fields of an event being created.
type NewEvent struct {
	Name         string
	BasePrice    Amount
	TotalTickets int64
}

type Member struct {
	Address   Address   `json:"address"`
	Verified  bool      `json:"verified"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Quote struct {
	EventID    int64   `json:"event_id"`
	Buyer      Address `json:"buyer,omitempty"`
	BasePrice  Amount  `json:"base_price"`
	Price      Amount  `json:"price"`
	Discounted bool    `json:"discounted"`
}

// PurchaseRequest is the payment-bearing call submitted by a buyer.
type PurchaseRequest struct {
	EventID  int64
	Buyer    Address
	Quantity int64
	Paid     Amount
}

// Purchase is the audit record of a committed purchase.
type Purchase struct {
	ID        uuid.UUID `json:"id"`
	EventID   int64     `json:"event_id"`
	Buyer     Address   `json:"buyer"`
	Quantity  int64     `json:"quantity"`
	UnitPrice Amount    `json:"unit_price"`
	Paid      Amount    `json:"paid"`
	Charged   Amount    `json:"charged"`
	Refund    Amount    `json:"refund"`
	CreatedAt time.Time `json:"created_at"`
}

type PurchaseFilter struct {
	Buyer   Address
	EventID *int64
	Limit   int
	Offset  int
}

type ChangeType string

const (
	ChangeEventCreated ChangeType = "event_created"
	ChangeTicketsSold  ChangeType = "tickets_sold"
)

// LedgerChange is broadcast after a ledger mutation commits.
type LedgerChange struct {
	Type        ChangeType `json:"type"`
	EventID     int64      `json:"event_id"`
	SoldTickets int64      `json:"sold_tickets"`
	Remaining   int64      `json:"remaining"`
	TsUnix      int64      `json:"ts_unix"`
}
