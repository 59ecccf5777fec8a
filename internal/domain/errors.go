package domain

import "errors"

// Engine outcomes. Callers branch on these with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidParameters   = errors.New("invalid parameters")
	ErrSoldOut             = errors.New("sold out")
	ErrInsufficientPayment = errors.New("insufficient payment")
)
