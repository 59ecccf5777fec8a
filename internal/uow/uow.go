package uow

import (
	"context"
)

// AfterCommit is a function that runs after a successful transaction commit.
type AfterCommit func(ctx context.Context)

// TxRunner runs fn inside a storage transaction carried by ctx.
// Nested calls join the outer transaction.
type TxRunner interface {
	RunTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type hooksKey struct{}

type hooks struct {
	fns []AfterCommit
}

// UoW represents a unit of work.
type UoW struct {
	runner TxRunner
}

func NewUoW(runner TxRunner) *UoW {
	return &UoW{runner: runner}
}

// Do runs fn inside the transaction. After a successful commit,
// it executes all hooks registered with After.
func (u *UoW) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(hooksKey{}).(*hooks); ok {
		// the outermost Do owns commit and hooks
		return u.runner.RunTx(ctx, fn)
	}

	h := &hooks{}
	txCtx := context.WithValue(ctx, hooksKey{}, h)

	if err := u.runner.RunTx(txCtx, fn); err != nil {
		return err
	}

	for _, fn := range h.fns {
		fn(ctx)
	}

	return nil
}

// After defers fn until the enclosing unit of work commits.
// Outside a unit of work fn runs immediately.
func After(ctx context.Context, fn AfterCommit) {
	if h, ok := ctx.Value(hooksKey{}).(*hooks); ok {
		h.fns = append(h.fns, fn)
		return
	}

	fn(ctx)
}

// Active reports whether ctx runs inside a unit of work.
func Active(ctx context.Context) bool {
	_, ok := ctx.Value(hooksKey{}).(*hooks)
	return ok
}
