package admission

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-ledger/internal/domain"
	"github.com/kirinyoku/tix-ledger/internal/repository/memory"
	"github.com/kirinyoku/tix-ledger/internal/service/ledger"
	"github.com/kirinyoku/tix-ledger/internal/service/membership"
	"github.com/kirinyoku/tix-ledger/internal/service/pricing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = domain.Address("0x1111111111111111111111111111111111111111")
	bob   = domain.Address("0x2222222222222222222222222222222222222222")
)

type engine struct {
	store      *memory.Store
	ledger     *ledger.Service
	membership *membership.Service
	pricing    *pricing.Service
	admission  *Service
}

func newEngine(t *testing.T, cfg Config, limiter RateLimiter) *engine {
	t.Helper()

	store := memory.NewStore()
	l := ledger.New(store.Events(), store, nil, nil, nil, ledger.Config{})
	m := membership.New(store.Members(), nil)
	p, err := pricing.New(l, m, nil, pricing.Config{})
	require.NoError(t, err)

	return &engine{
		store:      store,
		ledger:     l,
		membership: m,
		pricing:    p,
		admission:  New(p, l, store.Purchases(), store, limiter, nil, nil, cfg),
	}
}

func (e *engine) sold(t *testing.T, id int64) int64 {
	t.Helper()
	ev, err := e.ledger.GetEvent(context.Background(), id)
	require.NoError(t, err)
	return ev.SoldTickets
}

func TestService_Purchase_Scenarios(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{}, nil)

	id, err := e.ledger.CreateEvent(ctx, "Concert", 100, 2)
	require.NoError(t, err)
	require.EqualValues(t, 0, id)

	q, err := e.pricing.Quote(ctx, id, alice)
	require.NoError(t, err)
	assert.EqualValues(t, 100, q.Price)

	buy := domain.PurchaseRequest{EventID: id, Buyer: alice, Quantity: 1, Paid: 100}

	p, err := e.admission.Purchase(ctx, buy)
	require.NoError(t, err)
	assert.EqualValues(t, 100, p.Charged)
	assert.EqualValues(t, 1, e.sold(t, id))

	_, err = e.admission.Purchase(ctx, buy)
	require.NoError(t, err)
	assert.EqualValues(t, 2, e.sold(t, id))

	_, err = e.admission.Purchase(ctx, buy)
	assert.ErrorIs(t, err, domain.ErrSoldOut)
	assert.EqualValues(t, 2, e.sold(t, id))

	ev, err := e.ledger.GetEvent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.EventSoldOut, ev.Status())

	all, err := e.admission.ListPurchases(ctx, domain.PurchaseFilter{EventID: &id})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestService_Purchase_VerifiedDiscount(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{}, nil)

	id, err := e.ledger.CreateEvent(ctx, "Festival", 100, 10)
	require.NoError(t, err)

	_, err = e.membership.SetVerified(ctx, bob, true)
	require.NoError(t, err)

	q, err := e.pricing.Quote(ctx, id, bob)
	require.NoError(t, err)
	assert.EqualValues(t, 80, q.Price)
	assert.True(t, q.Discounted)

	p, err := e.admission.Purchase(ctx, domain.PurchaseRequest{EventID: id, Buyer: bob, Quantity: 1, Paid: 80})
	require.NoError(t, err)
	assert.EqualValues(t, 80, p.UnitPrice)
	assert.EqualValues(t, 80, p.Charged)
	assert.Zero(t, p.Refund)
}

func TestService_Purchase_InsufficientPayment(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{}, nil)

	id, err := e.ledger.CreateEvent(ctx, "Concert", 100, 2)
	require.NoError(t, err)

	_, err = e.admission.Purchase(ctx, domain.PurchaseRequest{EventID: id, Buyer: alice, Quantity: 1, Paid: 50})
	assert.ErrorIs(t, err, domain.ErrInsufficientPayment)
	assert.Zero(t, e.sold(t, id))

	_, err = e.admission.Purchase(ctx, domain.PurchaseRequest{EventID: id, Buyer: alice, Quantity: 2, Paid: 199})
	assert.ErrorIs(t, err, domain.ErrInsufficientPayment)
	assert.Zero(t, e.sold(t, id))

	list, err := e.admission.ListPurchases(ctx, domain.PurchaseFilter{Buyer: alice})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestService_Purchase_InvalidParameters(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{}, nil)

	id, err := e.ledger.CreateEvent(ctx, "Concert", 100, 2)
	require.NoError(t, err)

	cases := []struct {
		name string
		req  domain.PurchaseRequest
	}{
		{"zero quantity", domain.PurchaseRequest{EventID: id, Buyer: alice, Quantity: 0, Paid: 100}},
		{"negative quantity", domain.PurchaseRequest{EventID: id, Buyer: alice, Quantity: -1, Paid: 100}},
		{"negative payment", domain.PurchaseRequest{EventID: id, Buyer: alice, Quantity: 1, Paid: -1}},
		{"anonymous buyer", domain.PurchaseRequest{EventID: id, Quantity: 1, Paid: 100}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.admission.Purchase(ctx, tc.req)
			assert.ErrorIs(t, err, domain.ErrInvalidParameters)
			assert.Zero(t, e.sold(t, id))
		})
	}
}

func TestService_Purchase_AmountOverflow(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{}, nil)

	id, err := e.ledger.CreateEvent(ctx, "Gala", math.MaxInt64/2, 10)
	require.NoError(t, err)

	_, err = e.admission.Purchase(ctx, domain.PurchaseRequest{EventID: id, Buyer: alice, Quantity: 3, Paid: math.MaxInt64})
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)
	assert.Zero(t, e.sold(t, id))
}

func TestService_Purchase_NotFound(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{}, nil)

	_, err := e.ledger.CreateEvent(ctx, "Concert", 100, 2)
	require.NoError(t, err)

	_, err = e.ledger.GetEvent(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = e.admission.Purchase(ctx, domain.PurchaseRequest{EventID: 999, Buyer: alice, Quantity: 1, Paid: 100})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_Purchase_Overpayment(t *testing.T) {
	ctx := context.Background()

	t.Run("refund", func(t *testing.T) {
		e := newEngine(t, Config{Overpayment: OverpaymentRefund}, nil)
		id, err := e.ledger.CreateEvent(ctx, "Concert", 100, 5)
		require.NoError(t, err)

		p, err := e.admission.Purchase(ctx, domain.PurchaseRequest{EventID: id, Buyer: alice, Quantity: 2, Paid: 250})
		require.NoError(t, err)
		assert.EqualValues(t, 250, p.Paid)
		assert.EqualValues(t, 200, p.Charged)
		assert.EqualValues(t, 50, p.Refund)
	})

	t.Run("retain", func(t *testing.T) {
		e := newEngine(t, Config{Overpayment: OverpaymentRetain}, nil)
		id, err := e.ledger.CreateEvent(ctx, "Concert", 100, 5)
		require.NoError(t, err)

		p, err := e.admission.Purchase(ctx, domain.PurchaseRequest{EventID: id, Buyer: alice, Quantity: 2, Paid: 250})
		require.NoError(t, err)
		assert.EqualValues(t, 250, p.Charged)
		assert.Zero(t, p.Refund)
	})
}

func TestService_Purchase_PaysExactQuote(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{}, nil)

	id, err := e.ledger.CreateEvent(ctx, "Odd price", 333, 10)
	require.NoError(t, err)

	_, err = e.membership.SetVerified(ctx, bob, true)
	require.NoError(t, err)

	for _, buyer := range []domain.Address{alice, bob} {
		q1, err := e.pricing.Quote(ctx, id, buyer)
		require.NoError(t, err)
		q2, err := e.pricing.Quote(ctx, id, buyer)
		require.NoError(t, err)
		assert.Equal(t, q1, q2)

		p, err := e.admission.Purchase(ctx, domain.PurchaseRequest{EventID: id, Buyer: buyer, Quantity: 3, Paid: q1.Price * 3})
		require.NoError(t, err)
		assert.Equal(t, q1.Price, p.UnitPrice)
		assert.Zero(t, p.Refund)
	}

	assert.EqualValues(t, 6, e.sold(t, id))
}

func TestService_Purchase_ConcurrentCapacity(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{}, nil)

	const capacity = 25
	id, err := e.ledger.CreateEvent(ctx, "Rush", 10, capacity)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		ok      atomic.Int64
		soldOut atomic.Int64
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.admission.Purchase(ctx, domain.PurchaseRequest{EventID: id, Buyer: alice, Quantity: 1, Paid: 10})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrSoldOut):
				soldOut.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, capacity, ok.Load())
	assert.EqualValues(t, 100-capacity, soldOut.Load())
	assert.EqualValues(t, capacity, e.sold(t, id))

	list, err := e.admission.ListPurchases(ctx, domain.PurchaseFilter{EventID: &id, Limit: 500})
	require.NoError(t, err)
	assert.Len(t, list, capacity)
}

type stubLimiter struct {
	allow bool
	retry time.Duration
	keys  []string
}

func (l *stubLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.keys = append(l.keys, key)
	return l.allow, l.retry, nil
}

func TestService_Purchase_RateLimited(t *testing.T) {
	ctx := context.Background()
	lim := &stubLimiter{retry: 3 * time.Second}
	e := newEngine(t, Config{}, lim)

	id, err := e.ledger.CreateEvent(ctx, "Concert", 100, 2)
	require.NoError(t, err)

	_, err = e.admission.Purchase(ctx, domain.PurchaseRequest{EventID: id, Buyer: alice, Quantity: 1, Paid: 100})
	require.ErrorIs(t, err, ErrRateLimited)

	var rl RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 3*time.Second, rl.RetryAfter)
	assert.Zero(t, e.sold(t, id))
	require.Len(t, lim.keys, 1)
	assert.Contains(t, lim.keys[0], alice.String())

	lim.allow = true
	_, err = e.admission.Purchase(ctx, domain.PurchaseRequest{EventID: id, Buyer: alice, Quantity: 1, Paid: 100})
	require.NoError(t, err)
}

func TestService_GetPurchase(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{}, nil)

	id, err := e.ledger.CreateEvent(ctx, "Concert", 100, 2)
	require.NoError(t, err)

	p, err := e.admission.Purchase(ctx, domain.PurchaseRequest{EventID: id, Buyer: alice, Quantity: 1, Paid: 100})
	require.NoError(t, err)

	got, err := e.admission.GetPurchase(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, alice, got.Buyer)

	_, err = e.admission.GetPurchase(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestParseOverpaymentPolicy(t *testing.T) {
	p, err := ParseOverpaymentPolicy("")
	require.NoError(t, err)
	assert.Equal(t, OverpaymentRefund, p)

	p, err = ParseOverpaymentPolicy("retain")
	require.NoError(t, err)
	assert.Equal(t, OverpaymentRetain, p)

	_, err = ParseOverpaymentPolicy("donate")
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)
}

func TestRequiredAmount(t *testing.T) {
	got, ok := requiredAmount(80, 3)
	assert.True(t, ok)
	assert.EqualValues(t, 240, got)

	_, ok = requiredAmount(math.MaxInt64, 2)
	assert.False(t, ok)

	got, ok = requiredAmount(math.MaxInt64, 1)
	assert.True(t, ok)
	assert.EqualValues(t, math.MaxInt64, got)
}

func TestService_OpenPurchaseLeavesOtherWorkRunning(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{}, nil)

	a, err := e.ledger.CreateEvent(ctx, "A", 100, 5)
	require.NoError(t, err)
	b, err := e.ledger.CreateEvent(ctx, "B", 100, 5)
	require.NoError(t, err)

	held := make(chan struct{})
	commit := make(chan struct{})
	txDone := make(chan error, 1)
	go func() {
		txDone <- e.store.RunTx(ctx, func(ctx context.Context) error {
			if _, err := e.store.Events().ReserveTickets(ctx, a, 1); err != nil {
				return err
			}
			close(held)
			<-commit
			return nil
		})
	}()
	<-held
	defer func() {
		close(commit)
		assert.NoError(t, <-txDone)
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)

		p, err := e.admission.Purchase(ctx, domain.PurchaseRequest{EventID: b, Buyer: alice, Quantity: 1, Paid: 100})
		if assert.NoError(t, err) {
			assert.EqualValues(t, 1, p.Quantity)
		}

		q, err := e.pricing.Quote(ctx, a, bob)
		assert.NoError(t, err)
		assert.EqualValues(t, 100, q.Price)

		ev, err := e.ledger.GetEvent(ctx, a)
		if assert.NoError(t, err) {
			assert.EqualValues(t, 0, ev.SoldTickets)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("work on other events or reads of a held event blocked")
	}
}
