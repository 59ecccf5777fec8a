package service

import (
	"fmt"
	"log/slog"

	"github.com/kirinyoku/tix-ledger/internal/metrics"
	"github.com/kirinyoku/tix-ledger/internal/service/admission"
	"github.com/kirinyoku/tix-ledger/internal/service/ledger"
	"github.com/kirinyoku/tix-ledger/internal/service/membership"
	"github.com/kirinyoku/tix-ledger/internal/service/pricing"
	"github.com/kirinyoku/tix-ledger/internal/uow"
)

type Services struct {
	Ledger     *ledger.Service
	Membership *membership.Service
	Pricing    *pricing.Service
	Admission  *admission.Service
}

type Config struct {
	Ledger    ledger.Config
	Pricing   pricing.Config
	Admission admission.Config
}

// Repositories is what a storage driver provides. Tx must be the runner
// the repositories join transactions through.
type Repositories struct {
	Tx        uow.TxRunner
	Events    ledger.Repository
	Members   membership.Repository
	Purchases admission.PurchaseLog
}

// Deps are the optional collaborators. Nil values disable the feature.
type Deps struct {
	Cache    ledger.EventCache
	Notifier ledger.Notifier
	Limiter  admission.RateLimiter
	Observer metrics.Observer
	Logger   *slog.Logger
}

func NewServices(repos Repositories, deps Deps, cfg Config) (*Services, error) {
	const op = "service.NewServices"

	l := ledger.New(repos.Events, repos.Tx, deps.Cache, deps.Notifier, deps.Logger, cfg.Ledger)
	m := membership.New(repos.Members, deps.Logger)

	p, err := pricing.New(l, m, deps.Observer, cfg.Pricing)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	a := admission.New(p, l, repos.Purchases, repos.Tx, deps.Limiter, deps.Observer, deps.Logger, cfg.Admission)

	return &Services{
		Ledger:     l,
		Membership: m,
		Pricing:    p,
		Admission:  a,
	}, nil
}
