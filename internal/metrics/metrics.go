package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Purchase outcomes used as label values.
const (
	OutcomeCommitted           = "committed"
	OutcomeSoldOut             = "sold_out"
	OutcomeInsufficientPayment = "insufficient_payment"
	OutcomeInvalid             = "invalid"
	OutcomeNotFound            = "not_found"
	OutcomeRateLimited         = "rate_limited"
	OutcomeError               = "error"
)

// Observer captures telemetry for purchase admission.
type Observer interface {
	RecordPurchase(outcome string, quantity int64, duration time.Duration)
	RecordQuote(discounted bool)
}

// PrometheusObserver exports admission metrics to Prometheus.
type PrometheusObserver struct {
	purchases        *prometheus.CounterVec
	ticketsSold      prometheus.Counter
	purchaseDuration *prometheus.HistogramVec
	quotes           *prometheus.CounterVec
}

// NewPrometheusObserver registers purchase and quote metrics on reg.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "tixledger"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &PrometheusObserver{
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchases_total",
			Help:      "Purchase attempts by outcome.",
		}, []string{"outcome"}),
		ticketsSold: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_sold_total",
			Help:      "Tickets committed by successful purchases.",
		}),
		purchaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "purchase_duration_seconds",
			Help:      "Latency of purchase admission decisions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_total",
			Help:      "Price quotes by tier.",
		}, []string{"tier"}),
	}

	var err error
	if o.purchases, err = register(reg, o.purchases); err != nil {
		return nil, err
	}
	if o.ticketsSold, err = register(reg, o.ticketsSold); err != nil {
		return nil, err
	}
	if o.purchaseDuration, err = register(reg, o.purchaseDuration); err != nil {
		return nil, err
	}
	if o.quotes, err = register(reg, o.quotes); err != nil {
		return nil, err
	}

	return o, nil
}

// register returns the already registered collector when an identical
// metric exists.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}

	var zero C
	return zero, fmt.Errorf("register metric: %w", err)
}

func (o *PrometheusObserver) RecordPurchase(outcome string, quantity int64, duration time.Duration) {
	if o == nil {
		return
	}

	o.purchases.WithLabelValues(outcome).Inc()
	o.purchaseDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if outcome == OutcomeCommitted {
		o.ticketsSold.Add(float64(quantity))
	}
}

func (o *PrometheusObserver) RecordQuote(discounted bool) {
	if o == nil {
		return
	}

	tier := "standard"
	if discounted {
		tier = "member"
	}
	o.quotes.WithLabelValues(tier).Inc()
}

type nopObserver struct{}

// Nop returns an Observer that discards everything.
func Nop() Observer { return nopObserver{} }

func (nopObserver) RecordPurchase(string, int64, time.Duration) {}

func (nopObserver) RecordQuote(bool) {}
