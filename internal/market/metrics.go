package market

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeOK                = "ok"
	outcomeReplayed          = "replayed"
	outcomeInsufficientStock = "insufficient_stock"
	outcomeUnavailable       = "unavailable"
	outcomeNotFound          = "not_found"
	outcomeInvalid           = "invalid"
	outcomeError             = "error"
)

// Metrics counts purchase attempts by outcome and the units sold.
// A nil *Metrics records nothing.
type Metrics struct {
	Purchases *prometheus.CounterVec
	UnitsSold prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Purchases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "market",
				Name:      "purchases_total",
				Help:      "Purchase attempts by outcome",
			},
			[]string{"outcome"},
		),
		UnitsSold: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "market",
				Name:      "units_sold_total",
				Help:      "Units sold through recorded transactions",
			},
		),
	}

	reg.MustRegister(m.Purchases, m.UnitsSold)
	return m
}

func (m *Metrics) observePurchase(outcome string, units int) {
	if m == nil {
		return
	}
	m.Purchases.WithLabelValues(outcome).Inc()
	if units > 0 {
		m.UnitsSold.Add(float64(units))
	}
}
