package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "awards_"

	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	registerOnce sync.Once

	milesRegistered *prometheus.CounterVec
	milesRemoved    *prometheus.CounterVec
	milesShortfall  *prometheus.CounterVec
	removalRequests *prometheus.CounterVec
	accountEvents   *prometheus.CounterVec
)

// Init registers the loyalty metrics with the default registerer. It is safe
// to call more than once.
func Init() {
	InitWith(prometheus.DefaultRegisterer)
}

// InitWith registers the loyalty metrics with reg.
func InitWith(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		milesRegistered = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "miles_registered_total",
				Help: "Miles granted by batch kind",
			},
			[]string{"kind"},
		)
		milesRemoved = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "miles_removed_total",
				Help: "Miles removed by strategy",
			},
			[]string{"strategy"},
		)
		milesShortfall = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "miles_removal_shortfall_total",
				Help: "Requested miles that could not be removed, by strategy",
			},
			[]string{"strategy"},
		)
		removalRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "removal_requests_total",
				Help: "Removal requests by strategy and result",
			},
			[]string{"strategy", "result"},
		)
		accountEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "account_events_total",
				Help: "Account lifecycle changes by event",
			},
			[]string{"event"},
		)

		reg.MustRegister(milesRegistered, milesRemoved, milesShortfall, removalRequests, accountEvents)
	})
}

// ObserveRegistration records a new batch of the given kind.
func ObserveRegistration(kind string, miles int) {
	if milesRegistered == nil {
		return
	}
	milesRegistered.WithLabelValues(kind).Add(float64(miles))
}

// ObserveRemoval records a completed removal.
func ObserveRemoval(strategy string, removed, shortfall int) {
	if removalRequests == nil {
		return
	}
	removalRequests.WithLabelValues(strategy, ResultSuccess).Inc()
	milesRemoved.WithLabelValues(strategy).Add(float64(removed))
	if shortfall > 0 {
		milesShortfall.WithLabelValues(strategy).Add(float64(shortfall))
	}
}

// ObserveRemovalError records a removal that failed before touching the ledger.
func ObserveRemovalError() {
	if removalRequests == nil {
		return
	}
	removalRequests.WithLabelValues("", ResultError).Inc()
}

// ObserveAccountEvent records an account lifecycle change.
func ObserveAccountEvent(event string) {
	if accountEvents == nil {
		return
	}
	accountEvents.WithLabelValues(event).Inc()
}
