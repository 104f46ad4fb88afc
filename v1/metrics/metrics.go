package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ReserveCounter tracks the number of successful reservations.
	ReserveCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockyard_reserve_total",
		Help: "Total number of successful stock reservations",
	})
	// CommitCounter tracks the number of committed reservations.
	CommitCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockyard_commit_total",
		Help: "Total number of committed reservations",
	})
	// ReleaseCounter tracks the number of released reservations.
	ReleaseCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockyard_release_total",
		Help: "Total number of released reservations",
	})
	// ExpireCounter tracks the number of reservations reclaimed by the sweeper.
	ExpireCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockyard_expire_total",
		Help: "Total number of expired reservations",
	})
	// TransferCounter tracks the number of completed transfers.
	TransferCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockyard_transfer_total",
		Help: "Total number of completed stock transfers",
	})
	// InsufficientCounter tracks rejected reservations and transfers.
	InsufficientCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockyard_insufficient_total",
		Help: "Total number of operations rejected for insufficient stock",
	})
	// ActiveReservations reports the number of currently active holds.
	ActiveReservations = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stockyard_active_reservations",
		Help: "Current number of active reservations",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers stockyard core metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(ReserveCounter, CommitCounter, ReleaseCounter,
		ExpireCounter, TransferCounter, InsufficientCounter, ActiveReservations)
}
