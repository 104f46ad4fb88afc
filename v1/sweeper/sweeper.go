// Package sweeper runs the background loop that reclaims stock from
// reservations whose deadline passed without a commit or release. One loop
// doing a periodic bulk scan replaces a timer per reservation; the registry's
// status CAS makes the loop safe to run alongside live commit/release traffic
// and idempotent across restarts.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/dlkr18/go-stockyard/v1/reservation"
)

// defaultInterval balances prompt reclamation against scan overhead.
const defaultInterval = 2 * time.Second

// Sweeper periodically expires due reservations.
type Sweeper struct {
	reg      *reservation.Registry
	interval time.Duration
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	expiredCounter prometheus.Counter
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithInterval sets the scan interval. Non-positive durations keep the default.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the logger for sweep results and failures.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// WithMetrics enables Prometheus metrics collection using the provided registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *Sweeper) {
		s.expiredCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockyard_sweeper_expired_total",
			Help: "Total number of reservations reclaimed by the sweeper",
		})
		reg.MustRegister(s.expiredCounter)
	}
}

// New returns a started Sweeper. Close stops it.
func New(reg *reservation.Registry, opts ...Option) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sweeper{
		reg:      reg,
		interval: defaultInterval,
		logger:   zerolog.Nop(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Sweeper) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep(s.ctx, time.Now())
		case <-s.ctx.Done():
			return
		}
	}
}

// Sweep runs one expiry pass for reservations due at now and returns how many
// were reclaimed. It is exported so callers with their own scheduling can
// drive passes directly.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) int {
	n := s.reg.ExpireDue(ctx, now)
	if n > 0 {
		if s.expiredCounter != nil {
			s.expiredCounter.Add(float64(n))
		}
		s.logger.Info().Int("expired", n).Msg("reclaimed expired reservations")
	}
	return n
}

// Close stops the background loop and waits for it to exit.
func (s *Sweeper) Close() {
	s.cancel()
	s.wg.Wait()
}
