// Package engine wires the ledger, reservation registry, expiry sweeper,
// transfer coordinator and location selector into the single facade consumed
// by order-processing and intake collaborators.
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	stockerrors "github.com/dlkr18/go-stockyard/v1/errors"
	"github.com/dlkr18/go-stockyard/v1/eventbus"
	"github.com/dlkr18/go-stockyard/v1/ledger"
	"github.com/dlkr18/go-stockyard/v1/metrics"
	"github.com/dlkr18/go-stockyard/v1/reservation"
	"github.com/dlkr18/go-stockyard/v1/selector"
	"github.com/dlkr18/go-stockyard/v1/store"
	"github.com/dlkr18/go-stockyard/v1/sweeper"
	"github.com/dlkr18/go-stockyard/v1/transfer"
)

const (
	defaultHoldTTL       = 15 * time.Minute
	defaultSweepInterval = 2 * time.Second
	warmupConcurrency    = 8
)

// Engine is the stock reservation and consistency engine.
type Engine struct {
	ledger      *ledger.Ledger
	registry    *reservation.Registry
	coordinator *transfer.Coordinator
	selector    *selector.Selector
	directory   *selector.Directory
	sweeper     *sweeper.Sweeper

	store  store.Store[ledger.Snapshot]
	bus    eventbus.Bus
	logger zerolog.Logger

	holdTTL time.Duration
}

type options struct {
	holdTTL       time.Duration
	sweepInterval time.Duration
	sweepDisabled bool
	candidateTTL  time.Duration
	bus           eventbus.Bus
	store         store.Store[ledger.Snapshot]
	logger        zerolog.Logger
	registerer    prometheus.Registerer
	tracing       bool
}

// Option configures an Engine.
type Option func(*options)

// WithHoldTTL sets the default reservation TTL used when Reserve is called
// with a non-positive ttl.
func WithHoldTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.holdTTL = d
		}
	}
}

// WithSweepInterval sets the interval of the expiry sweeper.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.sweepInterval = d
		}
	}
}

// WithoutSweeper disables the background sweeper. Expiry passes must then be
// driven through ExpireDue.
func WithoutSweeper() Option {
	return func(o *options) { o.sweepDisabled = true }
}

// WithBus publishes stock events to bus.
func WithBus(bus eventbus.Bus) Option {
	return func(o *options) { o.bus = bus }
}

// WithStore persists stock snapshots to s after every mutation and restores
// them during Warmup.
func WithStore(s store.Store[ledger.Snapshot]) Option {
	return func(o *options) { o.store = s }
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics registers core metrics and per-component collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithTracing enables OpenTelemetry spans on ledger mutations.
func WithTracing() Option {
	return func(o *options) { o.tracing = true }
}

// WithCandidateCache caches advisory location rankings for ttl.
func WithCandidateCache(ttl time.Duration) Option {
	return func(o *options) { o.candidateTTL = ttl }
}

// New returns a running Engine. Unless disabled, the expiry sweeper starts
// immediately; Close stops it.
func New(opts ...Option) *Engine {
	o := options{
		holdTTL:       defaultHoldTTL,
		sweepInterval: defaultSweepInterval,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		store:     o.store,
		bus:       o.bus,
		logger:    o.logger,
		holdTTL:   o.holdTTL,
		directory: selector.NewDirectory(),
	}

	ledgerOpts := []ledger.Option{ledger.WithCapacity(e.directory.Capacity)}
	if o.registerer != nil {
		metrics.RegisterCoreMetrics(o.registerer)
		ledgerOpts = append(ledgerOpts, ledger.WithMetrics(o.registerer))
	}
	if o.tracing {
		ledgerOpts = append(ledgerOpts, ledger.WithTracing())
	}
	e.ledger = ledger.New(ledgerOpts...)

	regOpts := []reservation.Option{
		reservation.WithLogger(o.logger),
		reservation.WithFinalizeHook(func(ctx context.Context, r *reservation.Reservation) {
			switch r.Status() {
			case reservation.StatusCommitted:
				metrics.CommitCounter.Inc()
			case reservation.StatusReleased:
				metrics.ReleaseCounter.Inc()
			case reservation.StatusExpired:
				metrics.ExpireCounter.Inc()
			}
			metrics.ActiveReservations.Dec()
			e.persist(ctx, r.Sku, r.Location)
		}),
	}
	if o.bus != nil {
		regOpts = append(regOpts, reservation.WithBus(o.bus))
	}
	e.registry = reservation.NewRegistry(e.ledger, regOpts...)

	coordOpts := []transfer.Option{transfer.WithLogger(o.logger)}
	if o.bus != nil {
		coordOpts = append(coordOpts, transfer.WithBus(o.bus))
	}
	e.coordinator = transfer.NewCoordinator(e.ledger, coordOpts...)

	var selOpts []selector.Option
	if o.candidateTTL > 0 {
		selOpts = append(selOpts, selector.WithCandidateCache(o.candidateTTL))
	}
	e.selector = selector.New(e.ledger, e.directory, selOpts...)

	if !o.sweepDisabled {
		sweepOpts := []sweeper.Option{
			sweeper.WithInterval(o.sweepInterval),
			sweeper.WithLogger(o.logger),
		}
		if o.registerer != nil {
			sweepOpts = append(sweepOpts, sweeper.WithMetrics(o.registerer))
		}
		e.sweeper = sweeper.New(e.registry, sweepOpts...)
	}
	return e
}

// RegisterLocation makes a location known to the selector and, when its
// Capacity is set, enforces that bound on intake and transfers.
func (e *Engine) RegisterLocation(loc selector.Location) error {
	if loc.ID == "" {
		return stockerrors.ErrInvalidArgument
	}
	e.directory.Register(loc)
	return nil
}

// ReceiveStock increases on-hand stock at a location.
func (e *Engine) ReceiveStock(ctx context.Context, sku, location string, qty int64) error {
	if err := e.ledger.Receive(ctx, sku, location, qty); err != nil {
		return err
	}
	e.publish(ctx, eventbus.Event{
		Type:     eventbus.TypeReceived,
		Sku:      sku,
		Location: location,
		Quantity: qty,
		At:       time.Now(),
	})
	e.persist(ctx, sku, location)
	return nil
}

// AdjustStock applies a signed on-hand correction with an audit reason.
func (e *Engine) AdjustStock(ctx context.Context, sku, location string, delta int64, reason string) error {
	if err := e.ledger.Adjust(ctx, sku, location, delta); err != nil {
		return err
	}
	e.logger.Info().
		Str("sku", sku).
		Str("location", location).
		Int64("delta", delta).
		Str("reason", reason).
		Msg("stock adjusted")
	e.publish(ctx, eventbus.Event{
		Type:     eventbus.TypeAdjusted,
		Sku:      sku,
		Location: location,
		Delta:    delta,
		Reason:   reason,
		At:       time.Now(),
	})
	e.persist(ctx, sku, location)
	return nil
}

// Reserve places a hold on stock and returns the reservation id. A
// non-positive ttl falls back to the engine default.
func (e *Engine) Reserve(ctx context.Context, sku, location string, qty int64, ttl time.Duration, orderRef string) (string, error) {
	if ttl <= 0 {
		ttl = e.holdTTL
	}
	r, err := e.registry.Create(ctx, sku, location, qty, ttl, orderRef)
	if err != nil {
		if err == stockerrors.ErrInsufficientStock {
			metrics.InsufficientCounter.Inc()
		}
		return "", err
	}
	metrics.ReserveCounter.Inc()
	metrics.ActiveReservations.Inc()
	e.persist(ctx, sku, location)
	return r.ID, nil
}

// Commit finalizes a reservation into a permanent deduction.
func (e *Engine) Commit(ctx context.Context, reservationID string) error {
	return e.registry.Commit(ctx, reservationID)
}

// Release cancels a reservation, returning the hold to availability.
func (e *Engine) Release(ctx context.Context, reservationID string) error {
	return e.registry.Release(ctx, reservationID)
}

// Renew extends the deadline of an active reservation.
func (e *Engine) Renew(ctx context.Context, reservationID string, ttl time.Duration) error {
	return e.registry.Renew(ctx, reservationID, ttl)
}

// Reservation returns the reservation record for id.
func (e *Engine) Reservation(id string) (*reservation.Reservation, error) {
	return e.registry.Get(id)
}

// Transfer atomically moves qty units of sku between locations and returns
// the transfer id. Failed transfers are recorded and their id is returned
// alongside the error.
func (e *Engine) Transfer(ctx context.Context, sku, source, dest string, qty int64) (string, error) {
	t, err := e.coordinator.Transfer(ctx, sku, source, dest, qty)
	if err != nil {
		if t != nil {
			return t.ID, err
		}
		return "", err
	}
	metrics.TransferCounter.Inc()
	e.persist(ctx, sku, source)
	e.persist(ctx, sku, dest)
	return t.ID, nil
}

// TransferRecord returns the record for a past transfer.
func (e *Engine) TransferRecord(id string) (*transfer.Transfer, error) {
	return e.coordinator.Get(id)
}

// GetStock returns a consistent snapshot of one stock record.
func (e *Engine) GetStock(sku, location string) ledger.Snapshot {
	return e.ledger.Snapshot(sku, location)
}

// SelectLocation returns the advisory ranking of locations able to cover qty.
func (e *Engine) SelectLocation(ctx context.Context, sku string, qty int64) []selector.Candidate {
	return e.selector.Candidates(ctx, sku, qty)
}

// ExpireDue runs one expiry pass directly, for callers that disabled the
// background sweeper.
func (e *Engine) ExpireDue(ctx context.Context, now time.Time) int {
	return e.registry.ExpireDue(ctx, now)
}

// Warmup restores ledger counters from the configured store. SKUs must not
// contain '@', which separates them from the location in persisted keys.
func (e *Engine) Warmup(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	keys, err := e.store.Keys(ctx)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(warmupConcurrency)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			sku, location, ok := strings.Cut(key, "@")
			if !ok {
				return nil
			}
			snap, found, err := e.store.Get(gctx, key)
			if err != nil {
				return err
			}
			if !found {
				return nil
			}
			return e.ledger.Restore(sku, location, snap)
		})
	}
	return g.Wait()
}

// Flush writes every known stock snapshot to the configured store.
func (e *Engine) Flush(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	var firstErr error
	e.ledger.Range(func(k ledger.Key, snap ledger.Snapshot) bool {
		if err := e.store.Set(ctx, k.String(), snap); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// Close stops the background sweeper and releases selector resources.
func (e *Engine) Close() {
	if e.sweeper != nil {
		e.sweeper.Close()
	}
	e.selector.Close()
}

func (e *Engine) persist(ctx context.Context, sku, location string) {
	if e.store == nil {
		return
	}
	k := ledger.Key{Sku: sku, Location: location}
	if err := e.store.Set(ctx, k.String(), e.ledger.Snapshot(sku, location)); err != nil {
		e.logger.Warn().Err(err).Str("key", k.String()).Msg("snapshot persist failed")
	}
}

func (e *Engine) publish(ctx context.Context, ev eventbus.Event) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, ev); err != nil {
		e.logger.Warn().Err(err).Str("type", string(ev.Type)).Msg("event publish failed")
	}
}
