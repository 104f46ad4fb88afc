package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	stockerrors "github.com/dlkr18/go-stockyard/v1/errors"
)

var tracer = otel.Tracer("github.com/dlkr18/go-stockyard/v1/ledger")

// Key addresses one stock record.
type Key struct {
	Sku      string
	Location string
}

// String renders the key in "sku@location" form, the form used by
// persistence adapters.
func (k Key) String() string { return k.Sku + "@" + k.Location }

// Snapshot is a consistent read of one stock record.
type Snapshot struct {
	OnHand   int64 `json:"on_hand"`
	Reserved int64 `json:"reserved"`
}

// Available returns the quantity a new reservation may claim.
func (s Snapshot) Available() int64 { return s.OnHand - s.Reserved }

// Hold is the ledger-side token for a reserved quantity. It is handed to the
// reservation registry and passed back verbatim on commit or release.
type Hold struct {
	Sku      string
	Location string
	Quantity int64
}

type entry struct {
	mu       sync.Mutex
	onHand   int64
	reserved int64
}

// CapacityFunc reports the optional upper bound on total units a location can
// hold. The boolean return indicates whether a bound is configured.
type CapacityFunc func(location string) (int64, bool)

// Ledger tracks on-hand and reserved quantities per (SKU, location) pair.
// All methods are safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	entries map[Key]*entry

	capacity CapacityFunc

	traceEnabled bool

	insufficientCounter prometheus.Counter
	latencyHist         prometheus.Histogram
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithCapacity installs a per-location capacity bound checked on Receive and
// on the destination side of Move.
func WithCapacity(fn CapacityFunc) Option {
	return func(l *Ledger) { l.capacity = fn }
}

// WithTracing enables OpenTelemetry spans for mutating operations.
func WithTracing() Option {
	return func(l *Ledger) { l.traceEnabled = true }
}

// WithMetrics enables Prometheus metrics collection using the provided registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(l *Ledger) {
		l.insufficientCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockyard_ledger_insufficient_total",
			Help: "Total number of reservations rejected for insufficient stock",
		})
		l.latencyHist = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockyard_ledger_latency_seconds",
			Help:    "Latency of ledger mutations",
			Buckets: prometheus.DefBuckets,
		})
		reg.MustRegister(l.insufficientCounter, l.latencyHist)
	}
}

// New returns an empty Ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{entries: make(map[Key]*entry)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) entryFor(k Key) *entry {
	l.mu.RLock()
	e, ok := l.entries[k]
	l.mu.RUnlock()
	if ok {
		return e
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.entries[k]; ok {
		return e
	}
	e = &entry{}
	l.entries[k] = e
	return e
}

func (l *Ledger) span(ctx context.Context, name string, k Key, qty int64) (context.Context, trace.Span, time.Time) {
	start := time.Now()
	if !l.traceEnabled {
		return ctx, nil, start
	}
	ctx, span := tracer.Start(ctx, name)
	span.SetAttributes(
		attribute.String("stockyard.sku", k.Sku),
		attribute.String("stockyard.location", k.Location),
		attribute.Int64("stockyard.quantity", qty),
	)
	return ctx, span, start
}

func (l *Ledger) finish(span trace.Span, start time.Time, err error) {
	if l.latencyHist != nil {
		l.latencyHist.Observe(time.Since(start).Seconds())
	}
	if span != nil {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}

// Receive increases on-hand stock by qty. The quantity must be positive and,
// when a capacity bound is configured for the location, the new on-hand total
// must stay within it.
func (l *Ledger) Receive(ctx context.Context, sku, location string, qty int64) error {
	if qty <= 0 {
		return stockerrors.ErrInvalidArgument
	}
	k := Key{Sku: sku, Location: location}
	_, span, start := l.span(ctx, "Ledger.Receive", k, qty)
	e := l.entryFor(k)
	e.mu.Lock()
	var err error
	if limit, ok := l.cap(location); ok && e.onHand+qty > limit {
		err = stockerrors.ErrCapacityExceeded
	} else {
		e.onHand += qty
	}
	e.mu.Unlock()
	l.finish(span, start, err)
	return err
}

// Reserve places a hold on qty units. It fails with ErrInsufficientStock if
// fewer than qty units are available; the availability check and the counter
// update are atomic with respect to every other mutation on the same pair.
func (l *Ledger) Reserve(ctx context.Context, sku, location string, qty int64) (Hold, error) {
	if qty <= 0 {
		return Hold{}, stockerrors.ErrInvalidArgument
	}
	k := Key{Sku: sku, Location: location}
	_, span, start := l.span(ctx, "Ledger.Reserve", k, qty)
	e := l.entryFor(k)
	e.mu.Lock()
	var err error
	if e.onHand-e.reserved < qty {
		err = stockerrors.ErrInsufficientStock
	} else {
		e.reserved += qty
	}
	e.mu.Unlock()
	if err != nil && l.insufficientCounter != nil {
		l.insufficientCounter.Inc()
	}
	l.finish(span, start, err)
	if err != nil {
		return Hold{}, err
	}
	return Hold{Sku: sku, Location: location, Quantity: qty}, nil
}

// Commit finalizes a hold, deducting its quantity from both on-hand and
// reserved. ErrNotReserved signals that the reserved counter no longer covers
// the hold, which can only happen if counters were mutated out of band.
func (l *Ledger) Commit(ctx context.Context, h Hold) error {
	if h.Quantity <= 0 {
		return stockerrors.ErrInvalidArgument
	}
	k := Key{Sku: h.Sku, Location: h.Location}
	_, span, start := l.span(ctx, "Ledger.Commit", k, h.Quantity)
	e := l.entryFor(k)
	e.mu.Lock()
	var err error
	if e.reserved < h.Quantity || e.onHand < h.Quantity {
		err = stockerrors.ErrNotReserved
	} else {
		e.reserved -= h.Quantity
		e.onHand -= h.Quantity
	}
	e.mu.Unlock()
	l.finish(span, start, err)
	return err
}

// Release returns a held quantity to availability. ErrOverRelease signals the
// release would drive the reserved counter negative.
func (l *Ledger) Release(ctx context.Context, h Hold) error {
	if h.Quantity <= 0 {
		return stockerrors.ErrInvalidArgument
	}
	k := Key{Sku: h.Sku, Location: h.Location}
	_, span, start := l.span(ctx, "Ledger.Release", k, h.Quantity)
	e := l.entryFor(k)
	e.mu.Lock()
	var err error
	if e.reserved < h.Quantity {
		err = stockerrors.ErrOverRelease
	} else {
		e.reserved -= h.Quantity
	}
	e.mu.Unlock()
	l.finish(span, start, err)
	return err
}

// Adjust applies a signed correction to on-hand stock, e.g. for damage or a
// cycle count. The new on-hand total may not go negative or drop below the
// currently reserved quantity.
func (l *Ledger) Adjust(ctx context.Context, sku, location string, delta int64) error {
	if delta == 0 {
		return stockerrors.ErrInvalidArgument
	}
	k := Key{Sku: sku, Location: location}
	_, span, start := l.span(ctx, "Ledger.Adjust", k, delta)
	e := l.entryFor(k)
	e.mu.Lock()
	var err error
	next := e.onHand + delta
	if next < 0 || next < e.reserved {
		err = stockerrors.ErrInvalidAdjustment
	} else if limit, ok := l.cap(location); ok && next > limit {
		err = stockerrors.ErrCapacityExceeded
	} else {
		e.onHand = next
	}
	e.mu.Unlock()
	l.finish(span, start, err)
	return err
}

// Move shifts qty on-hand units of sku from source to dest inside a single
// critical section covering both records. Both entry locks are taken in
// lexicographic location order so opposite-direction moves cannot deadlock.
func (l *Ledger) Move(ctx context.Context, sku, source, dest string, qty int64) error {
	if qty <= 0 || source == dest {
		return stockerrors.ErrInvalidArgument
	}
	k := Key{Sku: sku, Location: source}
	_, span, start := l.span(ctx, "Ledger.Move", k, qty)
	src := l.entryFor(k)
	dst := l.entryFor(Key{Sku: sku, Location: dest})

	first, second := src, dst
	if source > dest {
		first, second = dst, src
	}
	first.mu.Lock()
	second.mu.Lock()
	var err error
	switch {
	case src.onHand-src.reserved < qty:
		err = stockerrors.ErrInsufficientStock
	default:
		if limit, ok := l.cap(dest); ok && dst.onHand+qty > limit {
			err = stockerrors.ErrCapacityExceeded
			break
		}
		src.onHand -= qty
		dst.onHand += qty
	}
	second.mu.Unlock()
	first.mu.Unlock()
	if err == stockerrors.ErrInsufficientStock && l.insufficientCounter != nil {
		l.insufficientCounter.Inc()
	}
	l.finish(span, start, err)
	return err
}

// Snapshot returns a consistent read of one stock record. Unknown pairs read
// as empty.
func (l *Ledger) Snapshot(sku, location string) Snapshot {
	l.mu.RLock()
	e, ok := l.entries[Key{Sku: sku, Location: location}]
	l.mu.RUnlock()
	if !ok {
		return Snapshot{}
	}
	e.mu.Lock()
	s := Snapshot{OnHand: e.onHand, Reserved: e.reserved}
	e.mu.Unlock()
	return s
}

// Restore seeds the counters for a pair, typically during warmup from a
// persistence adapter. It refuses snapshots that violate the stock invariant.
func (l *Ledger) Restore(sku, location string, snap Snapshot) error {
	if snap.OnHand < 0 || snap.Reserved < 0 || snap.Reserved > snap.OnHand {
		return stockerrors.ErrInvalidArgument
	}
	e := l.entryFor(Key{Sku: sku, Location: location})
	e.mu.Lock()
	e.onHand = snap.OnHand
	e.reserved = snap.Reserved
	e.mu.Unlock()
	return nil
}

// Range calls fn for every known (SKU, location) pair until fn returns false.
// Each snapshot is consistent for its own pair; the iteration as a whole is
// not a point-in-time view.
func (l *Ledger) Range(fn func(Key, Snapshot) bool) {
	l.mu.RLock()
	keys := make([]Key, 0, len(l.entries))
	for k := range l.entries {
		keys = append(keys, k)
	}
	l.mu.RUnlock()
	for _, k := range keys {
		if !fn(k, l.Snapshot(k.Sku, k.Location)) {
			return
		}
	}
}

func (l *Ledger) cap(location string) (int64, bool) {
	if l.capacity == nil {
		return 0, false
	}
	return l.capacity(location)
}
