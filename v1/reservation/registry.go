package reservation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	stockerrors "github.com/dlkr18/go-stockyard/v1/errors"
	"github.com/dlkr18/go-stockyard/v1/eventbus"
	"github.com/dlkr18/go-stockyard/v1/ledger"
)

// Status is the lifecycle state of a Reservation.
type Status int32

const (
	StatusActive Status = iota
	StatusCommitted
	StatusReleased
	StatusExpired
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusCommitted:
		return "COMMITTED"
	case StatusReleased:
		return "RELEASED"
	case StatusExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool { return s != StatusActive }

// Reservation is a temporary claim on stock. Identity fields are set once at
// creation; status and deadline are only mutated through atomics, so sharing
// the pointer with callers is safe.
type Reservation struct {
	ID        string
	Sku       string
	Location  string
	Quantity  int64
	OrderRef  string
	CreatedAt time.Time

	status   atomic.Int32
	deadline atomic.Int64 // unix nanoseconds

	hold ledger.Hold
}

// Status returns the current lifecycle state.
func (r *Reservation) Status() Status { return Status(r.status.Load()) }

// ExpiresAt returns the current expiry deadline.
func (r *Reservation) ExpiresAt() time.Time { return time.Unix(0, r.deadline.Load()) }

func (r *Reservation) cas(from, to Status) bool {
	return r.status.CompareAndSwap(int32(from), int32(to))
}

// FinalizeHook observes a reservation right after it reached a terminal state
// and the ledger was updated for it.
type FinalizeHook func(ctx context.Context, r *Reservation)

// Registry creates and tracks reservations. It is the only component allowed
// to call the ledger's reserve, commit and release primitives.
type Registry struct {
	ledger *ledger.Ledger

	mu           sync.RWMutex
	reservations map[string]*Reservation

	bus     eventbus.Bus
	logger  zerolog.Logger
	onFinal FinalizeHook
}

// Option configures a Registry.
type Option func(*Registry)

// WithBus publishes reserve/commit/release/expire events to bus.
func WithBus(bus eventbus.Bus) Option {
	return func(reg *Registry) { reg.bus = bus }
}

// WithLogger sets the logger used for defensive ledger failures.
func WithLogger(l zerolog.Logger) Option {
	return func(reg *Registry) { reg.logger = l }
}

// WithFinalizeHook registers fn to run after every terminal transition,
// including sweeper-driven expiry.
func WithFinalizeHook(fn FinalizeHook) Option {
	return func(reg *Registry) { reg.onFinal = fn }
}

// NewRegistry returns a Registry backed by l.
func NewRegistry(l *ledger.Ledger, opts ...Option) *Registry {
	reg := &Registry{
		ledger:       l,
		reservations: make(map[string]*Reservation),
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(reg)
	}
	return reg
}

// Create reserves qty units of sku at location and records an ACTIVE
// reservation expiring after ttl. Ledger rejections propagate unchanged.
func (reg *Registry) Create(ctx context.Context, sku, location string, qty int64, ttl time.Duration, orderRef string) (*Reservation, error) {
	if qty <= 0 || ttl <= 0 {
		return nil, stockerrors.ErrInvalidArgument
	}
	hold, err := reg.ledger.Reserve(ctx, sku, location, qty)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	r := &Reservation{
		ID:        uuid.NewString(),
		Sku:       sku,
		Location:  location,
		Quantity:  qty,
		OrderRef:  orderRef,
		CreatedAt: now,
		hold:      hold,
	}
	r.status.Store(int32(StatusActive))
	r.deadline.Store(now.Add(ttl).UnixNano())

	reg.mu.Lock()
	reg.reservations[r.ID] = r
	reg.mu.Unlock()

	reg.publish(ctx, eventbus.Event{
		Type:          eventbus.TypeReserved,
		Sku:           sku,
		Location:      location,
		Quantity:      qty,
		ReservationID: r.ID,
		OrderRef:      orderRef,
		At:            now,
	})
	return r, nil
}

// Get returns the reservation with the given id.
func (reg *Registry) Get(id string) (*Reservation, error) {
	reg.mu.RLock()
	r, ok := reg.reservations[id]
	reg.mu.RUnlock()
	if !ok {
		return nil, stockerrors.ErrReservationNotFound
	}
	return r, nil
}

// Commit finalizes a reservation: the held quantity is permanently deducted
// from on-hand stock. Committing a reservation that already reached a
// terminal state returns ErrAlreadyFinalized and leaves the ledger untouched.
func (reg *Registry) Commit(ctx context.Context, id string) error {
	return reg.finalize(ctx, id, StatusCommitted)
}

// Release cancels a reservation, returning the held quantity to availability.
// Same idempotency rule as Commit.
func (reg *Registry) Release(ctx context.Context, id string) error {
	return reg.finalize(ctx, id, StatusReleased)
}

func (reg *Registry) finalize(ctx context.Context, id string, to Status) error {
	r, err := reg.Get(id)
	if err != nil {
		return err
	}
	// The CAS is the sole admission ticket to the ledger; a loser must not
	// mutate counters the winner already settled.
	if !r.cas(StatusActive, to) {
		return stockerrors.ErrAlreadyFinalized
	}
	var evType eventbus.Type
	if to == StatusCommitted {
		err = reg.ledger.Commit(ctx, r.hold)
		evType = eventbus.TypeCommitted
	} else {
		err = reg.ledger.Release(ctx, r.hold)
		evType = eventbus.TypeReleased
	}
	if err != nil {
		// Reserved counters no longer cover a hold the registry itself
		// created. Counters were touched out of band; surface it loudly.
		reg.logger.Error().
			Err(err).
			Str("reservation_id", r.ID).
			Str("sku", r.Sku).
			Str("location", r.Location).
			Int64("quantity", r.Quantity).
			Str("transition", to.String()).
			Msg("ledger inconsistency while finalizing reservation")
		return err
	}
	reg.publish(ctx, eventbus.Event{
		Type:          evType,
		Sku:           r.Sku,
		Location:      r.Location,
		Quantity:      r.Quantity,
		ReservationID: r.ID,
		OrderRef:      r.OrderRef,
		At:            time.Now(),
	})
	if reg.onFinal != nil {
		reg.onFinal(ctx, r)
	}
	return nil
}

// Renew extends the deadline of an ACTIVE reservation to now+ttl. Terminal
// reservations report ErrAlreadyFinalized.
func (reg *Registry) Renew(ctx context.Context, id string, ttl time.Duration) error {
	if ttl <= 0 {
		return stockerrors.ErrInvalidArgument
	}
	r, err := reg.Get(id)
	if err != nil {
		return err
	}
	if r.Status().Terminal() {
		return stockerrors.ErrAlreadyFinalized
	}
	// A concurrent expiry may win between the check and the store; the stale
	// deadline on a terminal reservation is never read again.
	r.deadline.Store(time.Now().Add(ttl).UnixNano())
	return nil
}

// ExpireDue transitions every ACTIVE reservation whose deadline passed to
// EXPIRED and releases its hold. Reservations that lose the status race to a
// concurrent commit or release are skipped silently. Per-reservation ledger
// errors are logged and do not abort the pass. Returns the number of
// reservations expired.
func (reg *Registry) ExpireDue(ctx context.Context, now time.Time) int {
	reg.mu.RLock()
	due := make([]*Reservation, 0)
	for _, r := range reg.reservations {
		if r.Status() == StatusActive && !r.ExpiresAt().After(now) {
			due = append(due, r)
		}
	}
	reg.mu.RUnlock()

	expired := 0
	for _, r := range due {
		if !r.cas(StatusActive, StatusExpired) {
			continue
		}
		if err := reg.ledger.Release(ctx, r.hold); err != nil {
			reg.logger.Error().
				Err(err).
				Str("reservation_id", r.ID).
				Str("sku", r.Sku).
				Str("location", r.Location).
				Msg("ledger inconsistency while expiring reservation")
			continue
		}
		expired++
		reg.publish(ctx, eventbus.Event{
			Type:          eventbus.TypeExpired,
			Sku:           r.Sku,
			Location:      r.Location,
			Quantity:      r.Quantity,
			ReservationID: r.ID,
			OrderRef:      r.OrderRef,
			At:            now,
		})
		if reg.onFinal != nil {
			reg.onFinal(ctx, r)
		}
	}
	return expired
}

// ActiveQuantity sums the quantities of ACTIVE reservations for a pair. It
// mirrors the ledger's reserved counter for that pair.
func (reg *Registry) ActiveQuantity(sku, location string) int64 {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	var total int64
	for _, r := range reg.reservations {
		if r.Sku == sku && r.Location == location && r.Status() == StatusActive {
			total += r.Quantity
		}
	}
	return total
}

// ActiveCount returns the number of ACTIVE reservations.
func (reg *Registry) ActiveCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	n := 0
	for _, r := range reg.reservations {
		if r.Status() == StatusActive {
			n++
		}
	}
	return n
}

func (reg *Registry) publish(ctx context.Context, ev eventbus.Event) {
	if reg.bus == nil {
		return
	}
	if err := reg.bus.Publish(ctx, ev); err != nil {
		reg.logger.Warn().Err(err).Str("type", string(ev.Type)).Msg("event publish failed")
	}
}
