// Package transfer moves stock between locations as a single atomic unit of
// work. A transfer either applies on both sides or not at all; the ledger's
// ordered two-lock move is what rules out both deadlock and partial
// application.
package transfer

import (
	"context"
	"sync"
	"time"

	uuid "github.com/hashicorp/go-uuid"
	"github.com/rs/zerolog"

	stockerrors "github.com/dlkr18/go-stockyard/v1/errors"
	"github.com/dlkr18/go-stockyard/v1/eventbus"
	"github.com/dlkr18/go-stockyard/v1/ledger"
)

// Status is the outcome of a Transfer.
type Status int32

const (
	StatusPending Status = iota
	StatusCompleted
	StatusFailed
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Transfer records one attempted stock move. Records are immutable once
// visible through Get.
type Transfer struct {
	ID          string
	Sku         string
	Source      string
	Dest        string
	Quantity    int64
	Status      Status
	Error       string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// Coordinator executes transfers against a ledger and keeps their records.
type Coordinator struct {
	ledger *ledger.Ledger

	mu        sync.RWMutex
	transfers map[string]*Transfer

	bus    eventbus.Bus
	logger zerolog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithBus publishes transfer events to bus.
func WithBus(bus eventbus.Bus) Option {
	return func(c *Coordinator) { c.bus = bus }
}

// WithLogger sets the logger for failed transfers.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator returns a Coordinator backed by l.
func NewCoordinator(l *ledger.Ledger, opts ...Option) *Coordinator {
	c := &Coordinator{
		ledger:    l,
		transfers: make(map[string]*Transfer),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transfer moves qty units of sku from source to dest. On success the record
// is COMPLETED; any rejection is recorded as FAILED with no partial
// mutation. The returned record reflects the final outcome either way.
func (c *Coordinator) Transfer(ctx context.Context, sku, source, dest string, qty int64) (*Transfer, error) {
	if qty <= 0 || source == dest {
		return nil, stockerrors.ErrInvalidArgument
	}
	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, err
	}
	t := &Transfer{
		ID:        id,
		Sku:       sku,
		Source:    source,
		Dest:      dest,
		Quantity:  qty,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	moveErr := c.ledger.Move(ctx, sku, source, dest, qty)
	t.CompletedAt = time.Now()
	if moveErr != nil {
		t.Status = StatusFailed
		t.Error = moveErr.Error()
	} else {
		t.Status = StatusCompleted
	}

	c.mu.Lock()
	c.transfers[t.ID] = t
	c.mu.Unlock()

	if moveErr != nil {
		c.logger.Debug().
			Str("transfer_id", t.ID).
			Str("sku", sku).
			Str("source", source).
			Str("dest", dest).
			Int64("quantity", qty).
			Err(moveErr).
			Msg("transfer rejected")
		return t, moveErr
	}

	if c.bus != nil {
		ev := eventbus.Event{
			Type:       eventbus.TypeTransferred,
			Sku:        sku,
			Location:   source,
			Dest:       dest,
			Quantity:   qty,
			TransferID: t.ID,
			At:         t.CompletedAt,
		}
		if err := c.bus.Publish(ctx, ev); err != nil {
			c.logger.Warn().Err(err).Str("transfer_id", t.ID).Msg("event publish failed")
		}
	}
	return t, nil
}

// Get returns the record for a past transfer.
func (c *Coordinator) Get(id string) (*Transfer, error) {
	c.mu.RLock()
	t, ok := c.transfers[id]
	c.mu.RUnlock()
	if !ok {
		return nil, stockerrors.ErrTransferNotFound
	}
	return t, nil
}
