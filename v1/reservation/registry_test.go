package reservation

import (
	"context"
	"sync"
	"testing"
	"time"

	stockerrors "github.com/dlkr18/go-stockyard/v1/errors"
	"github.com/dlkr18/go-stockyard/v1/eventbus"
	"github.com/dlkr18/go-stockyard/v1/ledger"
)

func newRegistry(t *testing.T, onHand int64) (*Registry, *ledger.Ledger) {
	t.Helper()
	l := ledger.New()
	if err := l.Receive(context.Background(), "SKU1", "WH1", onHand); err != nil {
		t.Fatalf("receive: %v", err)
	}
	return NewRegistry(l), l
}

func TestCreateCommitLifecycle(t *testing.T) {
	ctx := context.Background()
	reg, l := newRegistry(t, 100)

	r, err := reg.Create(ctx, "SKU1", "WH1", 40, time.Minute, "order#1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.Status() != StatusActive {
		t.Fatalf("expected ACTIVE, got %v", r.Status())
	}
	if s := l.Snapshot("SKU1", "WH1"); s.Reserved != 40 {
		t.Fatalf("expected 40 reserved, got %+v", s)
	}

	if err := reg.Commit(ctx, r.ID); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if r.Status() != StatusCommitted {
		t.Fatalf("expected COMMITTED, got %v", r.Status())
	}
	s := l.Snapshot("SKU1", "WH1")
	if s.OnHand != 60 || s.Reserved != 0 {
		t.Fatalf("unexpected snapshot after commit: %+v", s)
	}
}

func TestCommitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	reg, l := newRegistry(t, 100)
	r, err := reg.Create(ctx, "SKU1", "WH1", 40, time.Minute, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := reg.Commit(ctx, r.ID); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if err := reg.Commit(ctx, r.ID); err != stockerrors.ErrAlreadyFinalized {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
	if err := reg.Release(ctx, r.ID); err != stockerrors.ErrAlreadyFinalized {
		t.Fatalf("release after commit: expected ErrAlreadyFinalized, got %v", err)
	}
	// Ledger moved exactly once.
	s := l.Snapshot("SKU1", "WH1")
	if s.OnHand != 60 || s.Reserved != 0 {
		t.Fatalf("ledger touched more than once: %+v", s)
	}
}

func TestUnknownReservation(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t, 10)
	if err := reg.Commit(ctx, "nope"); err != stockerrors.ErrReservationNotFound {
		t.Fatalf("expected ErrReservationNotFound, got %v", err)
	}
	if err := reg.Release(ctx, "nope"); err != stockerrors.ErrReservationNotFound {
		t.Fatalf("expected ErrReservationNotFound, got %v", err)
	}
}

func TestInsufficientStockPropagates(t *testing.T) {
	ctx := context.Background()
	reg, l := newRegistry(t, 60)
	if _, err := reg.Create(ctx, "SKU1", "WH1", 1000, time.Minute, ""); err != stockerrors.ErrInsufficientStock {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if s := l.Snapshot("SKU1", "WH1"); s.Reserved != 0 {
		t.Fatalf("counters changed on rejected create: %+v", s)
	}
}

func TestExpireDueReleasesHolds(t *testing.T) {
	ctx := context.Background()
	reg, l := newRegistry(t, 100)
	r, err := reg.Create(ctx, "SKU1", "WH1", 30, 10*time.Millisecond, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if n := reg.ExpireDue(ctx, time.Now()); n != 0 {
		t.Fatalf("expired before deadline: %d", n)
	}
	if n := reg.ExpireDue(ctx, time.Now().Add(time.Second)); n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}
	if r.Status() != StatusExpired {
		t.Fatalf("expected EXPIRED, got %v", r.Status())
	}
	if s := l.Snapshot("SKU1", "WH1"); s.OnHand != 100 || s.Reserved != 0 {
		t.Fatalf("hold not returned: %+v", s)
	}
	// A second pass over the same window is a no-op.
	if n := reg.ExpireDue(ctx, time.Now().Add(time.Second)); n != 0 {
		t.Fatalf("double expiry: %d", n)
	}
}

func TestCommitExpireRaceMutatesLedgerOnce(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		reg, l := newRegistry(t, 50)
		r, err := reg.Create(ctx, "SKU1", "WH1", 50, time.Nanosecond, "")
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		var commitErr error
		go func() {
			defer wg.Done()
			commitErr = reg.Commit(ctx, r.ID)
		}()
		go func() {
			defer wg.Done()
			reg.ExpireDue(ctx, time.Now().Add(time.Second))
		}()
		wg.Wait()

		s := l.Snapshot("SKU1", "WH1")
		switch r.Status() {
		case StatusCommitted:
			if commitErr != nil {
				t.Fatalf("winner reported error: %v", commitErr)
			}
			if s.OnHand != 0 || s.Reserved != 0 {
				t.Fatalf("commit won but snapshot is %+v", s)
			}
		case StatusExpired:
			if commitErr != stockerrors.ErrAlreadyFinalized {
				t.Fatalf("loser should see ErrAlreadyFinalized, got %v", commitErr)
			}
			if s.OnHand != 50 || s.Reserved != 0 {
				t.Fatalf("expiry won but snapshot is %+v", s)
			}
		default:
			t.Fatalf("reservation left in %v", r.Status())
		}
	}
}

func TestReservedMatchesActiveSum(t *testing.T) {
	ctx := context.Background()
	reg, l := newRegistry(t, 1000)

	var ids []string
	for i := 0; i < 10; i++ {
		r, err := reg.Create(ctx, "SKU1", "WH1", 10, time.Minute, "")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, r.ID)
	}
	if err := reg.Commit(ctx, ids[0]); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := reg.Release(ctx, ids[1]); err != nil {
		t.Fatalf("release: %v", err)
	}

	s := l.Snapshot("SKU1", "WH1")
	if got := reg.ActiveQuantity("SKU1", "WH1"); got != s.Reserved {
		t.Fatalf("active sum %d != ledger reserved %d", got, s.Reserved)
	}
	if reg.ActiveCount() != 8 {
		t.Fatalf("expected 8 active, got %d", reg.ActiveCount())
	}
}

func TestRenew(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t, 100)
	r, err := reg.Create(ctx, "SKU1", "WH1", 10, 10*time.Millisecond, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := reg.Renew(ctx, r.ID, time.Hour); err != nil {
		t.Fatalf("renew: %v", err)
	}
	if n := reg.ExpireDue(ctx, time.Now().Add(time.Minute)); n != 0 {
		t.Fatalf("renewed reservation expired: %d", n)
	}
	if err := reg.Commit(ctx, r.ID); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := reg.Renew(ctx, r.ID, time.Hour); err != stockerrors.ErrAlreadyFinalized {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
}

func TestEventsPublished(t *testing.T) {
	ctx := context.Background()
	l := ledger.New()
	_ = l.Receive(ctx, "SKU1", "WH1", 100)
	bus := eventbus.NewInMemoryBus()
	reg := NewRegistry(l, WithBus(bus))

	ch, err := bus.Subscribe(ctx, eventbus.TopicAll)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	r, err := reg.Create(ctx, "SKU1", "WH1", 5, time.Minute, "order#9")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := reg.Commit(ctx, r.ID); err != nil {
		t.Fatalf("commit: %v", err)
	}

	want := []eventbus.Type{eventbus.TypeReserved, eventbus.TypeCommitted}
	for _, w := range want {
		select {
		case ev := <-ch:
			if ev.Type != w || ev.ReservationID != r.ID {
				t.Fatalf("expected %s for %s, got %+v", w, r.ID, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", w)
		}
	}
}
