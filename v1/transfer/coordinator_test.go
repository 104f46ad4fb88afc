package transfer

import (
	"context"
	"sync"
	"testing"

	stockerrors "github.com/dlkr18/go-stockyard/v1/errors"
	"github.com/dlkr18/go-stockyard/v1/ledger"
)

func newCoordinator(t *testing.T) (*Coordinator, *ledger.Ledger) {
	t.Helper()
	l := ledger.New()
	ctx := context.Background()
	if err := l.Receive(ctx, "SKU1", "WH-A", 100); err != nil {
		t.Fatalf("receive: %v", err)
	}
	return NewCoordinator(l), l
}

func TestTransferMovesStockAtomically(t *testing.T) {
	ctx := context.Background()
	c, l := newCoordinator(t)

	tr, err := c.Transfer(ctx, "SKU1", "WH-A", "WH-B", 40)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if tr.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %v", tr.Status)
	}
	a := l.Snapshot("SKU1", "WH-A")
	b := l.Snapshot("SKU1", "WH-B")
	if a.OnHand != 60 || b.OnHand != 40 {
		t.Fatalf("unexpected split: A=%+v B=%+v", a, b)
	}

	got, err := c.Get(tr.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusCompleted || got.Quantity != 40 {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestFailedTransferRecordsFailureWithoutMutation(t *testing.T) {
	ctx := context.Background()
	c, l := newCoordinator(t)

	tr, err := c.Transfer(ctx, "SKU1", "WH-A", "WH-B", 500)
	if err != stockerrors.ErrInsufficientStock {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if tr == nil || tr.Status != StatusFailed {
		t.Fatalf("expected FAILED record, got %+v", tr)
	}
	a := l.Snapshot("SKU1", "WH-A")
	b := l.Snapshot("SKU1", "WH-B")
	if a.OnHand != 100 || b.OnHand != 0 {
		t.Fatalf("partial mutation: A=%+v B=%+v", a, b)
	}
}

func TestTransferArgumentValidation(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t)
	if _, err := c.Transfer(ctx, "SKU1", "WH-A", "WH-A", 10); err != stockerrors.ErrInvalidArgument {
		t.Fatalf("same source/dest: %v", err)
	}
	if _, err := c.Transfer(ctx, "SKU1", "WH-A", "WH-B", 0); err != stockerrors.ErrInvalidArgument {
		t.Fatalf("zero quantity: %v", err)
	}
	if _, err := c.Get("nope"); err != stockerrors.ErrTransferNotFound {
		t.Fatalf("expected ErrTransferNotFound, got %v", err)
	}
}

func TestConservationUnderConcurrentTransfers(t *testing.T) {
	ctx := context.Background()
	l := ledger.New()
	_ = l.Receive(ctx, "SKU1", "WH-A", 300)
	_ = l.Receive(ctx, "SKU1", "WH-B", 300)
	c := NewCoordinator(l)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = c.Transfer(ctx, "SKU1", "WH-A", "WH-B", 5)
		}()
		go func() {
			defer wg.Done()
			_, _ = c.Transfer(ctx, "SKU1", "WH-B", "WH-A", 5)
		}()
	}
	wg.Wait()

	a := l.Snapshot("SKU1", "WH-A")
	b := l.Snapshot("SKU1", "WH-B")
	if a.OnHand+b.OnHand != 600 {
		t.Fatalf("units lost or duplicated: A=%+v B=%+v", a, b)
	}
}
