package selector

import (
	"context"
	"testing"
	"time"

	"github.com/dlkr18/go-stockyard/v1/ledger"
)

func seed(t *testing.T) (*ledger.Ledger, *Directory) {
	t.Helper()
	ctx := context.Background()
	l := ledger.New()
	d := NewDirectory()

	d.Register(Location{ID: "BLR-A", Priority: 10})
	d.Register(Location{ID: "BLR-B", Priority: 10})
	d.Register(Location{ID: "DEL-A", Priority: 5})

	_ = l.Receive(ctx, "SKU1", "BLR-A", 30)
	_ = l.Receive(ctx, "SKU1", "BLR-B", 80)
	_ = l.Receive(ctx, "SKU1", "DEL-A", 200)
	return l, d
}

func TestCandidatesRanking(t *testing.T) {
	ctx := context.Background()
	l, d := seed(t)
	s := New(l, d)

	got := s.Candidates(ctx, "SKU1", 25)
	want := []string{"BLR-B", "BLR-A", "DEL-A"}
	if len(got) != len(want) {
		t.Fatalf("expected %d candidates, got %d: %+v", len(want), len(got), got)
	}
	for i, w := range want {
		if got[i].Location != w {
			t.Fatalf("rank %d: expected %s, got %+v", i, w, got[i])
		}
	}
}

func TestCandidatesFiltersByAvailable(t *testing.T) {
	ctx := context.Background()
	l, d := seed(t)
	s := New(l, d)

	// Reserving against BLR-B shrinks its available units below the ask.
	if _, err := l.Reserve(ctx, "SKU1", "BLR-B", 70); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	got := s.Candidates(ctx, "SKU1", 50)
	if len(got) != 1 || got[0].Location != "DEL-A" {
		t.Fatalf("expected only DEL-A, got %+v", got)
	}
	if got := s.Candidates(ctx, "SKU1", 1000); got != nil {
		t.Fatalf("expected no candidates, got %+v", got)
	}
	if got := s.Candidates(ctx, "SKU1", 0); got != nil {
		t.Fatalf("expected nil for non-positive qty, got %+v", got)
	}
}

func TestDirectoryCapacity(t *testing.T) {
	d := NewDirectory()
	d.Register(Location{ID: "SMALL", Priority: 1, Capacity: 50})
	d.Register(Location{ID: "BIG", Priority: 1})

	if limit, ok := d.Capacity("SMALL"); !ok || limit != 50 {
		t.Fatalf("expected (50, true), got (%d, %v)", limit, ok)
	}
	if _, ok := d.Capacity("BIG"); ok {
		t.Fatalf("unbounded location reported a capacity")
	}
	if _, ok := d.Capacity("NOPE"); ok {
		t.Fatalf("unknown location reported a capacity")
	}
}

func TestCandidateCache(t *testing.T) {
	ctx := context.Background()
	l, d := seed(t)
	s := New(l, d, WithCandidateCache(time.Minute))
	defer s.Close()

	first := s.Candidates(ctx, "SKU1", 25)
	if len(first) != 3 {
		t.Fatalf("expected 3 candidates, got %+v", first)
	}
	// Ristretto admits asynchronously; wait for the entry to land.
	s.cache.Wait()

	// The cached ranking survives a ledger change until the TTL lapses.
	if err := l.Adjust(ctx, "SKU1", "BLR-A", -10); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	second := s.Candidates(ctx, "SKU1", 25)
	if len(second) != 3 {
		t.Fatalf("expected cached 3 candidates, got %+v", second)
	}
}
