// Package selector ranks candidate locations for a reservation. The ranking
// is advisory: it reads ledger snapshots without holding any lock across
// locations, so a concurrent reservation may invalidate it. The ledger's own
// reserve check stays the authoritative gate.
package selector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/dlkr18/go-stockyard/v1/ledger"
)

// Location describes one stocking site.
type Location struct {
	ID       string
	Priority int
	// Capacity is the optional upper bound on total units the location can
	// hold. Zero means unbounded.
	Capacity int64
}

// Directory is the registry of known locations.
type Directory struct {
	mu        sync.RWMutex
	locations map[string]Location
}

// NewDirectory returns an empty Directory.
func NewDirectory() *Directory {
	return &Directory{locations: make(map[string]Location)}
}

// Register adds or replaces a location.
func (d *Directory) Register(loc Location) {
	d.mu.Lock()
	d.locations[loc.ID] = loc
	d.mu.Unlock()
}

// Get returns a location by id.
func (d *Directory) Get(id string) (Location, bool) {
	d.mu.RLock()
	loc, ok := d.locations[id]
	d.mu.RUnlock()
	return loc, ok
}

// Capacity reports the configured bound for a location, if any. It satisfies
// ledger.CapacityFunc.
func (d *Directory) Capacity(id string) (int64, bool) {
	d.mu.RLock()
	loc, ok := d.locations[id]
	d.mu.RUnlock()
	if !ok || loc.Capacity <= 0 {
		return 0, false
	}
	return loc.Capacity, true
}

// All returns every registered location.
func (d *Directory) All() []Location {
	d.mu.RLock()
	out := make([]Location, 0, len(d.locations))
	for _, loc := range d.locations {
		out = append(out, loc)
	}
	d.mu.RUnlock()
	return out
}

// Candidate is one ranked source for a reservation.
type Candidate struct {
	Location  string
	Priority  int
	Available int64
}

// Selector ranks locations able to cover a requested quantity.
type Selector struct {
	ledger *ledger.Ledger
	dir    *Directory

	cache    *ristretto.Cache
	cacheTTL time.Duration
}

// Option configures a Selector.
type Option func(*Selector)

// WithCandidateCache caches rankings for ttl. Useful for hot SKUs under read
// pressure; safe because rankings are advisory anyway.
func WithCandidateCache(ttl time.Duration) Option {
	return func(s *Selector) {
		c, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 1e4,
			MaxCost:     1 << 16,
			BufferItems: 64,
		})
		if err != nil {
			panic(err)
		}
		s.cache = c
		s.cacheTTL = ttl
	}
}

// New returns a Selector reading from l and dir.
func New(l *ledger.Ledger, dir *Directory, opts ...Option) *Selector {
	s := &Selector{ledger: l, dir: dir}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Candidates returns the locations with at least qty available units of sku,
// sorted by descending priority, then descending availability, then location
// id for determinism. An empty result means no single location can cover qty.
func (s *Selector) Candidates(ctx context.Context, sku string, qty int64) []Candidate {
	if qty <= 0 {
		return nil
	}
	key := fmt.Sprintf("%s|%d", sku, qty)
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			if cs, ok := v.([]Candidate); ok {
				return cs
			}
		}
	}
	var out []Candidate
	for _, loc := range s.dir.All() {
		snap := s.ledger.Snapshot(sku, loc.ID)
		if snap.Available() >= qty {
			out = append(out, Candidate{
				Location:  loc.ID,
				Priority:  loc.Priority,
				Available: snap.Available(),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if out[i].Available != out[j].Available {
			return out[i].Available > out[j].Available
		}
		return out[i].Location < out[j].Location
	})
	if s.cache != nil {
		s.cache.SetWithTTL(key, out, int64(len(out)+1), s.cacheTTL)
	}
	return out
}

// Close releases the candidate cache, if one was configured.
func (s *Selector) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
}
