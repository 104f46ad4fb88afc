package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dlkr18/go-stockyard/v1/engine"
	"github.com/dlkr18/go-stockyard/v1/presets"
	"github.com/dlkr18/go-stockyard/v1/selector"
)

var (
	concurrency = flag.Int("c", 50, "Concurrency")
	requests    = flag.Int("n", 100000, "Requests")
	skus        = flag.Int("skus", 20, "Distinct SKUs")
	locations   = flag.Int("locations", 4, "Locations")
	seed        = flag.Int64("seed", 100000, "Seed units per SKU per location")
	commitPct   = flag.Int("commit-pct", 70, "Percent of holds committed, rest released")
	transferPct = flag.Int("transfer-pct", 10, "Percent of operations that are transfers")
)

func main() {
	flag.Parse()

	ctx := context.Background()
	e, _ := presets.NewStandalone(engine.WithSweepInterval(time.Second))
	defer e.Close()

	skuList := make([]string, *skus)
	for i := range skuList {
		skuList[i] = fmt.Sprintf("SKU-%03d", i)
	}
	locList := make([]string, *locations)
	for i := range locList {
		locList[i] = fmt.Sprintf("WH-%02d", i)
		_ = e.RegisterLocation(selector.Location{ID: locList[i], Priority: i})
	}

	var total int64
	for _, sku := range skuList {
		for _, loc := range locList {
			if err := e.ReceiveStock(ctx, sku, loc, *seed); err != nil {
				log.Fatalf("seed: %v", err)
			}
			total += *seed
		}
	}

	var ops, rejected int64
	latencies := make([]int64, *requests)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*concurrency)
	for i := 0; i < *requests; i++ {
		i := i
		g.Go(func() error {
			rng := rand.New(rand.NewSource(int64(i)))
			sku := skuList[rng.Intn(len(skuList))]
			loc := locList[rng.Intn(len(locList))]
			qty := int64(rng.Intn(5) + 1)

			reqStart := time.Now()
			if len(locList) > 1 && rng.Intn(100) < *transferPct {
				dest := locList[(indexOf(locList, loc)+1+rng.Intn(len(locList)-1))%len(locList)]
				if _, err := e.Transfer(gctx, sku, loc, dest, qty); err != nil {
					atomic.AddInt64(&rejected, 1)
				} else {
					atomic.AddInt64(&ops, 1)
				}
			} else {
				id, err := e.Reserve(gctx, sku, loc, qty, time.Minute, "")
				if err != nil {
					atomic.AddInt64(&rejected, 1)
				} else {
					if rng.Intn(100) < *commitPct {
						_ = e.Commit(gctx, id)
					} else {
						_ = e.Release(gctx, id)
					}
					atomic.AddInt64(&ops, 1)
				}
			}
			latencies[i] = time.Since(reqStart).Nanoseconds()
			return nil
		})
	}
	_ = g.Wait()
	elapsed := time.Since(start)

	throughput := float64(ops) / elapsed.Seconds()
	fmt.Printf("| %-12s | %-10s | %-12s | %-12s | %-10s |\n", "Ops", "Ops/sec", "Avg Latency", "P99 Latency", "Rejected")
	fmt.Println("|:---|:---|:---|:---|:---|")
	fmt.Printf("| %-12d | %-10.0f | %-12s | %-12s | %-10d |\n",
		ops, throughput, avgLatency(latencies, ops), p99Latency(latencies), rejected)

	verifyConservation(e, skuList, locList, total)
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return 0
}

func avgLatency(latencies []int64, ops int64) string {
	if ops == 0 {
		return "-"
	}
	var sum int64
	for _, l := range latencies {
		sum += l
	}
	return time.Duration(sum / int64(len(latencies))).String()
}

func p99Latency(latencies []int64) string {
	valid := make([]int64, 0, len(latencies))
	for _, l := range latencies {
		if l > 0 {
			valid = append(valid, l)
		}
	}
	if len(valid) == 0 {
		return "-"
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i] < valid[j] })
	idx := int(float64(len(valid)) * 0.99)
	if idx >= len(valid) {
		idx = len(valid) - 1
	}
	return time.Duration(valid[idx]).String()
}

// verifyConservation checks that no unit was created or destroyed: seeded
// units equal remaining on-hand plus committed deductions, and no counter
// went negative.
func verifyConservation(e *engine.Engine, skuList, locList []string, seeded int64) {
	var onHand, reserved int64
	for _, sku := range skuList {
		for _, loc := range locList {
			s := e.GetStock(sku, loc)
			if s.OnHand < 0 || s.Reserved < 0 || s.Reserved > s.OnHand {
				log.Fatalf("invariant violated at %s@%s: %+v", sku, loc, s)
			}
			onHand += s.OnHand
			reserved += s.Reserved
		}
	}
	if onHand > seeded {
		log.Fatalf("units created: seeded %d, remaining %d", seeded, onHand)
	}
	fmt.Printf("conservation ok: seeded=%d remaining=%d committed=%d reserved=%d\n",
		seeded, onHand, seeded-onHand, reserved)
}
