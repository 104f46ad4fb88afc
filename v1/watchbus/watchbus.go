// Package watchbus exposes the engine's stock events to external observers as
// JSON frames over Server-Sent Events or WebSocket. It is a read-only tap for
// dashboards and tooling, not an operation surface.
package watchbus

import (
	"context"
	"encoding/json"

	"github.com/dlkr18/go-stockyard/v1/eventbus"
)

// Feed turns bus subscriptions into streams of JSON-encoded frames.
type Feed struct {
	bus eventbus.Bus
}

// NewFeed returns a Feed reading from bus.
func NewFeed(bus eventbus.Bus) *Feed {
	return &Feed{bus: bus}
}

// Watch subscribes to topic and delivers each event as a JSON frame until the
// context is canceled or Unwatch is called.
func (f *Feed) Watch(ctx context.Context, topic eventbus.Type) (chan []byte, error) {
	evs, err := f.bus.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		for ev := range evs {
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			select {
			case out <- data:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
