// Package presets assembles ready-to-use engine configurations for common
// deployments.
package presets

import (
	redis "github.com/redis/go-redis/v9"

	"github.com/dlkr18/go-stockyard/v1/engine"
	"github.com/dlkr18/go-stockyard/v1/eventbus"
	"github.com/dlkr18/go-stockyard/v1/ledger"
	"github.com/dlkr18/go-stockyard/v1/store"
)

// RedisOptions configures the connection to Redis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewStandalone creates an engine that runs entirely in-memory with no
// external dependencies: in-process event bus, no persistence. Useful for
// local development and tests.
func NewStandalone(opts ...engine.Option) (*engine.Engine, *eventbus.InMemoryBus) {
	bus := eventbus.NewInMemoryBus()
	opts = append([]engine.Option{engine.WithBus(bus)}, opts...)
	return engine.New(opts...), bus
}

// NewRedisBacked creates an engine using Redis both as the snapshot store and
// as the event bus, so a restarted process can warm its counters back up and
// observers on other nodes see stock movements.
func NewRedisBacked(ropts RedisOptions, opts ...engine.Option) *engine.Engine {
	client := redis.NewClient(&redis.Options{
		Addr:     ropts.Addr,
		Password: ropts.Password,
		DB:       ropts.DB,
	})
	s := store.NewRedisStore[ledger.Snapshot](client)
	bus := eventbus.NewRedisBus(client)
	opts = append([]engine.Option{
		engine.WithStore(s),
		engine.WithBus(bus),
	}, opts...)
	return engine.New(opts...)
}
