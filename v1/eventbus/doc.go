// Package eventbus provides pub/sub for stock movement events with in-memory,
// Kafka, NATS and Redis implementations. Subscribers receive decoded events on
// a channel per topic; the TopicAll topic carries every event regardless of
// type. Delivery is best-effort: a slow subscriber drops events rather than
// blocking the mutation path that produced them.
package eventbus
