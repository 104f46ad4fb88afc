// Package ledger holds the authoritative on-hand and reserved counters for
// every (SKU, location) pair. It is the sole mutator of those counters; every
// mutation runs under a mutex scoped to the single pair it touches, so
// operations on unrelated pairs proceed fully in parallel. Two-location moves
// acquire both entry locks in lexicographic location order to stay
// deadlock-free.
package ledger
