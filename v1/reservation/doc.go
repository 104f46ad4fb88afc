// Package reservation owns reservation identity and status transitions. A
// reservation is created ACTIVE and moves exactly once to COMMITTED, RELEASED
// or EXPIRED. The transition is an atomic compare-and-swap on the status
// field, independent of the ledger locks: whoever wins the swap is the only
// path allowed to touch the ledger for that reservation, so a caller-driven
// commit and the expiry sweeper can race without double-releasing stock.
package reservation
