// Package subscription owns the subscription lifecycle: the authoritative
// active/past_due/canceled/expired/paused state driven by payment outcomes
// and time.
//
// Every transition is an atomic compare-and-swap against the expected current
// status, so near-simultaneous webhook deliveries resolve deterministically
// instead of clobbering each other. A transition attempted from an unexpected
// state returns ErrConflict; callers at the webhook boundary log it and move
// on, preserving idempotent 200 responses.
//
// Subscriptions are never hard-deleted. Cancellation and expiry leave the row
// in place for audit, and a later activation creates a fresh row.
package subscription
