// Package billing wires the billing core into an HTTP surface: the gateway
// webhook endpoint, the cron trigger for the dunning sweep, and a small admin
// API over stored events and attempts.
//
// The package owns the routing of normalized gateway events into the
// subscription lifecycle and the dunning scheduler; the pkg-level packages
// stay transport-agnostic.
package billing
