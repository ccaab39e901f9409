// Package webhook ingests payment-gateway events with at-most-once
// processing per logical event.
//
// Gateways deliver duplicated, reordered, and replayed notifications. The
// processor's central guarantee is that side effects run at most once per
// event_id: the first ingest atomically creates-or-claims the event record
// with status processing, duplicates of a processed event short-circuit with
// an idempotent result, and concurrent deliveries of the same event yield to
// whichever claim won. Failed events keep their payload so gateway
// redelivery or a manual admin retry can safely re-run them.
package webhook
