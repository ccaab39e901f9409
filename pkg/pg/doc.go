// Package pg provides PostgreSQL connection management for billingkit's
// relational stores (subscriptions, usage records, add-ons). It wraps pgxpool
// with retry-based startup, goose schema migrations, and a healthcheck
// closure compatible with standard health endpoints.
package pg
