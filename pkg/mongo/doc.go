// Package mongo provides MongoDB client bootstrap for billingkit's audit
// stores (webhook events and dunning attempts), which rely on TTL indexes
// for bounded retention and FindOneAndUpdate for atomic claims.
package mongo
