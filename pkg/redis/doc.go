// Package redis provides Redis client bootstrap. billingkit uses Redis for
// the dunning worker's processing lease, so overlapping cron invocations or
// multiple worker replicas never double-process the same attempt.
package redis
