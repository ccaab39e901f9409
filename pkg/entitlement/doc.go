// Package entitlement computes effective quotas and meters consumption
// against them.
//
// A user's total limit for a quota type is the base plan limit plus the
// contributions of every active add-on (quota_amount × quantity). The usage
// ledger gates every metered action through CheckAndConsume, an atomic
// limit-check-and-increment, so concurrent requests can never jointly
// overshoot a quota. Daily counters reset exactly once per day boundary as
// part of the same conditional write discipline; monthly counters roll when
// the cycle-end sweep runs.
package entitlement
