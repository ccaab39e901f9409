// Package dunning converts failed-payment incidents into bounded,
// time-ordered recovery plans and executes them.
//
// A failed payment opens an episode: a batch of DunningAttempt rows scheduled
// at fixed offsets from the failure (day 0, 3, 7), shifted off weekends. A
// periodic worker claims due attempts one at a time and dispatches a recovery
// notification plus a fresh payment intent; the charge outcome arrives later
// through a webhook. A successful payment closes the episode and recovers the
// subscription; exhausting every attempt cancels it and reverts the user's
// entitlements to the free plan.
//
// Every attempt pick-up is an atomic pending-to-attempted claim, so
// overlapping worker runs cannot double-process, and the worker itself holds
// a Redis lease to keep replicas from sweeping concurrently.
package dunning
