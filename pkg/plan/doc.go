// Package plan holds the subscription plan catalog: which plans exist and
// which quota limits each grants per billing cycle. Plans are loaded once at
// startup from a Source (YAML file or in-memory for tests) and served through
// Catalog, the collaborator interface consumed by the entitlement aggregator.
package plan
