// Package catalog holds the two static lookup tables the pipeline consults:
// the mapping catalog ((equipment tag, message id) -> object and value type)
// and the device catalog (object -> ordered target devices).
//
// Both catalogs are validated once at load and immutable afterwards, so
// lookups on the hot path take no locks. Duplicate mapping keys, unknown
// value-type tags, and malformed device entries are startup errors, never
// per-event errors.
package catalog
