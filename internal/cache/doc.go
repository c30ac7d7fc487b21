// Package cache implements the two-tier response cache used by the fetch
// layer: an in-memory map that is authoritative for reads, and a disk store
// that keeps one JSON record per key under <StoragePath>/cache so the daemon
// can serve data after a restart without going to the network.
//
// Values are opaque to the cache. Callers hand in any JSON-serializable value
// and read it back into the same type; the key prefix decides the schema.
// Misses, decode failures and disk errors are reported as "no value" and
// logged, never returned as errors. GetStale ignores TTL so callers can fall
// back to old data when the network is unavailable.
package cache
