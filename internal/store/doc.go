// Package store persists the personal explorer's durable state in a pebble
// LSM database.
//
// Partitions:
//   - counters ('c'): one MoveStat per (position key, continuation move),
//     updated through a pebble merge operator so concurrent mergers never
//     lose updates.
//   - index_state ('s'): one IndexState per (player, color, variant).
//
// Keys are opaque to the store beyond their leading namespace byte, which
// must match the partition they are written to. Multi-key writes go through
// Batch and become visible atomically.
package store
