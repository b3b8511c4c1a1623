// Package conversation stores per-user chat histories.
//
// A History always begins with exactly one system turn, written when the
// history is created. Histories live either in process (MemoryStore, bounded
// by an idle TTL and an LRU session cap) or in Redis (RedisStore, bounded by
// key expiry) so several daemons can share them.
package conversation
