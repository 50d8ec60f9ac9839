// Package redishost implements sessions.Host on Redis so that several
// processes fronting the same clients share one view of live sessions.
//
// Design Notes
//   - Records: one JSON blob per session at <prefix>record:<id>, refreshed
//     with a TTL on every write so records from crashed processes expire
//   - Index: a sorted set <prefix>index scored by creation time
//   - Mutation: optimistic WATCH/MULTI read/modify/write
//
// Example:
//
//	host, err := redishost.NewFromEnv() // REDIS_ADDR, SESSIONS_KEY_PREFIX
//	if err != nil { return err }
//	defer host.Close()
//
// Use memoryhost for ephemeral development.
package redishost
