// Package memoryhost provides an in-memory sessions.Host suitable for tests,
// development, and single-process servers. All records are discarded on
// process exit.
//
// Example:
//
//	host := memoryhost.New()
//	srv := server.New(reg, server.WithSessionHost(host))
//
// For deployments where several processes must see each other's sessions
// prefer redishost.
package memoryhost
