// Package sessions defines the session abstraction shared by servers,
// transports and capability handlers. A session represents the negotiated
// protocol version, the authenticated principal, the negotiated feature set
// and the lifecycle state of one conversation over one transport.
//
// # Lifecycle
//
//	uninitialized -> initializing -> ready -> shutting_down -> closed
//
// A session enters initializing when the initialize request arrives, ready
// once the peer acknowledges with notifications/initialized, and closed when
// its transport ends or it is shut down. A failed handshake goes straight to
// closed.
//
// # Host Interface
//
// Host is a ledger of live session records (SessionMetadata). The live
// session state always stays in the owning process; the ledger exists so
// operators and admin tooling can enumerate sessions across processes.
//
// Implementations
//
//	memoryhost : in-memory ledger for tests and single-process servers
//	redishost  : Redis backed ledger shared by several processes
//
// Conformance tests for Host implementations live in sessionhosttest.
package sessions
