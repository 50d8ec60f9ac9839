// Package mcp contains the protocol data types and constants shared by the
// hub's transports, sessions, dispatcher, mount proxy and client. Types are
// plain structs with json tags shaped to match the Model Context Protocol
// wire format; the package holds no transport or session logic.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsListMethod).
//
// # Errors
//
// Error is the typed failure surfaced by every layer of the hub. Each error
// carries exactly one ErrorKind, and errors.Is matches an *Error against the
// sentinel of its kind:
//
//	if errors.Is(err, mcp.ErrNotFound) { ... }
//
// Failures forwarded from a mounted server are KindUpstream errors that keep
// the originating namespace and the upstream error:
//
//	var me *mcp.Error
//	if errors.As(err, &me) && me.Kind == mcp.KindUpstream {
//	    log.Printf("mount %s failed: %v", me.Namespace, me.Upstream)
//	}
//
// # Pagination
//
// List operations use opaque cursors. PaginatedRequest and PaginatedResult
// are embedded in the list envelopes.
//
// # Compatibility
//
// LatestProtocolVersion is the revision offered by clients and preferred by
// servers. SupportedProtocolVersions lists every revision the hub accepts
// during the handshake.
package mcp
