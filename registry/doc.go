// Package registry holds the catalog of capabilities (tools, resources and
// prompts) a server exposes.
//
// Capabilities are registered under a namespace. The empty namespace holds
// local capabilities; a non-empty namespace prefixes identifiers with
// "ns/". Namespaces claimed by a mount are reserved and reject local
// registrations.
//
// Every mutation signals the per-kind ChangeNotifier so sessions can emit
// list_changed notifications.
package registry
