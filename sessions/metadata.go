package sessions

import "time"

// CapabilitySet captures the optional protocol features negotiated at
// session creation. Booleans keep it cheap to serialize, compare, and extend.
type CapabilitySet struct {
	ToolsListChanged     bool `json:"tools_list_changed,omitempty"`
	ResourcesListChanged bool `json:"resources_list_changed,omitempty"`
	PromptsListChanged   bool `json:"prompts_list_changed,omitempty"`
	Logging              bool `json:"logging,omitempty"`
	// Cancellation is set when the peer advertised support for
	// notifications/cancelled on requests it receives.
	Cancellation bool `json:"cancellation,omitempty"`
	Roots        bool `json:"roots,omitempty"`
}

// SessionMetadata is the persisted record of a protocol session. Hosts keep
// it for observability; the live session state stays in process.
type SessionMetadata struct {
	MetaVersion     int           `json:"meta_version"` // starts at 1
	SessionID       string        `json:"session_id"`
	UserID          string        `json:"user_id"`
	Transport       string        `json:"transport,omitempty"`
	ProtocolVersion string        `json:"protocol_version,omitempty"`
	Client          ClientInfo    `json:"client,omitempty"`
	Capabilities    CapabilitySet `json:"capabilities,omitempty"`
	State           State         `json:"state"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
