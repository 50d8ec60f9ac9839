// Package wellknown serves RFC 9728 OAuth protected resource metadata.
package wellknown

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// ProtectedResourcePrefix is the well-known path prefix defined by RFC 9728.
const ProtectedResourcePrefix = "/.well-known/oauth-protected-resource"

// ProtectedResourceMetadata is the document advertised to clients so they can
// find the authorization server guarding a resource.
type ProtectedResourceMetadata struct {
	Resource                          string   `json:"resource"`
	AuthorizationServers              []string `json:"authorization_servers,omitempty"`
	JwksURI                           string   `json:"jwks_uri,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported            []string `json:"bearer_methods_supported,omitempty"`
	ResourceSigningAlgValuesSupported []string `json:"resource_signing_alg_values_supported,omitempty"`
	ResourceName                      string   `json:"resource_name,omitempty"`
}

// MetadataURL derives the metadata location for the resource at endpoint:
// the well-known prefix is inserted between the host and the path.
func MetadataURL(endpoint *url.URL) *url.URL {
	u := *endpoint
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = ProtectedResourcePrefix + strings.TrimSuffix(endpoint.Path, "/")
	u.RawPath = ""
	return &u
}

// Handler serves meta as JSON, answering CORS preflight requests so browser
// based clients can fetch it.
func Handler(meta ProtectedResourceMetadata) http.Handler {
	body, err := json.Marshal(meta)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		switch r.Method {
		case http.MethodOptions:
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet, http.MethodHead:
			if err != nil {
				http.Error(w, "metadata unavailable", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Cache-Control", "public, max-age=3600")
			_, _ = w.Write(body)
		default:
			w.Header().Set("Allow", "GET, HEAD, OPTIONS")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}
