package registry

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind identifies a capability variant. Each kind has its own identifier
// space: tool names, resource URIs (or URI templates) and prompt names never
// collide with one another.
type Kind uint8

const (
	KindTool Kind = iota + 1
	KindResource
	KindPrompt
)

// Kinds lists every capability kind in a stable order.
var Kinds = []Kind{KindTool, KindResource, KindPrompt}

func (k Kind) String() string {
	switch k {
	case KindTool:
		return "tool"
	case KindResource:
		return "resource"
	case KindPrompt:
		return "prompt"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Separator joins a namespace and an identifier.
const Separator = "/"

var namespacePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ValidNamespace reports whether ns may be used as a namespace. The empty
// namespace is valid and denotes local capabilities.
func ValidNamespace(ns string) bool {
	return ns == "" || namespacePattern.MatchString(ns)
}

// Qualify returns the effective identifier of id under namespace.
func Qualify(namespace, id string) string {
	if namespace == "" {
		return id
	}
	return namespace + Separator + id
}

// Split returns the leading namespace candidate of a qualified identifier
// and the remainder. ok is false when id carries no separator or the prefix
// is not a valid namespace.
func Split(id string) (namespace, rest string, ok bool) {
	ns, rest, found := strings.Cut(id, Separator)
	if !found || ns == "" || !namespacePattern.MatchString(ns) {
		return "", id, false
	}
	return ns, rest, true
}

// StripNamespace removes the namespace prefix from id. ok is false when id
// is not under namespace.
func StripNamespace(namespace, id string) (string, bool) {
	if namespace == "" {
		return id, true
	}
	return strings.CutPrefix(id, namespace+Separator)
}
