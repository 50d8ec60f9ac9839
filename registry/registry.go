package registry

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/yosida95/uritemplate/v3"
)

var (
	// ErrDuplicateIdentifier is returned when registering an id that already
	// exists for its kind, or that falls under a reserved namespace.
	ErrDuplicateIdentifier = errors.New("duplicate identifier")
	// ErrNotFound is returned when no capability matches.
	ErrNotFound = errors.New("capability not found")
	// ErrInvalidCapability is returned for records that cannot be registered.
	ErrInvalidCapability = errors.New("invalid capability")
)

// Entry is a registered capability together with its namespace. Entries are
// immutable once registered.
type Entry struct {
	Namespace  string
	Capability Capability

	id   string
	tmpl *uritemplate.Template
}

// ID returns the effective (namespaced) identifier.
func (e *Entry) ID() string { return e.id }

func (e *Entry) Kind() Kind { return e.Capability.Kind() }

// Option configures a Registry.
type Option func(*Registry)

// WithStrict makes Unregister report ErrNotFound for absent entries.
func WithStrict(strict bool) Option {
	return func(r *Registry) { r.strict = strict }
}

// Registry is a thread-safe catalog of tools, resources and prompts keyed by
// kind and effective identifier. Listing order is registration order.
type Registry struct {
	strict bool

	mu       sync.RWMutex
	entries  map[Kind]map[string]*Entry
	order    map[Kind][]*Entry
	reserved map[string]struct{}

	notifiers map[Kind]*ChangeNotifier
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries:   make(map[Kind]map[string]*Entry, len(Kinds)),
		order:     make(map[Kind][]*Entry, len(Kinds)),
		reserved:  make(map[string]struct{}),
		notifiers: make(map[Kind]*ChangeNotifier, len(Kinds)),
	}
	for _, k := range Kinds {
		r.entries[k] = make(map[string]*Entry)
		r.notifiers[k] = &ChangeNotifier{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds c under namespace.
func (r *Registry) Register(namespace string, c Capability) error {
	if c == nil || c.ID() == "" {
		return fmt.Errorf("%w: empty identifier", ErrInvalidCapability)
	}
	if !ValidNamespace(namespace) {
		return fmt.Errorf("%w: namespace %q", ErrInvalidCapability, namespace)
	}
	kind := c.Kind()
	e := &Entry{Namespace: namespace, Capability: c, id: Qualify(namespace, c.ID())}

	if res, ok := c.(*Resource); ok && res.IsTemplate() {
		t, err := uritemplate.New(res.URITemplate)
		if err != nil {
			return fmt.Errorf("%w: uri template %q: %v", ErrInvalidCapability, res.URITemplate, err)
		}
		e.tmpl = t
	}

	r.mu.Lock()
	if r.reservedLocked(e.id) {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s %q is under a mounted namespace", ErrDuplicateIdentifier, kind, e.id)
	}
	if _, ok := r.entries[kind][e.id]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s %q", ErrDuplicateIdentifier, kind, e.id)
	}
	r.entries[kind][e.id] = e
	r.order[kind] = append(r.order[kind], e)
	r.mu.Unlock()

	r.notifiers[kind].Notify()
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(namespace string, c Capability) {
	if err := r.Register(namespace, c); err != nil {
		panic(err)
	}
}

// Unregister removes the capability of kind with id under namespace.
func (r *Registry) Unregister(namespace string, kind Kind, id string) error {
	qid := Qualify(namespace, id)

	r.mu.Lock()
	e, ok := r.entries[kind][qid]
	if !ok {
		r.mu.Unlock()
		if r.strict {
			return fmt.Errorf("%w: %s %q", ErrNotFound, kind, qid)
		}
		return nil
	}
	delete(r.entries[kind], qid)
	r.order[kind] = slices.DeleteFunc(r.order[kind], func(o *Entry) bool { return o == e })
	r.mu.Unlock()

	r.notifiers[kind].Notify()
	return nil
}

// Resolve returns the capability of kind with id under namespace.
func (r *Registry) Resolve(namespace string, kind Kind, id string) (Capability, error) {
	e, err := r.Lookup(kind, Qualify(namespace, id))
	if err != nil {
		return nil, err
	}
	return e.Capability, nil
}

// Lookup finds an entry by its effective identifier.
func (r *Registry) Lookup(kind Kind, id string) (*Entry, error) {
	r.mu.RLock()
	e, ok := r.entries[kind][id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", ErrNotFound, kind, id)
	}
	return e, nil
}

// ResolveResource finds the resource addressed by uri. Exact URIs win;
// otherwise URI templates are tried in registration order and the bound
// variables are returned.
func (r *Registry) ResolveResource(uri string) (*Entry, map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.entries[KindResource][uri]; ok && e.tmpl == nil {
		return e, nil, nil
	}
	for _, e := range r.order[KindResource] {
		if e.tmpl == nil {
			continue
		}
		local, ok := StripNamespace(e.Namespace, uri)
		if !ok {
			continue
		}
		vals := e.tmpl.Match(local)
		if vals == nil {
			continue
		}
		params := make(map[string]string, len(vals))
		for _, name := range e.tmpl.Varnames() {
			if v := vals.Get(name); v.Valid() {
				params[name] = v.String()
			}
		}
		return e, params, nil
	}
	return nil, nil, fmt.Errorf("%w: resource %q", ErrNotFound, uri)
}

// List returns a snapshot of the entries of kind in registration order. A
// nil kind lists every kind, tools first, then resources, then prompts.
func (r *Registry) List(kind *Kind) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if kind != nil {
		return slices.Clone(r.order[*kind])
	}
	var out []*Entry
	for _, k := range Kinds {
		out = append(out, r.order[k]...)
	}
	return out
}

// Len returns the number of entries of kind.
func (r *Registry) Len(kind Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order[kind])
}

// Reserve claims namespace for a mount. Reservation fails with
// ErrDuplicateIdentifier if the namespace is already reserved, or if any of
// the given effective identifiers (per kind) is already registered.
// Afterwards no local capability may be registered under the namespace.
func (r *Registry) Reserve(namespace string, ids map[Kind][]string) error {
	if namespace == "" || !ValidNamespace(namespace) {
		return fmt.Errorf("%w: namespace %q", ErrInvalidCapability, namespace)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.reserved[namespace]; ok {
		return fmt.Errorf("%w: namespace %q already mounted", ErrDuplicateIdentifier, namespace)
	}
	var collisions []string
	for kind, list := range ids {
		for _, id := range list {
			if _, ok := r.entries[kind][id]; ok {
				collisions = append(collisions, fmt.Sprintf("%s %q", kind, id))
			}
		}
	}
	// Local entries that merely share the prefix are collisions too: once
	// mounted, the namespace belongs to the mount.
	prefix := namespace + Separator
	for _, kind := range Kinds {
		for id := range r.entries[kind] {
			if strings.HasPrefix(id, prefix) && !slices.Contains(ids[kind], id) {
				collisions = append(collisions, fmt.Sprintf("%s %q", kind, id))
			}
		}
	}
	if len(collisions) > 0 {
		slices.Sort(collisions)
		return fmt.Errorf("%w: %s", ErrDuplicateIdentifier, strings.Join(collisions, ", "))
	}
	r.reserved[namespace] = struct{}{}
	return nil
}

// Release drops the reservation of namespace.
func (r *Registry) Release(namespace string) {
	r.mu.Lock()
	delete(r.reserved, namespace)
	r.mu.Unlock()
}

// Reserved reports whether namespace is claimed by a mount.
func (r *Registry) Reserved(namespace string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.reserved[namespace]
	return ok
}

// ReservedNamespaces returns the claimed namespaces in sorted order.
func (r *Registry) ReservedNamespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.reserved))
}

func (r *Registry) reservedLocked(id string) bool {
	ns, _, ok := Split(id)
	if !ok {
		return false
	}
	_, reserved := r.reserved[ns]
	return reserved
}

// Subscribe returns a channel signalled after every change to kind.
func (r *Registry) Subscribe(kind Kind) <-chan struct{} {
	return r.notifiers[kind].Subscriber()
}

// Unsubscribe detaches a channel returned by Subscribe.
func (r *Registry) Unsubscribe(kind Kind, ch <-chan struct{}) {
	r.notifiers[kind].Unsubscribe(ch)
}

// Notify signals subscribers of kind without mutating the registry. The
// proxy uses it when a mounted server's list changes.
func (r *Registry) Notify(kind Kind) {
	r.notifiers[kind].Notify()
}

// Close closes every subscriber channel.
func (r *Registry) Close() {
	for _, n := range r.notifiers {
		n.Close()
	}
}
