// Package registry implements the per-agent action registry and
// introspector: discovery of an agent's named, typed operations by name.
//
// Key Features:
// - Ordered registration (Names reports registration order)
// - Duplicate-name rejection at registration time
// - Declarative argument/return metadata, descriptive not enforced
// - Access policy attached at registration
//
// Called by: public/agent (RegisterAction, built-in help action)
// Calls: none (pure in-memory bookkeeping)
package registry

import "fmt"

// AccessPolicy classifies how an invocation of an action should be treated
// by the access control gate.
type AccessPolicy string

const (
	Permitted            AccessPolicy = "permitted"
	Denied               AccessPolicy = "denied"
	RequiresConfirmation AccessPolicy = "requires-confirmation"
)

// ArgSpec describes one declared argument: its type tag and a human
// description. Types are descriptive only — the core never enforces them
// at dispatch, it only binds by name (spec.md §4.2).
type ArgSpec struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ReturnSpec describes an action's declared return value.
type ReturnSpec struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Handler is the function signature every registered action must satisfy.
// args is bound by name from the inbound action's Args mapping; a handler
// that needs a required argument missing from args must fail with its own
// bad-arguments error (the core does not enforce required-ness).
type Handler func(args map[string]any) (any, error)

// Descriptor is the declarative metadata the registry records for one
// action, matching the shape spec.md §3 reserves for "Action descriptor".
type Descriptor struct {
	Name        string
	Handler     Handler
	Description string
	Args        map[string]ArgSpec
	Returns     ReturnSpec
	Access      AccessPolicy
}

// Entry is the introspection-facing view of a Descriptor: everything but
// the live Handler closure, suitable for JSON serialization in a help
// reply.
type Entry struct {
	Description string             `json:"description"`
	Args        map[string]ArgSpec `json:"args"`
	Returns     ReturnSpec         `json:"returns"`
	Access      AccessPolicy       `json:"access_policy"`
}

// Registry is an ordered mapping from action name to Descriptor. The
// registration order is kept in names and reported by Names; Entries and
// Entry return maps, which carry no order.
type Registry struct {
	names       []string
	descriptors map[string]Descriptor
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{descriptors: make(map[string]Descriptor)}
}

// Register adds a new action. It fails if name is already registered —
// registering two actions with the same name on one agent is a
// construction-time error, never a silent overwrite.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("registry: action name must not be empty")
	}
	if _, exists := r.descriptors[d.Name]; exists {
		return fmt.Errorf("registry: action %q already registered", d.Name)
	}
	if d.Access == "" {
		d.Access = Permitted
	}
	if d.Args == nil {
		d.Args = map[string]ArgSpec{}
	}
	r.descriptors[d.Name] = d
	r.names = append(r.names, d.Name)
	return nil
}

// Lookup returns the Descriptor registered under name, if any.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	d, ok := r.descriptors[name]
	return d, ok
}

// Entries returns the introspected registry as a map from action name to
// Entry, the shape the built-in help action returns for a no-argument
// call. Being a map, it does not carry the registration order.
func (r *Registry) Entries() map[string]Entry {
	out := make(map[string]Entry, len(r.names))
	for _, name := range r.names {
		d := r.descriptors[name]
		out[name] = Entry{
			Description: d.Description,
			Args:        d.Args,
			Returns:     d.Returns,
			Access:      d.Access,
		}
	}
	return out
}

// Entry returns the introspected entry for a single action name, or
// (Entry{}, false) if unknown — help(action_name) with an unrecognized
// name returns an empty mapping per spec.md §4.6.
func (r *Registry) Entry(name string) (Entry, bool) {
	d, ok := r.descriptors[name]
	if !ok {
		return Entry{}, false
	}
	return Entry{
		Description: d.Description,
		Args:        d.Args,
		Returns:     d.Returns,
		Access:      d.Access,
	}, true
}

// Names returns the registered action names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}
