package supervisor

// Registry is an immutable name-to-spec table built once at supervisor
// initialization. Daemons cannot be added or removed after construction.
type Registry struct {
	specs map[string]DaemonSpec
	order []string
}

// NewRegistry builds a registry from the given specs. It validates each
// spec and rejects the whole set if two specs share a name.
func NewRegistry(specs []DaemonSpec) (*Registry, error) {
	r := &Registry{
		specs: make(map[string]DaemonSpec, len(specs)),
		order: make([]string, 0, len(specs)),
	}

	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, exists := r.specs[spec.Name]; exists {
			return nil, NewDuplicateDaemonError(spec.Name)
		}
		r.specs[spec.Name] = spec
		r.order = append(r.order, spec.Name)
	}

	return r, nil
}

// Get returns the spec for name, with ok=false if name is not registered.
func (r *Registry) Get(name string) (DaemonSpec, bool) {
	spec, ok := r.specs[name]
	return spec, ok
}

// Names returns all registered names in insertion order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered daemons.
func (r *Registry) Len() int {
	return len(r.order)
}
