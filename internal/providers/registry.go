package providers

import "fmt"

// Registry is a name-keyed lookup of configured Provider instances,
// used by tools (read_image/create_image) and the agent resolver to
// pick a concrete provider without depending on the factory that
// built it.
type Registry struct {
	byName map[string]Provider
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Provider)}
}

// Register adds or replaces the provider under name. Re-registering an
// existing name keeps its original position in List().
func (r *Registry) Register(name string, p Provider) {
	if _, exists := r.byName[name]; !exists {
		r.order = append(r.order, name)
	}
	r.byName[name] = p
}

func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}
	return p, nil
}

// List returns provider names in registration order.
func (r *Registry) List() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
