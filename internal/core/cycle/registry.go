package cycle

import "fmt"

// ModuleRegistry maps a compile-time module id to the decoder that turns
// a directive-grammar block into that module's typed configuration shape;
// Cycle.ModuleConfs is the parallel vector of boxed configurations those
// decoders produce.
type ModuleRegistry struct {
	decoders map[string]func(raw any) (ModuleConfig, error)
	order    []string
}

// NewModuleRegistry returns an empty registry; modules are added to it
// with Register.
func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{decoders: make(map[string]func(raw any) (ModuleConfig, error))}
}

// Register adds a module id and its decoder. Registering the same id twice
// is a startup-time programming error.
func (r *ModuleRegistry) Register(id string, decode func(raw any) (ModuleConfig, error)) {
	if _, exists := r.decoders[id]; exists {
		panic(fmt.Sprintf("cycle: module %q already registered", id))
	}
	r.decoders[id] = decode
	r.order = append(r.order, id)
}

// Decode runs the registered decoder for id against raw directive data.
func (r *ModuleRegistry) Decode(id string, raw any) (ModuleConfig, error) {
	dec, ok := r.decoders[id]
	if !ok {
		return nil, fmt.Errorf("cycle: no module registered for id %q", id)
	}
	return dec(raw)
}

// IDs returns every registered module id in registration order, so phase
// and filter handler lists can be built deterministically at init.
func (r *ModuleRegistry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
