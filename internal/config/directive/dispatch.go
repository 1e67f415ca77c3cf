package directive

import "fmt"

// Handler processes one matched Node, typically decoding its Args/Children
// into a typed configuration struct and attaching it to the caller's
// context (a Cycle, a virtual-host config, a location config, ...).
type Handler func(n *Node) error

// Dispatcher maps directive names to Handlers. The schema of which
// directives exist is a core concern; the module-to-config-shape mapping
// itself lives in internal/core/cycle.ModuleRegistry.
type Dispatcher struct {
	handlers map[string]Handler
}

// NewDispatcher creates an empty Dispatcher; call Register for every
// directive name the schema supports (listen, server, location,
// upstream, proxy_pass, the various timeout/limit directives, ...).
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register binds name to fn. Registering the same name twice is a startup
// programming error.
func (d *Dispatcher) Register(name string, fn Handler) {
	if _, exists := d.handlers[name]; exists {
		panic(fmt.Sprintf("directive: handler for %q already registered", name))
	}
	d.handlers[name] = fn
}

// Dispatch runs the registered handler for every direct child of n. An
// unrecognised directive name is a parse-time config error,
// fatal at startup or reload, leaving the previous cycle untouched.
func (d *Dispatcher) Dispatch(n *Node) error {
	for _, child := range n.Children {
		h, ok := d.handlers[child.Name]
		if !ok {
			return fmt.Errorf("%s:%d: unknown directive %q", child.File, child.Line, child.Name)
		}
		if err := h(child); err != nil {
			return fmt.Errorf("%s:%d: directive %q: %w", child.File, child.Line, child.Name, err)
		}
	}
	return nil
}
