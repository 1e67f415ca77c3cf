package httpcore

// HeaderFilter transforms the response headers before they're written,
// e.g. adding Content-Encoding, computing Content-Length, or rewriting
// Location for redirects.
type HeaderFilter func(r *Request) error

// BodyFilter transforms one chunk of response body bytes (e.g. gzip,
// SSI, chunked framing). Returning nil, nil with last=true signals the
// filter swallowed the chunk (e.g. it is still buffering).
type BodyFilter func(r *Request, chunk []byte, last bool) ([]byte, error)

// FilterChain holds the header and body filter lists. Filters are
// registered at module init and linked in reverse-registration order "so
// that the last-registered runs first" — Header/Body below
// already return their slices reversed so callers can range over them
// directly in execution order.
type FilterChain struct {
	headerFilters []HeaderFilter
	bodyFilters   []BodyFilter
}

// NewFilterChain creates an empty chain.
func NewFilterChain() *FilterChain { return &FilterChain{} }

// RegisterHeaderFilter appends fn to the registration-order list.
func (c *FilterChain) RegisterHeaderFilter(fn HeaderFilter) {
	c.headerFilters = append(c.headerFilters, fn)
}

// RegisterBodyFilter appends fn to the registration-order list.
func (c *FilterChain) RegisterBodyFilter(fn BodyFilter) {
	c.bodyFilters = append(c.bodyFilters, fn)
}

// HeaderFilters returns the chain in execution order: last-registered
// runs first.
func (c *FilterChain) HeaderFilters() []HeaderFilter {
	return reversedHeaders(c.headerFilters)
}

// BodyFilters returns the chain in execution order: last-registered runs
// first.
func (c *FilterChain) BodyFilters() []BodyFilter {
	return reversedBodies(c.bodyFilters)
}

// RunHeaders executes every header filter in execution order against r.
func (c *FilterChain) RunHeaders(r *Request) error {
	for _, f := range c.HeaderFilters() {
		if err := f(r); err != nil {
			return err
		}
	}
	return nil
}

// RunBody pushes one body chunk through every body filter in execution
// order, threading each filter's output into the next.
func (c *FilterChain) RunBody(r *Request, chunk []byte, last bool) ([]byte, error) {
	cur := chunk
	for _, f := range c.BodyFilters() {
		var err error
		cur, err = f(r, cur, last)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

func reversedHeaders(in []HeaderFilter) []HeaderFilter {
	out := make([]HeaderFilter, len(in))
	for i, f := range in {
		out[len(in)-1-i] = f
	}
	return out
}

func reversedBodies(in []BodyFilter) []BodyFilter {
	out := make([]BodyFilter, len(in))
	for i, f := range in {
		out[len(in)-1-i] = f
	}
	return out
}
