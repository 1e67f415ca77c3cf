// Package httpcore implements the phase-based HTTP request state
// machine: the ordered phase list, internal redirects, bounded
// subrequests, lazy body reading, and the header/body filter chains that
// carry a request from on-wire bytes to a framed response.
package httpcore

// Phase is one of the eleven named stages a request traverses in order.
type Phase int

const (
	PhasePostRead Phase = iota
	PhaseServerRewrite
	PhaseFindConfig
	PhaseRewrite
	PhasePostRewrite
	PhasePreAccess
	PhaseAccess
	PhasePostAccess
	PhaseTryFiles
	PhaseContent
	PhaseLog
	phaseCount
)

func (p Phase) String() string {
	names := [...]string{
		"POST_READ", "SERVER_REWRITE", "FIND_CONFIG", "REWRITE", "POST_REWRITE",
		"PREACCESS", "ACCESS", "POST_ACCESS", "TRY_FILES", "CONTENT", "LOG",
	}
	if int(p) < 0 || int(p) >= len(names) {
		return "UNKNOWN"
	}
	return names[p]
}

// Result is what a phase Handler returns: a four-way (plus error)
// outcome.
type Result int

const (
	ResultOK       Result = iota // continue: engine advances to the next phase
	ResultDeclined               // next handler in this same phase
	ResultAgain                  // handler needs to be re-entered (e.g. body not read yet)
	ResultDone                   // response already produced; engine stops driving phases
)

// Handler is one phase's content-independent logic (rate limiting, auth,
// location matching, ...). A non-zero Code signals a terminal error status
// the engine should finalize with instead of advancing.
type Handler func(r *Request) (Result, int)

// Engine owns the ordered per-phase handler lists, populated at startup
// through Register (internal/httpcore/modules.Register installs the
// defaults): explicit ordered vectors of handler functions, one per phase.
type Engine struct {
	handlers    [phaseCount][]Handler
	contentFn   func(r *Request) (Result, int)
	filters     *FilterChain
	maxInternalRedirects int
	maxSubrequestDepth   int
}

// DefaultMaxInternalRedirects bounds the SERVER_REWRITE loop counter.
const DefaultMaxInternalRedirects = 10

// DefaultMaxSubrequestDepth bounds subrequest nesting.
const DefaultMaxSubrequestDepth = 50

// NewEngine creates an Engine with the default loop/depth bounds and an
// empty filter chain.
func NewEngine() *Engine {
	return &Engine{
		filters:              NewFilterChain(),
		maxInternalRedirects: DefaultMaxInternalRedirects,
		maxSubrequestDepth:   DefaultMaxSubrequestDepth,
	}
}

// Filters exposes the engine's response filter chain so modules can
// register header/body transforms at init.
func (e *Engine) Filters() *FilterChain { return e.filters }

// Register appends h to phase's handler list, in registration order.
func (e *Engine) Register(phase Phase, h Handler) {
	e.handlers[phase] = append(e.handlers[phase], h)
}

// SetContentHandler installs the fallback content handler invoked when a
// matched location has none of its own (the static-file handler, by
// default).
func (e *Engine) SetContentHandler(fn func(r *Request) (Result, int)) {
	e.contentFn = fn
}

// Run drives r through phases 1-9, then CONTENT, then LOG: the central
// phase engine that advances indices, plus the internal-redirect and
// subrequest bounds.
func (e *Engine) Run(r *Request) {
	r.filters = e.filters
	for r.phase < PhaseLog {
		if r.phase == PhaseContent {
			e.runContent(r)
			r.phase = PhaseLog
			continue
		}
		redirects := r.redirectCount
		res, code := e.runPhase(r, r.phase)
		if r.redirectCount != redirects {
			// the handler called InternalRedirect: phase and handler index
			// are already reset, or r was finalized past the bound
			if r.Finalized() {
				return
			}
			continue
		}
		if code != 0 {
			r.Finalize(code)
			return
		}
		switch res {
		case ResultDone:
			r.phase = PhaseLog
		case ResultAgain:
			return // caller re-enters Run once the awaited event fires
		default:
			r.phase++
			r.handlerIdx = 0
		}
	}
	e.runLog(r)
}

func (e *Engine) runPhase(r *Request, phase Phase) (Result, int) {
	list := e.handlers[phase]
	for r.handlerIdx < len(list) {
		h := list[r.handlerIdx]
		res, code := h(r)
		if code != 0 {
			return res, code
		}
		switch res {
		case ResultOK:
			return ResultOK, 0
		case ResultDeclined:
			r.handlerIdx++
			continue
		case ResultAgain:
			return ResultAgain, 0
		case ResultDone:
			return ResultDone, 0
		}
	}
	return ResultOK, 0
}

func (e *Engine) runContent(r *Request) {
	if r.Location != nil && r.Location.Content != nil {
		r.Location.Content(r)
		return
	}
	if e.contentFn != nil {
		e.contentFn(r)
	}
}

func (e *Engine) runLog(r *Request) {
	for _, fn := range r.logHandlers {
		fn(r)
	}
}

// InternalRedirect replaces r's URI and jumps back to SERVER_REWRITE,
// bounded by maxInternalRedirects; exceeding the bound fails the request
// with 500.
func (e *Engine) InternalRedirect(r *Request, uri string) {
	r.redirectCount++
	if r.redirectCount > e.maxInternalRedirects {
		r.Finalize(500)
		return
	}
	r.URI = uri
	r.phase = PhaseServerRewrite
	r.handlerIdx = 0
}

// MaxSubrequestDepth exposes the bound for Request.Subrequest.
func (e *Engine) MaxSubrequestDepth() int { return e.maxSubrequestDepth }
