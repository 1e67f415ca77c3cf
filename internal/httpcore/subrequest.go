package httpcore

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ErrSubrequestDepthExceeded is returned when a subrequest tree would
// exceed Engine.MaxSubrequestDepth.
var ErrSubrequestDepthExceeded = fmt.Errorf("httpcore: subrequest depth exceeded")

// Subrequest creates a child Request sharing the parent's Connection
// (carried by the caller, not modeled here) but owning its own Pool and
// phase state.
func (e *Engine) Subrequest(parent *Request, uri string) (*Request, error) {
	if parent.subDepth+1 > e.maxSubrequestDepth {
		return nil, ErrSubrequestDepthExceeded
	}
	child := New(parent.Method, uri, parent.Proto, parent.RemoteAddr, parent.Header.Clone())
	child.Parent = parent
	child.subDepth = parent.subDepth + 1
	child.Location = parent.Location
	parent.Children = append(parent.Children, child)
	return child, nil
}

// RunSubrequestsParallel fans out children concurrently and blocks until
// every one reports done, sharing cancellation via errgroup — "the parent
// resumes when all children report done", modeled precisely
// by errgroup.Wait().
func (e *Engine) RunSubrequestsParallel(ctx context.Context, children []*Request) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, child := range children {
		child := child
		g.Go(func() error {
			select {
			case <-gctx.Done():
				child.Finalize(499)
				return gctx.Err()
			default:
			}
			e.Run(child)
			if child.Errored() {
				return fmt.Errorf("subrequest %s failed with status %d", child.URI, child.Status)
			}
			return nil
		})
	}
	return g.Wait()
}
