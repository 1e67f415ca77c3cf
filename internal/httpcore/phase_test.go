package httpcore

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_RunAdvancesThroughAllPhases(t *testing.T) {
	e := NewEngine()
	var seen []Phase
	for p := PhasePostRead; p < PhaseContent; p++ {
		p := p
		e.Register(p, func(r *Request) (Result, int) {
			seen = append(seen, r.phase)
			return ResultOK, 0
		})
	}
	e.SetContentHandler(func(r *Request) (Result, int) {
		r.Finalize(http.StatusOK)
		return ResultDone, 0
	})

	r := New("GET", "/", "HTTP/1.1", "127.0.0.1:1", make(http.Header))
	e.Run(r)

	require.True(t, r.Finalized())
	assert.Equal(t, http.StatusOK, r.Status)
	assert.Equal(t, int(PhaseContent), len(seen))
}

func TestEngine_HandlerDeclinedFallsThrough(t *testing.T) {
	e := NewEngine()
	var order []string
	e.Register(PhaseAccess, func(r *Request) (Result, int) {
		order = append(order, "first")
		return ResultDeclined, 0
	})
	e.Register(PhaseAccess, func(r *Request) (Result, int) {
		order = append(order, "second")
		return ResultOK, 0
	})
	e.SetContentHandler(func(r *Request) (Result, int) {
		r.Finalize(http.StatusOK)
		return ResultDone, 0
	})

	r := New("GET", "/", "HTTP/1.1", "127.0.0.1:1", make(http.Header))
	e.Run(r)

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestEngine_HandlerErrorFinalizes(t *testing.T) {
	e := NewEngine()
	e.Register(PhasePreAccess, func(r *Request) (Result, int) {
		return ResultDone, http.StatusForbidden
	})
	e.SetContentHandler(func(r *Request) (Result, int) {
		t.Fatal("content handler should not run")
		return ResultDone, 0
	})

	r := New("GET", "/", "HTTP/1.1", "127.0.0.1:1", make(http.Header))
	e.Run(r)

	require.True(t, r.Finalized())
	assert.Equal(t, http.StatusForbidden, r.Status)
	assert.True(t, r.Errored())
}

func TestEngine_InternalRedirectBoundsRecursion(t *testing.T) {
	e := NewEngine()
	e.maxInternalRedirects = 2
	e.Register(PhaseServerRewrite, func(r *Request) (Result, int) {
		e.InternalRedirect(r, r.URI+"x")
		return ResultAgain, 0
	})
	e.SetContentHandler(func(r *Request) (Result, int) {
		t.Fatal("content handler should not run")
		return ResultDone, 0
	})

	r := New("GET", "/", "HTTP/1.1", "127.0.0.1:1", make(http.Header))
	e.Run(r)

	require.True(t, r.Finalized())
	assert.Equal(t, 500, r.Status)
}

func TestRequest_FinalizeRunsCleanupsLIFO(t *testing.T) {
	r := New("GET", "/", "HTTP/1.1", "127.0.0.1:1", make(http.Header))
	var order []int
	r.AddCleanup(func() { order = append(order, 1) })
	r.AddCleanup(func() { order = append(order, 2) })
	r.AddCleanup(func() { order = append(order, 3) })

	r.Finalize(http.StatusOK)
	r.Finalize(http.StatusNotFound) // idempotent, second call must not run cleanups again

	assert.Equal(t, []int{3, 2, 1}, order)
	assert.Equal(t, http.StatusOK, r.Status)
}
