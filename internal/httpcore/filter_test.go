package httpcore

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterChain_HeadersRunLastRegisteredFirst(t *testing.T) {
	c := NewFilterChain()
	var order []string
	c.RegisterHeaderFilter(func(r *Request) error {
		order = append(order, "a")
		return nil
	})
	c.RegisterHeaderFilter(func(r *Request) error {
		order = append(order, "b")
		return nil
	})

	r := New("GET", "/", "HTTP/1.1", "127.0.0.1:1", make(http.Header))
	require.NoError(t, c.RunHeaders(r))
	assert.Equal(t, []string{"b", "a"}, order)
}

func TestFilterChain_HeaderErrorStopsChain(t *testing.T) {
	c := NewFilterChain()
	var ran bool
	c.RegisterHeaderFilter(func(r *Request) error {
		ran = true
		return nil
	})
	c.RegisterHeaderFilter(func(r *Request) error { return fmt.Errorf("boom") })

	r := New("GET", "/", "HTTP/1.1", "127.0.0.1:1", make(http.Header))
	err := c.RunHeaders(r)
	require.Error(t, err)
	assert.False(t, ran)
}

func TestFilterChain_BodyFiltersChainOutputs(t *testing.T) {
	c := NewFilterChain()
	c.RegisterBodyFilter(func(r *Request, chunk []byte, last bool) ([]byte, error) {
		return append(chunk, '!'), nil
	})
	c.RegisterBodyFilter(func(r *Request, chunk []byte, last bool) ([]byte, error) {
		return append([]byte(">"), chunk...), nil
	})

	r := New("GET", "/", "HTTP/1.1", "127.0.0.1:1", make(http.Header))
	out, err := c.RunBody(r, []byte("x"), true)
	require.NoError(t, err)
	assert.Equal(t, ">x!", string(out))
}

func TestEngineFinalizeDrivesFilterChain(t *testing.T) {
	e := NewEngine()
	e.Filters().RegisterHeaderFilter(func(r *Request) error {
		r.RespHeader.Set("X-Filtered", "yes")
		return nil
	})
	e.Filters().RegisterBodyFilter(func(r *Request, chunk []byte, last bool) ([]byte, error) {
		return append(chunk, " world"...), nil
	})
	e.SetContentHandler(func(r *Request) (Result, int) {
		r.SetVar("return_body", "hello")
		r.Finalize(http.StatusOK)
		return ResultDone, 0
	})

	rec := httptest.NewRecorder()
	r := New("GET", "/", "HTTP/1.1", "127.0.0.1:1", make(http.Header))
	r.Writer = rec
	e.Run(r)

	require.True(t, r.Finalized())
	assert.Equal(t, "yes", rec.Header().Get("X-Filtered"))
	assert.Equal(t, "hello world", rec.Body.String())
}

func TestEngineFinalizeHeaderFilterFailureIs500(t *testing.T) {
	e := NewEngine()
	e.Filters().RegisterHeaderFilter(func(r *Request) error {
		return fmt.Errorf("filter exploded")
	})
	e.SetContentHandler(func(r *Request) (Result, int) {
		r.Finalize(http.StatusOK)
		return ResultDone, 0
	})

	rec := httptest.NewRecorder()
	r := New("GET", "/", "HTTP/1.1", "127.0.0.1:1", make(http.Header))
	r.Writer = rec
	e.Run(r)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, r.Errored())
}
