package core

import (
	"context"
	"errors"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseRetryPolicyDefault(t *testing.T) {
	p := ParseRetryPolicy(nil, 3, 0)
	assert.True(t, p.OnError)
	assert.True(t, p.OnTimeout)
	assert.Equal(t, 3, p.Tries)
	assert.False(t, p.RetriableStatus(502))
}

func TestParseRetryPolicyTokens(t *testing.T) {
	p := ParseRetryPolicy([]string{"error", "http_502", "http_504", "non_idempotent"}, 2, 10*time.Second)

	assert.True(t, p.OnError)
	assert.False(t, p.OnTimeout)
	assert.True(t, p.RetriableStatus(502))
	assert.True(t, p.RetriableStatus(504))
	assert.False(t, p.RetriableStatus(500))
	assert.True(t, p.MethodAllowed("POST"))
	assert.Equal(t, 10*time.Second, p.Timeout)
}

func TestParseRetryPolicyOff(t *testing.T) {
	p := ParseRetryPolicy([]string{"off"}, 5, 0)
	assert.Equal(t, 1, p.Tries)
	assert.False(t, p.OnError)
}

func TestMethodAllowedDefaultsToIdempotentOnly(t *testing.T) {
	p := DefaultRetryPolicy(3)
	assert.True(t, p.MethodAllowed("GET"))
	assert.True(t, p.MethodAllowed("DELETE"))
	assert.False(t, p.MethodAllowed("POST"))
}

func TestRetriableErrorClassification(t *testing.T) {
	p := DefaultRetryPolicy(3)

	assert.True(t, p.RetriableError(syscall.ECONNREFUSED))
	assert.True(t, p.RetriableError(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.True(t, p.RetriableError(context.DeadlineExceeded))
	assert.False(t, p.RetriableError(nil))
	assert.False(t, p.RetriableError(errors.New("handler exploded")))
}

func TestIsTimeoutError(t *testing.T) {
	assert.True(t, IsTimeoutError(context.DeadlineExceeded))
	assert.False(t, IsTimeoutError(syscall.ECONNRESET))
	assert.False(t, IsTimeoutError(nil))
}
