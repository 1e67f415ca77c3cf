package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second

	assert.Equal(t, time.Duration(0), ExponentialBackoff(0, base, max, 0))
	assert.Equal(t, base, ExponentialBackoff(1, base, max, 0))
	assert.Equal(t, 2*base, ExponentialBackoff(2, base, max, 0))
	assert.Equal(t, max, ExponentialBackoff(10, base, max, 0), "capped at maxDelay")
}

func TestEndpointBackoffCaps(t *testing.T) {
	assert.Equal(t, 5*time.Second, EndpointBackoff(5*time.Second, 0))
	assert.Equal(t, 20*time.Second, EndpointBackoff(5*time.Second, 4))
	assert.Equal(t, 60*time.Second, EndpointBackoff(10*time.Second, 100))
}

func TestGetClientIPDirect(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.7:4711"
	r.Header.Set("X-Forwarded-For", "203.0.113.9")

	assert.Equal(t, "192.0.2.7", GetClientIP(r, false, nil),
		"forwarding headers ignored when proxy headers are untrusted")
}

func TestGetClientIPTrustedProxy(t *testing.T) {
	cidrs, err := ParseTrustedCIDRs([]string{"192.0.2.0/24"})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.7:4711"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 192.0.2.7")

	assert.Equal(t, "203.0.113.9", GetClientIP(r, true, cidrs))

	// A peer outside the trusted range cannot spoof via headers.
	r.RemoteAddr = "198.51.100.1:4711"
	assert.Equal(t, "198.51.100.1", GetClientIP(r, true, cidrs))
}

func TestParseTrustedCIDRsRejectsJunk(t *testing.T) {
	_, err := ParseTrustedCIDRs([]string{"not-a-cidr"})
	require.Error(t, err)
}

func TestJoinURLPath(t *testing.T) {
	tests := []struct {
		base, path, want string
	}{
		{"http://b/api/", "/v1/x", "http://b/api/v1/x"},
		{"http://b/api", "v1/x", "http://b/api/v1/x"},
		{"http://b/api/", "v1/x", "http://b/api/v1/x"},
		{"", "/v1/x", "/v1/x"},
		{"http://b", "", "http://b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, JoinURLPath(tt.base, tt.path))
	}
}

func TestGenerateRequestIDUnique(t *testing.T) {
	a, b := GenerateRequestID(), GenerateRequestID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
