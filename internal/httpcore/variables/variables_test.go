package variables

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSource struct {
	host, uri, remote, status, upAddr, upStatus string
}

func (f fakeSource) Host() string           { return f.host }
func (f fakeSource) URI() string            { return f.uri }
func (f fakeSource) RemoteAddr() string     { return f.remote }
func (f fakeSource) Status() string         { return f.status }
func (f fakeSource) UpstreamAddr() string   { return f.upAddr }
func (f fakeSource) UpstreamStatus() string { return f.upStatus }

func TestInterpolate_BracedAndBareNames(t *testing.T) {
	src := fakeSource{host: "example.com", uri: "/a/b", remote: "10.0.0.1", status: "200"}

	assert.Equal(t, "example.com/a/b", Interpolate("${host}$uri", src))
	assert.Equal(t, "client=10.0.0.1 status=200", Interpolate("client=$remote_addr status=${status}", src))
}

func TestInterpolate_UnknownNameLeftVerbatim(t *testing.T) {
	src := fakeSource{}
	assert.Equal(t, "$nope stays", Interpolate("$nope stays", src))
}

func TestInterpolate_UpstreamVars(t *testing.T) {
	src := fakeSource{upAddr: "10.0.0.5:8080", upStatus: "502"}
	assert.Equal(t, "10.0.0.5:8080 502", Interpolate("$upstream_addr $upstream_status", src))
}

func TestHasReference(t *testing.T) {
	assert.True(t, HasReference("$host/x"))
	assert.False(t, HasReference("/static/path"))
}
