package directive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_SimpleAndBlockDirectives(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "emberd.conf")
	require.NoError(t, os.WriteFile(conf, []byte(`
# comment
worker_processes 4;
http {
    server {
        listen 8080;
        location / {
            return 204;
        }
    }
}
`), 0o644))

	root, err := NewParser(dir).ParseFile(conf)
	require.NoError(t, err)

	wp := root.Find("worker_processes")
	require.NotNil(t, wp)
	assert.Equal(t, []string{"4"}, wp.Args)

	httpBlock := root.Find("http")
	require.NotNil(t, httpBlock)
	server := httpBlock.Find("server")
	require.NotNil(t, server)
	listen := server.Find("listen")
	require.NotNil(t, listen)
	assert.Equal(t, []string{"8080"}, listen.Args)

	loc := server.Find("location")
	require.NotNil(t, loc)
	assert.Equal(t, []string{"/"}, loc.Args)
	ret := loc.Find("return")
	require.NotNil(t, ret)
	assert.Equal(t, []string{"204"}, ret.Args)
}

func TestParser_QuotedStringsAndEscapes(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "emberd.conf")
	require.NoError(t, os.WriteFile(conf, []byte(`
log_format custom "a \"quoted\" value\twith tab";
`), 0o644))

	root, err := NewParser(dir).ParseFile(conf)
	require.NoError(t, err)
	lf := root.Find("log_format")
	require.NotNil(t, lf)
	require.Len(t, lf.Args, 2)
	assert.Equal(t, "a \"quoted\" value\twith tab", lf.Args[1])
}

func TestParser_IncludeGlobIsOrderPreserving(t *testing.T) {
	dir := t.TempDir()
	confD := filepath.Join(dir, "conf.d")
	require.NoError(t, os.Mkdir(confD, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(confD, "a.conf"), []byte("server_name a;\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(confD, "b.conf"), []byte("server_name b;\n"), 0o644))

	conf := filepath.Join(dir, "emberd.conf")
	require.NoError(t, os.WriteFile(conf, []byte(`
server_name first;
include conf.d/*.conf;
server_name last;
`), 0o644))

	root, err := NewParser(dir).ParseFile(conf)
	require.NoError(t, err)

	names := root.FindAll("server_name")
	require.Len(t, names, 4)
	assert.Equal(t, "first", names[0].Args[0])
	assert.Equal(t, "a", names[1].Args[0])
	assert.Equal(t, "b", names[2].Args[0])
	assert.Equal(t, "last", names[3].Args[0])
}

func TestParser_IncludeGlobWithNoMatchesIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "emberd.conf")
	require.NoError(t, os.WriteFile(conf, []byte(`
worker_processes 1;
include conf.d/*.conf;
`), 0o644))

	_, err := NewParser(dir).ParseFile(conf)
	// No matches from a glob is not an error (nginx treats it the same).
	require.NoError(t, err)
}

func TestParser_UnterminatedDirectiveReportsFileAndLine(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "bad.conf")
	require.NoError(t, os.WriteFile(conf, []byte("worker_processes 1\n"), 0o644))

	_, err := NewParser(dir).ParseFile(conf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.conf:1:")
}

func TestDump_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "emberd.conf")
	original := `worker_processes 4;
http {
    server {
        listen 8080;
    }
}
`
	require.NoError(t, os.WriteFile(conf, []byte(original), 0o644))

	root, err := NewParser(dir).ParseFile(conf)
	require.NoError(t, err)
	dumped := Dump(root)

	dumpedPath := filepath.Join(dir, "dumped.conf")
	require.NoError(t, os.WriteFile(dumpedPath, []byte(dumped), 0o644))
	root2, err := NewParser(dir).ParseFile(dumpedPath)
	require.NoError(t, err)

	assert.Equal(t, Dump(root), Dump(root2))
}

func TestDispatcher_UnknownDirectiveErrors(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "emberd.conf")
	require.NoError(t, os.WriteFile(conf, []byte("mystery_directive 1;\n"), 0o644))

	root, err := NewParser(dir).ParseFile(conf)
	require.NoError(t, err)

	d := NewDispatcher()
	d.Register("worker_processes", func(n *Node) error { return nil })
	err = d.Dispatch(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mystery_directive")
}
