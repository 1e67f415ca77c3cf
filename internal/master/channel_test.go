package master

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func channelPair(t *testing.T) (*Channel, *Channel) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return NewChannel(a), NewChannel(b)
}

func TestChannelCommandRoundTrip(t *testing.T) {
	m, w := channelPair(t)

	go func() {
		_ = m.Send(Command{Kind: CmdGraceful})
		_ = m.Send(Command{Kind: CmdOpenChannel, PeerPid: 4711})
	}()

	cmd, err := w.Recv()
	require.NoError(t, err)
	assert.Equal(t, CmdGraceful, cmd.Kind)

	cmd, err = w.Recv()
	require.NoError(t, err)
	assert.Equal(t, CmdOpenChannel, cmd.Kind)
	assert.Equal(t, int32(4711), cmd.PeerPid)
}

func TestChannelCacheNotifyCarriesPayload(t *testing.T) {
	m, w := channelPair(t)

	go func() {
		_ = m.Send(Command{Kind: CmdCacheNotify, Payload: []byte("purge:GET a /x")})
	}()

	cmd, err := w.Recv()
	require.NoError(t, err)
	assert.Equal(t, CmdCacheNotify, cmd.Kind)
	assert.Equal(t, "purge:GET a /x", string(cmd.Payload))
}

func TestChannelRecvFailsAfterClose(t *testing.T) {
	m, w := channelPair(t)
	require.NoError(t, m.Close())

	_, err := w.Recv()
	require.Error(t, err)
}

func TestCommandKindStrings(t *testing.T) {
	assert.Equal(t, "quit", CmdQuit.String())
	assert.Equal(t, "reopen", CmdReopen.String())
	assert.Equal(t, "cache-notify", CmdCacheNotify.String())
	assert.Contains(t, CommandKind(99).String(), "unknown")
}

func TestParseFDList(t *testing.T) {
	assert.Equal(t, []int{3, 4, 5}, ParseFDList("3;4;5;"))
	assert.Equal(t, []int{7}, ParseFDList("7"))
	assert.Empty(t, ParseFDList(""))
	assert.Equal(t, []int{3, 5}, ParseFDList("3;junk;5"))
}

func TestPidFileRoundTripAndOldbin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "emberd.pid")

	require.NoError(t, WritePidFile(path, 12345))
	pid, err := ReadPidFile(path)
	require.NoError(t, err)
	assert.Equal(t, 12345, pid)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "12345\n", string(raw))

	require.NoError(t, RenameToOldbin(path))
	_, err = ReadPidFile(path)
	require.Error(t, err, "canonical path freed for the new master")

	require.NoError(t, RestoreFromOldbin(path))
	pid, err = ReadPidFile(path)
	require.NoError(t, err)
	assert.Equal(t, 12345, pid)
}
