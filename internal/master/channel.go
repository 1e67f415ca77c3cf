package master

import (
	"encoding/binary"
	"fmt"
	"net"
)

// CommandKind is one master->worker (or worker->worker) channel message:
// open-channel, close-channel, quit, terminate, reopen, plus the sibling
// cache notification.
type CommandKind byte

const (
	CmdOpenChannel CommandKind = iota + 1
	CmdCloseChannel
	CmdQuit
	CmdTerminate
	CmdReopen
	CmdGraceful

	// CmdCacheNotify carries a worker->worker cache event ("fill:<key>"
	// or "purge:<key>") across the sibling mesh; the int32 field holds
	// the payload length instead of a pid.
	CmdCacheNotify
)

// Command is one message on the channel wire: a one-byte kind plus an
// optional int32 payload (a peer pid for OpenChannel/CloseChannel, a
// byte count for CacheNotify).
type Command struct {
	Kind    CommandKind
	PeerPid int32
	Payload []byte
}

// Channel wraps a socketpair endpoint (net.UnixConn on one end of
// unix.Socketpair) with the master<->worker command framing.
type Channel struct {
	conn net.Conn
}

// NewChannel wraps an established connection (one half of a socketpair).
func NewChannel(conn net.Conn) *Channel { return &Channel{conn: conn} }

// Send writes one Command: a 5-byte frame (1 byte kind, 4 bytes
// big-endian peer pid or payload length), followed by the payload bytes
// for CacheNotify. Simple enough that both ends decode it without a
// shared schema library.
func (c *Channel) Send(cmd Command) error {
	var buf [5]byte
	buf[0] = byte(cmd.Kind)
	if cmd.Kind == CmdCacheNotify {
		binary.BigEndian.PutUint32(buf[1:], uint32(len(cmd.Payload)))
		if _, err := c.conn.Write(buf[:]); err != nil {
			return err
		}
		_, err := c.conn.Write(cmd.Payload)
		return err
	}
	binary.BigEndian.PutUint32(buf[1:], uint32(cmd.PeerPid))
	_, err := c.conn.Write(buf[:])
	return err
}

// maxNotifyPayload bounds a CacheNotify frame so a corrupt length field
// cannot make Recv allocate unboundedly.
const maxNotifyPayload = 64 * 1024

// Recv blocks for the next Command on the channel.
func (c *Channel) Recv() (Command, error) {
	var buf [5]byte
	if _, err := readFull(c.conn, buf[:]); err != nil {
		return Command{}, err
	}
	kind := CommandKind(buf[0])
	n := binary.BigEndian.Uint32(buf[1:])
	if kind == CmdCacheNotify {
		if n > maxNotifyPayload {
			return Command{}, fmt.Errorf("cache notify payload too large: %d", n)
		}
		payload := make([]byte, n)
		if _, err := readFull(c.conn, payload); err != nil {
			return Command{}, err
		}
		return Command{Kind: kind, Payload: payload}, nil
	}
	return Command{Kind: kind, PeerPid: int32(n)}, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Close closes the underlying socketpair endpoint.
func (c *Channel) Close() error { return c.conn.Close() }

func (k CommandKind) String() string {
	switch k {
	case CmdOpenChannel:
		return "open-channel"
	case CmdCloseChannel:
		return "close-channel"
	case CmdQuit:
		return "quit"
	case CmdTerminate:
		return "terminate"
	case CmdReopen:
		return "reopen"
	case CmdGraceful:
		return "graceful"
	case CmdCacheNotify:
		return "cache-notify"
	default:
		return fmt.Sprintf("unknown(%d)", byte(k))
	}
}
