package master

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// unixSocketpair creates a connected AF_UNIX SOCK_STREAM pair and wraps
// both ends as *os.File, suitable for one end to be handed to a child via
// os/exec.Cmd.ExtraFiles.
func unixSocketpair() (*os.File, *os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, err
	}
	return os.NewFile(uintptr(fds[0]), "channel"), os.NewFile(uintptr(fds[1]), "channel"), nil
}

// fileConn promotes a raw socket *os.File to a net.Conn and closes the
// *os.File handle (net.FileConn dup's the descriptor).
func fileConn(f *os.File) (net.Conn, error) {
	conn, err := net.FileConn(f)
	if err != nil {
		return nil, err
	}
	_ = f.Close()
	return conn, nil
}

// ParseFDList parses the "fd;fd;fd;" format used both for inherited
// listening sockets and for the sibling peer
// channel mesh (PeerFDsEnv).
func ParseFDList(s string) []int {
	var out []int
	for _, tok := range strings.Split(s, ";") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if n, err := strconv.Atoi(tok); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// OpenChannelFromEnv reconstructs this worker's master channel from the fd
// named by ChannelFDEnv, set by the master at spawn time.
func OpenChannelFromEnv() (*Channel, error) {
	v := os.Getenv(ChannelFDEnv)
	if v == "" {
		return nil, fmt.Errorf("master: %s not set; not running as a worker", ChannelFDEnv)
	}
	fd, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("master: invalid %s: %w", ChannelFDEnv, err)
	}
	conn, err := fileConn(os.NewFile(uintptr(fd), "channel"))
	if err != nil {
		return nil, err
	}
	return NewChannel(conn), nil
}

// OpenPeersFromEnv reconstructs this worker's direct sibling channels
// from PeerFDsEnv, completing the channel mesh.
func OpenPeersFromEnv() ([]*Channel, error) {
	fds := ParseFDList(os.Getenv(PeerFDsEnv))
	out := make([]*Channel, 0, len(fds))
	for _, fd := range fds {
		conn, err := fileConn(os.NewFile(uintptr(fd), "peer"))
		if err != nil {
			return nil, err
		}
		out = append(out, NewChannel(conn))
	}
	return out, nil
}

// OpenListenersFromEnv reconstructs every inherited listening socket named
// by ListenFDsEnv.
func OpenListenersFromEnv() ([]net.Listener, error) {
	fds := ParseFDList(os.Getenv(ListenFDsEnv))
	out := make([]net.Listener, 0, len(fds))
	for _, fd := range fds {
		ln, err := net.FileListener(os.NewFile(uintptr(fd), "listener"))
		if err != nil {
			return nil, err
		}
		out = append(out, ln)
	}
	return out, nil
}

// IsWorker reports whether this process was execed by a Master as a
// worker (RoleEnv == RoleWorker).
func IsWorker() bool { return os.Getenv(RoleEnv) == RoleWorker }
