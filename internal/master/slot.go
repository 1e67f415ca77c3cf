// Package master implements process supervision for the fixed pool of
// worker processes: signal handling, the channel IPC
// protocol, listening-socket inheritance across generations, and
// hot reload / binary upgrade. Listener inheritance and the binary-upgrade
// exec itself are delegated to github.com/cloudflare/tableflip; the
// per-worker process pool, slot bookkeeping and channel mesh are built on
// top of it with raw socketpair/exec mechanics, which tableflip's own
// single-process model doesn't provide.
package master

import (
	"os/exec"
	"time"
)

// State is a worker's lifecycle state.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateJustSpawn
	StateGracefulShutdown
	StateFastShutdown
	StateReopenLogs
	StateReconfigure
	StateExited
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateJustSpawn:
		return "just_spawn"
	case StateGracefulShutdown:
		return "graceful_shutdown"
	case StateFastShutdown:
		return "fast_shutdown"
	case StateReopenLogs:
		return "reopen_logs"
	case StateReconfigure:
		return "reconfigure"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Slot is the master's one-per-worker bookkeeping record: pid, channel
// socket, exit status, state flags.
type Slot struct {
	Generation int
	Pid        int
	Cmd        *exec.Cmd
	Channel    *Channel
	State      State
	Respawn    bool // respawn on unexpected exit
	StartedAt  time.Time
	ExitErr    error
}

func (s *Slot) isTerminal() bool {
	return s.State == StateExited
}
