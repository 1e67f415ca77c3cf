package core

import (
	"context"
	"fmt"
	"io"
	"time"
)

type readResult struct {
	n   int
	err error
}

// TimedReader wraps an upstream body so every Read carries its own
// inter-chunk timeout: a backend that stalls mid-body is cut off instead
// of pinning the relay forever.
type TimedReader struct {
	src     io.Reader
	timeout time.Duration
	results chan readResult
	buf     []byte
	pending bool
}

func NewTimedReader(src io.Reader, timeout time.Duration) *TimedReader {
	return &TimedReader{
		src:     src,
		timeout: timeout,
		results: make(chan readResult, 1),
	}
}

// Read satisfies io.Reader. The underlying read runs in a goroutine; if
// it outlives the timeout the TimedReader reports a timeout while the
// stale read is left to finish into a discarded buffer.
func (tr *TimedReader) Read(p []byte) (int, error) {
	if !tr.pending {
		tr.buf = p
		tr.pending = true
		go func(dst []byte) {
			n, err := tr.src.Read(dst)
			tr.results <- readResult{n: n, err: err}
		}(p)
	}

	timer := time.NewTimer(tr.timeout)
	defer timer.Stop()

	select {
	case res := <-tr.results:
		tr.pending = false
		return res.n, res.err
	case <-timer.C:
		return 0, fmt.Errorf("upstream read stalled for %s: %w", tr.timeout, context.DeadlineExceeded)
	}
}

// Flusher is the slice of http.Flusher the copy loop needs.
type Flusher interface {
	Flush()
}

// CopyWithFlush pumps src to dst through buf, flushing after every chunk
// so streamed responses reach the client promptly. Returns bytes copied.
func CopyWithFlush(ctx context.Context, dst io.Writer, src io.Reader, buf []byte, flusher Flusher) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			written, writeErr := dst.Write(buf[:n])
			total += int64(written)
			if writeErr != nil {
				return total, writeErr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}
