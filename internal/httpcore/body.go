package httpcore

import (
	"io"
	"os"
)

// BodySpoolThreshold is the point past which ReadBody switches from an
// in-memory buffer to a temp file.
const BodySpoolThreshold = 1 << 20 // 1 MiB

// ReadBody implements the lazy-body-read contract: the first call
// schedules the read against src and returns (nil, ResultAgain) so the
// caller's handler re-enters later; once the read completes, every call
// returns the buffered bytes (or an open *os.File positioned at 0 for a
// spooled body) immediately with ResultOK.
func (r *Request) ReadBody(src io.Reader) ([]byte, *os.File, Result) {
	if r.Body.ReadCalled {
		return r.bodyReady(src)
	}
	r.Body.ReadCalled = true
	go r.spoolBody(src)
	return nil, nil, ResultAgain
}

func (r *Request) bodyReady(src io.Reader) ([]byte, *os.File, Result) {
	if !r.Body.done.Load() {
		return nil, nil, ResultAgain
	}
	if r.Body.Buffered {
		return r.Body.Body, nil, ResultOK
	}
	f, err := os.Open(r.Body.TempFile)
	if err != nil {
		return nil, nil, ResultOK
	}
	return nil, f, ResultOK
}

// spoolBody drains src into memory up to BodySpoolThreshold, falling back
// to a temp file for anything larger, then marks the body ready for the
// handler's next re-entry.
func (r *Request) spoolBody(src io.Reader) {
	limit := r.Body.MaxBytes
	if limit <= 0 {
		limit = BodySpoolThreshold * 8
	}

	limited := io.LimitReader(src, limit+1)
	buf := make([]byte, 0, BodySpoolThreshold)
	chunk := make([]byte, 32*1024)
	spooling := false
	var tmp *os.File

	for {
		n, err := limited.Read(chunk)
		if n > 0 {
			if !spooling && len(buf)+n > BodySpoolThreshold {
				f, terr := os.CreateTemp("", "ember-body-*")
				if terr == nil {
					tmp = f
					_, _ = tmp.Write(buf)
					spooling = true
				}
			}
			if spooling {
				_, _ = tmp.Write(chunk[:n])
			} else {
				buf = append(buf, chunk[:n]...)
			}
		}
		if err != nil {
			break
		}
	}

	if spooling {
		_, _ = tmp.Seek(0, io.SeekStart)
		r.Body.TempFile = tmp.Name()
		tmp.Close()
		r.AddCleanup(func() { os.Remove(r.Body.TempFile) })
	} else {
		r.Body.Buffered = true
		r.Body.Body = buf
	}
	r.Body.done.Store(true)
}
