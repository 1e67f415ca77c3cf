// Package spooled is the buffered relay engine. Its Pipe decouples
// upstream speed from client speed: upstream bytes land in a bounded set
// of in-memory buffers and, once those are all busy, spill to a
// temp file; the client side drains the memory buffers first and then
// streams the file. A fast backend can therefore finish (and be freed)
// while a slow client is still being fed from disk.
package spooled

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/emberproxy/ember/internal/adapter/proxy/core"
)

type PipeConfig struct {
	ReadSize     int   // one upstream read, also the buffer size
	BusyBuffers  int   // in-memory chunks allowed to sit unsent
	MaxSpoolSize int64 // temp-file cap; reads throttle when reached
	SpoolDir     string
}

// Pipe runs one relay. It is single-use.
type Pipe struct {
	cfg PipeConfig

	chunks chan []byte // filled, in order, phase 1
	free   chan []byte

	spool        *os.File
	spoolWritten atomic.Int64
	spoolRead    atomic.Int64

	readerDone chan error
}

func NewPipe(cfg PipeConfig) *Pipe {
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = 64 * 1024
	}
	if cfg.BusyBuffers <= 0 {
		cfg.BusyBuffers = 8
	}
	p := &Pipe{
		cfg:        cfg,
		chunks:     make(chan []byte, cfg.BusyBuffers),
		free:       make(chan []byte, cfg.BusyBuffers+1),
		readerDone: make(chan error, 1),
	}
	for i := 0; i < cfg.BusyBuffers+1; i++ {
		p.free <- make([]byte, cfg.ReadSize)
	}
	return p
}

// Run pumps src to dst until EOF or error. Returns bytes delivered to
// dst. The temp file, if one was needed, is removed before returning.
func (p *Pipe) Run(ctx context.Context, src io.Reader, dst io.Writer, flusher core.Flusher) (int64, error) {
	go p.fill(ctx, src)
	defer p.cleanup()

	var total int64

	// Phase 1: relay in-memory chunks. The channel closes when the
	// reader finishes or switches to the spool file.
	for chunk := range p.chunks {
		n, err := dst.Write(chunk)
		total += int64(n)
		select {
		case p.free <- chunk[:cap(chunk)]:
		default:
		}
		if err != nil {
			// unblock the reader (recycling its buffers) before reporting
			go func() {
				for c := range p.chunks {
					select {
					case p.free <- c[:cap(c)]:
					default:
					}
				}
			}()
			<-p.readerDone
			return total, err
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	// Phase 2: the reader spilled to disk; tail the file until the
	// reader is done and every spooled byte has been relayed.
	if p.spool != nil {
		n, err := p.drainSpool(ctx, dst, flusher)
		total += n
		if err != nil {
			<-p.readerDone
			return total, err
		}
	}

	return total, <-p.readerDone
}

// fill is the upstream side: read into free buffers while the chunk
// queue accepts them, then spill everything else to the temp file.
func (p *Pipe) fill(ctx context.Context, src io.Reader) {
	spilling := false
	for {
		if err := ctx.Err(); err != nil {
			p.finishFill(err)
			return
		}

		var buf []byte
		if !spilling {
			select {
			case buf = <-p.free:
			case <-ctx.Done():
				p.finishFill(ctx.Err())
				return
			}
		} else {
			buf = make([]byte, p.cfg.ReadSize)
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if !spilling {
				select {
				case p.chunks <- buf[:n]:
				default:
					// every buffer is busy: switch to the spool file
					// for the rest of the response
					if err := p.openSpool(); err != nil {
						p.finishFill(err)
						return
					}
					spilling = true
					close(p.chunks)
					if err := p.spoolChunk(ctx, buf[:n]); err != nil {
						p.finishFill(err)
						return
					}
				}
			} else {
				if err := p.spoolChunk(ctx, buf[:n]); err != nil {
					p.finishFill(err)
					return
				}
			}
		}
		if readErr == io.EOF {
			// a cancelled relay reports the cancellation, not a clean EOF
			p.finishFill(ctx.Err())
			return
		}
		if readErr != nil {
			p.finishFill(readErr)
			return
		}
	}
}

func (p *Pipe) finishFill(err error) {
	if p.spool == nil {
		// chunks may already be closed if spilling began and then failed
		defer func() { _ = recover() }()
		p.readerDone <- err
		close(p.chunks)
		return
	}
	p.readerDone <- err
}

func (p *Pipe) openSpool() error {
	f, err := os.CreateTemp(p.cfg.SpoolDir, "ember-spool-*")
	if err != nil {
		return fmt.Errorf("creating spool file: %w", err)
	}
	p.spool = f
	return nil
}

// spoolChunk appends to the temp file, throttling when the file is at
// its size cap until the client side catches up.
func (p *Pipe) spoolChunk(ctx context.Context, chunk []byte) error {
	for p.cfg.MaxSpoolSize > 0 &&
		p.spoolWritten.Load()-p.spoolRead.Load()+int64(len(chunk)) > p.cfg.MaxSpoolSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		time.Sleep(5 * time.Millisecond)
	}
	n, err := p.spool.WriteAt(chunk, p.spoolWritten.Load())
	p.spoolWritten.Add(int64(n))
	if err != nil {
		return fmt.Errorf("writing spool file: %w", err)
	}
	return nil
}

// drainSpool tails the temp file until the reader has finished and
// every byte is relayed.
func (p *Pipe) drainSpool(ctx context.Context, dst io.Writer, flusher core.Flusher) (int64, error) {
	var total int64
	buf := make([]byte, p.cfg.ReadSize)
	readerFinished := false

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		offset := p.spoolRead.Load()
		available := p.spoolWritten.Load() - offset
		if available == 0 {
			if readerFinished {
				return total, nil
			}
			select {
			case err := <-p.readerDone:
				// repost for Run's final receive
				p.readerDone <- err
				if err != nil {
					return total, nil
				}
				readerFinished = true
			case <-time.After(2 * time.Millisecond):
			}
			continue
		}

		n := int64(len(buf))
		if n > available {
			n = available
		}
		read, err := p.spool.ReadAt(buf[:n], offset)
		if read > 0 {
			written, werr := dst.Write(buf[:read])
			total += int64(written)
			p.spoolRead.Add(int64(written))
			if werr != nil {
				return total, werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil && err != io.EOF {
			return total, err
		}
	}
}

func (p *Pipe) cleanup() {
	if p.spool != nil {
		name := p.spool.Name()
		_ = p.spool.Close()
		_ = os.Remove(name)
	}
}
