// Package pipe provides a bounded, in-memory, single-writer/single-reader
// byte conduit with explicit consumed/examined reader semantics.
//
// It is the primitive the channel package uses for both the inbound and
// outbound direction of a duplex channel: a fill loop (or a sender) commits
// bytes through a Writer, and a parser driver (or a send loop) observes them
// through a Reader without copying, advancing past exactly the bytes it has
// actually processed while remembering how far it has already looked ahead.
package pipe

import (
	"context"
	"errors"
	"sync"

	"code.hybscloud.com/iox"
)

// ErrReaderCompleted is returned by Flush when the reader side of the pipe
// has already completed; writers should treat this the same way the fill
// loop treats end-of-stream on the peer side.
var ErrReaderCompleted = errors.New("pipe: reader completed")

// ErrWriterCompleted is returned by Reserve once the writer side has
// already been completed.
var ErrWriterCompleted = errors.New("pipe: writer completed")

// ErrWouldBlock is re-exported from iox: Flush returns it
// in non-blocking mode when the bounded buffer has no spare capacity.
var ErrWouldBlock = iox.ErrWouldBlock

// ReadResult is returned by Reader.Read.
type ReadResult struct {
	// Buffer is the unconsumed region of the pipe, valid until the next call
	// to Read or AdvanceTo. It must not be retained past that call.
	Buffer []byte
	// Completed reports that the writer side has completed; Buffer may still
	// hold unconsumed bytes written before completion.
	Completed bool
	// Canceled reports that CancelPending unblocked this Read; Buffer is
	// always empty in that case.
	Canceled bool
}

// Options configures a Pipe.
type Options struct {
	// Capacity bounds the number of unconsumed bytes the pipe will buffer
	// before a writer is made to wait (or, in NonBlock mode, told to retry).
	// Zero means unbounded.
	Capacity int
	// NonBlock makes Flush return ErrWouldBlock instead of blocking when
	// the pipe is at capacity.
	NonBlock bool
}

// Pipe is the shared state behind a Reader/Writer pair. Use New to obtain
// both ends.
type Pipe struct {
	mu sync.Mutex

	opts Options

	store []byte // store[0:] holds bytes in [consumedAbs, consumedAbs+len(store))

	consumedAbs int64
	examinedAbs int64
	writtenAbs  int64

	writerDone bool
	writerErr  error
	readerDone bool
	readerErr  error

	readerCanceled bool

	readerWake chan struct{}
	writerWake chan struct{}
}

// New returns a connected Reader/Writer pair.
func New(opts Options) (*Reader, *Writer) {
	p := &Pipe{
		opts:       opts,
		readerWake: make(chan struct{}),
		writerWake: make(chan struct{}),
	}
	return &Reader{p: p}, &Writer{p: p}
}

func (p *Pipe) wakeReaderLocked() {
	close(p.readerWake)
	p.readerWake = make(chan struct{})
}

func (p *Pipe) wakeWriterLocked() {
	close(p.writerWake)
	p.writerWake = make(chan struct{})
}

// Reader is the consumer side of a Pipe.
type Reader struct {
	p *Pipe
}

// Read awaits a non-empty unconsumed region, writer completion, or
// cancellation via CancelPending. It never returns an error except ctx's.
func (r *Reader) Read(ctx context.Context) (ReadResult, error) {
	p := r.p
	p.mu.Lock()
	for {
		if p.readerCanceled {
			p.readerCanceled = false
			p.mu.Unlock()
			return ReadResult{Canceled: true}, nil
		}
		if p.writtenAbs > p.examinedAbs || (p.writerDone && len(p.store) > 0) {
			res := ReadResult{Buffer: p.store, Completed: p.writerDone}
			p.mu.Unlock()
			return res, nil
		}
		if p.writerDone {
			p.mu.Unlock()
			return ReadResult{Completed: true}, nil
		}
		wake := p.readerWake
		p.mu.Unlock()
		select {
		case <-wake:
		case <-ctx.Done():
			return ReadResult{}, ctx.Err()
		}
		p.mu.Lock()
	}
}

// AdvanceTo reports how much of the last ReadResult.Buffer was consumed
// (fully processed, discarded from the pipe) and examined (looked at, but
// the reader wants to be woken again only once bytes past this point
// arrive). It panics if examined < consumed, per the pipe invariant.
func (r *Reader) AdvanceTo(consumed, examined int) {
	p := r.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if examined < consumed {
		panic("pipe: examined position before consumed position")
	}
	if consumed < 0 || examined > len(p.store) {
		panic("pipe: advance out of range")
	}
	base := p.consumedAbs
	if consumed > 0 {
		// Reslice rather than shift the live bytes down: a writer may be
		// filling a region it reserved past len(store) right now, and that
		// region must stay at the same place in the backing array.
		p.store = p.store[consumed:]
	}
	p.consumedAbs = base + int64(consumed)
	p.examinedAbs = base + int64(examined)
	p.wakeWriterLocked()
}

// CancelPending unblocks a Read call in progress (or the next one) with
// ReadResult.Canceled set, without completing the pipe. It is used by the
// channel's Close to make the parser driver exit promptly.
func (r *Reader) CancelPending() {
	p := r.p
	p.mu.Lock()
	p.readerCanceled = true
	p.wakeReaderLocked()
	p.mu.Unlock()
}

// CompleteReader idempotently marks the reader side done, optionally with
// the error that caused it (surfaced to writers via Writer.ReaderErr, e.g.
// a transport write failure). Subsequent Reserve and Flush calls on the
// Writer fail with ErrReaderCompleted.
func (r *Reader) CompleteReader(err error) {
	p := r.p
	p.mu.Lock()
	if !p.readerDone {
		p.readerDone = true
		p.readerErr = err
		p.wakeWriterLocked()
	}
	p.mu.Unlock()
}

// ReaderErr returns the error the reader side completed with, if any.
func (p *Pipe) ReaderErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readerErr
}

// ReaderErr returns the error the reader side completed with, if any.
func (w *Writer) ReaderErr() error { return w.p.ReaderErr() }

// Writer is the producer side of a Pipe.
type Writer struct {
	p *Pipe
}

// Reserve returns a writable region of at least n bytes. The returned slice
// aliases the pipe's internal buffer and is only valid until Commit.
func (w *Writer) Reserve(n int) ([]byte, error) {
	p := w.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writerDone {
		return nil, ErrWriterCompleted
	}
	if p.readerDone {
		return nil, ErrReaderCompleted
	}
	need := len(p.store) + n
	if cap(p.store) < need {
		growTo := cap(p.store) * 2
		if growTo < need {
			growTo = need
		}
		newStore := make([]byte, len(p.store), growTo)
		copy(newStore, p.store)
		p.store = newStore
	}
	return p.store[:cap(p.store)][len(p.store):need], nil
}

// Commit publishes n bytes (n <= the length requested from Reserve) as
// written, without yet waking the reader; call Flush to do that.
func (w *Writer) Commit(n int) {
	p := w.p
	p.mu.Lock()
	p.store = p.store[:len(p.store)+n]
	p.writtenAbs += int64(n)
	p.mu.Unlock()
}

// Flush wakes the reader and, if the pipe is bounded, waits for spare
// capacity before returning (or returns ErrWouldBlock immediately in
// NonBlock mode). It returns ErrReaderCompleted if the reader side has
// already completed, matching the fill loop's "flush reports reader
// completed, exit" contract.
func (w *Writer) Flush(ctx context.Context) error {
	p := w.p
	p.mu.Lock()
	if p.readerDone {
		p.mu.Unlock()
		return ErrReaderCompleted
	}
	p.wakeReaderLocked()
	for p.opts.Capacity > 0 && len(p.store) > p.opts.Capacity {
		if p.readerDone {
			p.mu.Unlock()
			return ErrReaderCompleted
		}
		if p.opts.NonBlock {
			p.mu.Unlock()
			return ErrWouldBlock
		}
		wake := p.writerWake
		p.mu.Unlock()
		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
		p.mu.Lock()
	}
	p.mu.Unlock()
	return nil
}

// CompleteWriter idempotently marks the writer side done, optionally with
// err. Read reports the completion through ReadResult.Completed; err itself
// is only available through Reader.Err.
func (w *Writer) CompleteWriter(err error) {
	p := w.p
	p.mu.Lock()
	if !p.writerDone {
		p.writerDone = true
		p.writerErr = err
		p.wakeReaderLocked()
	}
	p.mu.Unlock()
}

// WriterErr returns the error passed to CompleteWriter, if any.
func (p *Pipe) WriterErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writerErr
}

// Err returns the error the writer side completed with, if any.
func (r *Reader) Err() error { return r.p.WriterErr() }

// Err returns the error the writer side completed with, if any.
func (w *Writer) Err() error { return w.p.WriterErr() }
