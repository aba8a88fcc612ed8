// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package channel implements the pipelined duplex packet channel: a fill
// loop and a parser driver cooperating over an inbound pipe.Pipe to turn
// transport bytes into typed packages through a filter.Filter chain, and a
// Sender Facade plus send loop cooperating over an outbound pipe.Pipe to do
// the reverse.
//
// The two directions only share a transport and a lifecycle; each runs on
// its own goroutine and is otherwise independent, the same decomposition
// code.hybscloud.com/framer keeps between its readStream and writeStream
// paths in internal.go, generalized here from one fixed wire format to an
// arbitrary filter.Filter chain.
package channel

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/duplexproto/channel/filter"
	"github.com/duplexproto/channel/pipe"
	"github.com/duplexproto/channel/queue"
	"github.com/duplexproto/channel/transport"
)

// State is a Channel's lifecycle stage.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Channel is a pipelined duplex packet channel over a transport.Transport.
// Construct one with New, start it with Run, and feed outbound packages
// through SendBytes/SendEncoded. A Channel is not restartable: Run may only
// be called once.
type Channel[P any] struct {
	transport transport.Transport

	inR *pipe.Reader
	inW *pipe.Writer

	outR *pipe.Reader
	outW *pipe.Writer

	q *queue.Queue[P]

	// active is mutated only by the parser driver goroutine; no other
	// goroutine reads or writes it, so it needs no synchronization.
	active filter.Filter[P]

	opts    Options
	logger  *slog.Logger
	metrics Metrics

	state     atomic.Int32
	closeOnce sync.Once
	sendMu    sync.Mutex // serializes SendBytes/SendEncoded against each other
	wg        sync.WaitGroup

	onClosed     func()
	onClosedOnce sync.Once
}

// New constructs a Channel driving t with the given initial filter chain.
// The filter chain and its packages share type parameter P. It returns
// ErrInvalidArgument if t or initial is nil, or if Options.ReceiveBufferSize
// is zero or negative.
func New[P any](t transport.Transport, initial filter.Filter[P], opts ...Option) (*Channel[P], error) {
	if t == nil {
		return nil, ErrInvalidArgument
	}
	if initial == nil {
		return nil, ErrInvalidArgument
	}

	o := defaultOptions
	for _, fn := range opts {
		fn(&o)
	}
	if o.ReceiveBufferSize <= 0 {
		return nil, ErrInvalidArgument
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	inR, inW := pipe.New(o.InPipeOptions)
	outR, outW := pipe.New(o.OutPipeOptions)

	return &Channel[P]{
		transport: t,
		inR:       inR,
		inW:       inW,
		outR:      outR,
		outW:      outW,
		q:         queue.New[P](o.QueueCapacity),
		active:    initial,
		opts:      o,
		logger:    o.Logger,
		metrics:   o.Metrics,
	}, nil
}

// State reports the channel's current lifecycle stage.
func (c *Channel[P]) State() State { return State(c.state.Load()) }

// OnClosed registers fn to be invoked exactly once, after both the fill/
// parser pair and the send loop have fully stopped. Must be called before
// Run; it is not safe to call concurrently with Run.
func (c *Channel[P]) OnClosed(fn func()) { c.onClosed = fn }

// Run starts the fill loop, parser driver and send loop, and returns a lazy
// sequence of parsed packages. Ranging over the sequence drains the
// PackageQueue; stopping the range early (break) is equivalent to the
// consumer losing interest, though it does not by itself close the Channel.
//
// Run may only be called once; a second call returns an already-exhausted
// sequence.
func (c *Channel[P]) Run(ctx context.Context) iter.Seq[P] {
	if !c.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		return func(func(P) bool) {}
	}

	c.wg.Add(3)
	go c.fillLoop(ctx)
	go c.parserLoop(ctx)
	go c.sendLoop(ctx)

	return func(yield func(P) bool) {
		defer c.finish()
		for {
			pkg, ok, err := c.q.Dequeue(ctx)
			if err != nil || !ok {
				return
			}
			if !yield(pkg) {
				return
			}
		}
	}
}

// Close requests an orderly shutdown: it cancels the inbound and outbound
// pipe readers (unblocking the parser driver and send loop promptly),
// closes the transport, and enqueues the end-of-stream sentinel so the
// consumer observes end-of-sequence even though the parser driver's
// canceled exit path skips enqueuing it itself. Idempotent and safe to call
// from any goroutine, including internally from the send loop and parser
// driver on a fatal I/O or protocol error.
func (c *Channel[P]) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		c.inR.CancelPending()
		c.outR.CancelPending()
		_ = c.transport.Close()
		_ = c.q.EnqueueEnd(context.Background())
	})
}

func (c *Channel[P]) markClosing() {
	c.state.CompareAndSwap(int32(StateRunning), int32(StateClosing))
}

func (c *Channel[P]) finish() {
	c.wg.Wait()
	c.state.Store(int32(StateClosed))
	c.onClosedOnce.Do(func() {
		if c.onClosed != nil {
			c.onClosed()
		}
	})
}

// fillLoop reads from the transport and commits each chunk to the inbound
// pipe, until the transport reports EOF or an error, or the inbound pipe
// reports its reader completed. On exit it completes both the inbound and
// outbound pipe writers: the parser driver drains any buffered inbound
// bytes to completion, and the send loop drains any buffered outbound bytes
// before it, too, sees completion.
func (c *Channel[P]) fillLoop(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.inW.CompleteWriter(nil)
		c.outW.CompleteWriter(nil)
		c.markClosing()
	}()

	chunk := c.opts.ReceiveBufferSize
	if c.opts.MaxPackageLength > 0 && int64(chunk) > c.opts.MaxPackageLength {
		chunk = int(c.opts.MaxPackageLength)
	}

	for {
		buf, err := c.inW.Reserve(chunk)
		if err != nil {
			c.logger.Debug("channel: fill loop stopping", "err", err)
			return
		}

		n, rerr := c.transport.Read(buf)
		if n > 0 {
			c.inW.Commit(n)
			if c.metrics != nil {
				c.metrics.BytesRead(n)
			}
			if ferr := c.inW.Flush(ctx); ferr != nil {
				c.logger.Debug("channel: fill loop flush stopping", "err", ferr)
				return
			}
		}
		if rerr != nil {
			if !errors.Is(rerr, io.EOF) {
				c.logger.Error("channel: transport read error", "err", rerr)
			} else {
				c.logger.Debug("channel: transport reached eof")
			}
			return
		}
	}
}

// sendLoop reads from the outbound pipe and writes each chunk to the
// transport, until the pipe reports writer completion (the fill loop's
// cascade, or an explicit Close), cancellation, or a transport write
// failure. A write failure completes the outbound pipe's reader with that
// error (observable by blocked senders through Writer.ReaderErr) and closes
// the channel outright.
func (c *Channel[P]) sendLoop(ctx context.Context) {
	defer c.wg.Done()
	defer c.markClosing()

	for {
		res, err := c.outR.Read(ctx)
		if err != nil {
			c.logger.Debug("channel: send loop context done", "err", err)
			c.outR.CompleteReader(nil)
			return
		}
		if res.Canceled {
			c.outR.CompleteReader(nil)
			return
		}

		if n := len(res.Buffer); n > 0 {
			if _, werr := c.transport.Write(res.Buffer); werr != nil {
				c.logger.Error("channel: transport write error", "err", werr)
				c.outR.CompleteReader(werr)
				c.Close()
				return
			}
			if ferr := c.transport.Flush(); ferr != nil {
				c.logger.Error("channel: transport flush error", "err", ferr)
				c.outR.CompleteReader(ferr)
				c.Close()
				return
			}
			if c.metrics != nil {
				c.metrics.BytesWritten(n)
			}
			c.outR.AdvanceTo(n, n)
		}

		if res.Completed {
			c.outR.CompleteReader(nil)
			return
		}
	}
}

// SendBytes writes raw bytes to the outbound pipe and flushes them toward
// the send loop. Concurrent callers are serialized so two sends never
// interleave their bytes on the wire. A zero-length send is a no-op.
func (c *Channel[P]) SendBytes(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	buf, err := c.outW.Reserve(len(data))
	if err != nil {
		return c.sendErr(err)
	}
	n := copy(buf, data)
	c.outW.Commit(n)
	if err := c.outW.Flush(ctx); err != nil {
		return c.sendErr(err)
	}
	return nil
}

// SendEncoded encodes pkg with enc directly onto the outbound pipe and
// flushes it. Serialized the same way as SendBytes.
func (c *Channel[P]) SendEncoded(ctx context.Context, enc Encoder[P], pkg P) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := enc.Encode(c.outW, pkg); err != nil {
		return c.sendErr(err)
	}
	if err := c.outW.Flush(ctx); err != nil {
		return c.sendErr(err)
	}
	return nil
}

func (c *Channel[P]) sendErr(err error) error {
	if errors.Is(err, pipe.ErrWriterCompleted) || errors.Is(err, pipe.ErrReaderCompleted) {
		return ErrChannelClosed
	}
	return err
}

// parserLoop reads from the inbound pipe and drives the active filter chain
// over each fragment via readerBuffer, until the pipe reports writer
// completion, a fatal protocol error (oversize package), or cancellation
// from Close. On every exit except cancellation, it completes the inbound
// pipe reader and enqueues the end-of-stream sentinel; Close enqueues the
// sentinel itself on the cancellation path, so the consumer always observes
// end-of-sequence exactly once regardless of which path triggered shutdown.
func (c *Channel[P]) parserLoop(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("channel: parser driver panic recovered", "panic", r)
			c.inR.CompleteReader(nil)
			_ = c.q.EnqueueEnd(context.Background())
			c.Close()
		}
	}()

	for {
		res, err := c.inR.Read(ctx)
		if err != nil {
			c.logger.Debug("channel: parser driver context done", "err", err)
			c.inR.CompleteReader(nil)
			_ = c.q.EnqueueEnd(context.Background())
			c.markClosing()
			return
		}
		if res.Canceled {
			c.logger.Debug("channel: parser driver canceled by close")
			return
		}

		if len(res.Buffer) > 0 {
			consumed, examined, cont := c.readerBuffer(ctx, res.Buffer)
			c.inR.AdvanceTo(consumed, examined)
			if !cont {
				c.inR.CompleteReader(nil)
				_ = c.q.EnqueueEnd(context.Background())
				c.Close()
				return
			}
		}

		if res.Completed {
			c.inR.CompleteReader(nil)
			_ = c.q.EnqueueEnd(context.Background())
			c.markClosing()
			return
		}
	}
}

// readerBuffer drives the active filter chain over buf, enqueuing every
// package it produces, until the chain reports it needs more bytes than buf
// currently holds or buf is exhausted. It returns the total bytes consumed
// (safe to discard from the pipe), the examined watermark (always len(buf)),
// and cont=false if a package would exceed Options.MaxPackageLength, a
// filter produced a package without consuming any bytes, or the queue
// rejected the enqueue.
//
// A filter may hand off to filter.Filter.Next without producing a package
// (a header stage routing to a body stage, say); when it still consumed
// bytes doing so, readerBuffer retries immediately against the new active
// filter on the remaining segment rather than waiting for the next pipe
// wakeup, so a handoff never stalls on data already in hand.
//
// When a single Filter call consumes zero bytes, the bytes-needed metric
// used for the max-package-length check is the reader's full remaining
// length rather than zero: a filter reporting "not enough yet" on an empty
// advance is asking for the whole remainder, not nothing.
func (c *Channel[P]) readerBuffer(ctx context.Context, buf []byte) (consumed, examined int, cont bool) {
	totalConsumed := 0
	segment := buf

	for {
		sr := filter.NewSeqReader(segment)
		current := c.active
		pkg, ok := current.Filter(sr)

		if next := current.Next(); next != nil {
			next.SetContext(current.Context())
			c.active = next
		}

		consumedThisCall := sr.Consumed()
		totalConsumed += consumedThisCall

		needed := consumedThisCall
		if needed == 0 {
			needed = sr.Len()
		}
		if c.opts.MaxPackageLength > 0 && int64(needed) > c.opts.MaxPackageLength {
			c.logger.Error("channel: package exceeds max package length",
				"err", ErrOversizePackage, "limit", c.opts.MaxPackageLength, "length", needed)
			if c.metrics != nil {
				c.metrics.OversizeRejected()
			}
			return totalConsumed, len(buf), false
		}

		if ok && consumedThisCall == 0 {
			c.logger.Error("channel: filter produced a package without consuming any bytes")
			return totalConsumed, len(buf), false
		}

		if ok {
			current.Reset()
			if err := c.q.Enqueue(ctx, pkg); err != nil {
				c.logger.Debug("channel: enqueue interrupted", "err", err)
				return totalConsumed, len(buf), false
			}
			if c.metrics != nil {
				c.metrics.PackageEnqueued()
			}
		}

		if consumedThisCall == 0 {
			// No progress at all this call: the active filter needs more
			// bytes than the whole remaining segment holds.
			return totalConsumed, len(buf), true
		}
		if sr.Len() == 0 {
			return totalConsumed, len(buf), true
		}
		segment = sr.Remaining()
	}
}
