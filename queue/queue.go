// Package queue implements the PackageQueue: a bounded, strictly-ordered,
// single-producer/single-consumer FIFO of parsed packages terminated by an
// end-of-stream sentinel.
//
// The shape — a buffered channel guarded against use-after-close, with an
// idempotent terminal transition — is generalized from
// ezex-io-gopkg/pipeline's Pipeline[T], narrowed from its one-to-many
// fan-out to the single consumer the spec requires and extended with the
// explicit sentinel-is-always-last ordering guarantee.
package queue

import (
	"context"
	"errors"
	"sync"

	"code.hybscloud.com/iox"
)

// ErrMore is re-exported from iox: TryDequeue returns it alongside a valid
// package when the queue already holds further items, so a consumer can
// keep draining without reselecting.
var ErrMore = iox.ErrMore

// ErrWouldBlock is re-exported from iox: TryDequeue returns it when no
// package is currently buffered.
var ErrWouldBlock = iox.ErrWouldBlock

// ErrSentinelEnqueued is returned by Enqueue if called after EnqueueEnd;
// the sentinel must be the last element a producer ever pushes.
var ErrSentinelEnqueued = errors.New("queue: enqueue after end-of-stream sentinel")

type entry[P any] struct {
	pkg      P
	sentinel bool
}

// Queue is a bounded FIFO of P terminated by one end-of-stream sentinel.
type Queue[P any] struct {
	ch chan entry[P]

	mu     sync.Mutex
	ended  bool
	closed bool
}

// New returns a Queue with the given buffer capacity (0 means unbuffered:
// Enqueue blocks until Dequeue is ready).
func New[P any](capacity int) *Queue[P] {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue[P]{ch: make(chan entry[P], capacity)}
}

// Enqueue pushes pkg, blocking if the queue is full. It returns
// ErrSentinelEnqueued if the end-of-stream sentinel was already enqueued,
// or ctx.Err() if ctx is done first.
//
// q.mu is held for the whole check-then-send so a concurrent EnqueueEnd
// (Channel.Close can call it from a goroutine other than the one with an
// Enqueue already in flight) can never have its sentinel land on the
// channel ahead of a package that passed its ended check first: the two
// calls are fully serialized, not just their ended checks. Holding the
// lock across a potentially-blocking channel send is safe here because
// Dequeue never needs q.mu, so the consumer can always drain the queue and
// unblock whichever send is waiting.
func (q *Queue[P]) Enqueue(ctx context.Context, pkg P) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ended {
		return ErrSentinelEnqueued
	}

	select {
	case q.ch <- entry[P]{pkg: pkg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueEnd pushes the end-of-stream sentinel. Idempotent: a second call
// is a no-op. After this call, Enqueue always fails. See Enqueue's doc
// comment for why q.mu is held across the send.
func (q *Queue[P]) EnqueueEnd(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ended {
		return nil
	}
	q.ended = true

	select {
	case q.ch <- entry[P]{sentinel: true}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks for the next package. ok is false once the end-of-stream
// sentinel has been observed; no further call will ever return ok=true
// again.
func (q *Queue[P]) Dequeue(ctx context.Context) (pkg P, ok bool, err error) {
	select {
	case e, chOpen := <-q.ch:
		if !chOpen {
			return pkg, false, nil
		}
		if e.sentinel {
			// The sentinel is the last value any producer sends, so no send
			// is pending; closing lets later calls report the end at once.
			close(q.ch)
			return pkg, false, nil
		}
		return e.pkg, true, nil
	case <-ctx.Done():
		return pkg, false, ctx.Err()
	}
}

// TryDequeue is the non-blocking variant of Dequeue. When it returns a
// package and the queue already has at least one more buffered item, it
// returns ErrMore alongside the valid package: the caller should process it
// and call TryDequeue again before falling back to blocking Dequeue.
func (q *Queue[P]) TryDequeue() (pkg P, ok bool, err error) {
	select {
	case e, chOpen := <-q.ch:
		if !chOpen || e.sentinel {
			return pkg, false, nil
		}
		if len(q.ch) > 0 {
			return e.pkg, true, ErrMore
		}
		return e.pkg, true, nil
	default:
		return pkg, false, ErrWouldBlock
	}
}

// Seq returns an iterator over the queue's packages, stopping at the
// end-of-stream sentinel or ctx cancellation. It is the consumer-facing
// lazy sequence named in the spec's Channel.Run contract.
func (q *Queue[P]) Seq(ctx context.Context) func(yield func(P) bool) {
	return func(yield func(P) bool) {
		for {
			pkg, ok, err := q.Dequeue(ctx)
			if err != nil || !ok {
				return
			}
			if !yield(pkg) {
				return
			}
		}
	}
}
