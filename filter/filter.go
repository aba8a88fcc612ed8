// Package filter defines the PipelineFilter contract: the capability
// protocol authors implement to incrementally parse packages out of
// arbitrary byte-sequence fragments, plus the SeqReader cursor the core
// drives filters with.
//
// The teacher's wire-format state machine (code.hybscloud.com/framer's
// readStream) inlined parsing into one io.Reader decorator; here the same
// incremental, resumable parsing technique is lifted out into a capability
// interface so any number of protocol stages can be composed and swapped at
// runtime (see Filter.SetNext).
package filter

// SeqReader is a cursor over one contiguous byte fragment. It tracks how
// many bytes have been consumed since it was constructed, which is all the
// core needs to compute total_consumed and the max-package-length metric in
// the parser driver's ReaderBuffer algorithm.
type SeqReader struct {
	buf []byte
	pos int
}

// NewSeqReader wraps buf for a single Filter call. buf must not be mutated
// while the SeqReader is in use.
func NewSeqReader(buf []byte) *SeqReader {
	return &SeqReader{buf: buf}
}

// Len returns the number of unconsumed bytes remaining.
func (r *SeqReader) Len() int { return len(r.buf) - r.pos }

// Consumed returns the number of bytes consumed since construction.
func (r *SeqReader) Consumed() int { return r.pos }

// Remaining returns the unconsumed tail of the fragment. The returned slice
// aliases the reader's backing array.
func (r *SeqReader) Remaining() []byte { return r.buf[r.pos:] }

// Peek returns up to n unconsumed bytes without advancing the cursor. The
// returned slice may be shorter than n if fewer bytes are available.
func (r *SeqReader) Peek(n int) []byte {
	if n > r.Len() {
		n = r.Len()
	}
	return r.buf[r.pos : r.pos+n]
}

// ReadByte consumes and returns one byte, or ok=false if exhausted.
func (r *SeqReader) ReadByte() (b byte, ok bool) {
	if r.Len() == 0 {
		return 0, false
	}
	b = r.buf[r.pos]
	r.pos++
	return b, true
}

// Advance consumes n unconsumed bytes without inspecting them. It panics if
// n exceeds Len, since that would make consumed bytes fabricate data.
func (r *SeqReader) Advance(n int) {
	if n < 0 || n > r.Len() {
		panic("filter: advance beyond available bytes")
	}
	r.pos += n
}

// Filter is one stage of protocol parsing producing packages of type P.
//
// Filter advances r and returns (pkg, true) once a full package has been
// parsed, or (zero, false) if r's fragment does not yet contain one. When
// it returns false having consumed zero bytes, the core treats r's entire
// remaining length as the "bytes needed" metric for max-package-length
// enforcement (see the channel package's ReaderBuffer).
//
// Context() and SetContext() expose an opaque per-chain state slot; the
// core copies it from the outgoing filter to the incoming one on handoff
// (see SetNext) without inspecting its contents. A filter with no shared
// state may leave both as no-ops over a nil value.
//
// Reset is called by the core exactly once after each successful package
// emission, before the next Filter call, to let a filter clear per-package
// scratch state (the teacher's framer.reset()).
type Filter[P any] interface {
	Filter(r *SeqReader) (pkg P, ok bool)
	Next() Filter[P]
	SetNext(next Filter[P])
	Context() any
	SetContext(ctx any)
	Reset()
}

// Base is an embeddable helper implementing the Next/SetNext/Context/
// SetContext bookkeeping so concrete filters only need to implement Filter
// and (optionally) Reset.
type Base[P any] struct {
	next Filter[P]
	ctx  any
}

func (b *Base[P]) Next() Filter[P]        { return b.next }
func (b *Base[P]) SetNext(next Filter[P]) { b.next = next }
func (b *Base[P]) Context() any           { return b.ctx }
func (b *Base[P]) SetContext(ctx any)     { b.ctx = ctx }
func (b *Base[P]) Reset()                 {}
