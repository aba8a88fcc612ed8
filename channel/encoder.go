package channel

import "github.com/duplexproto/channel/pipe"

// Encoder serializes a package of type P onto an outbound pipe writer. It is
// the send-side counterpart to filter.Filter: where a Filter incrementally
// parses packages out of inbound bytes, an Encoder writes one package's
// bytes in a single call, using Reserve/Commit to avoid an intermediate
// allocation when the caller already knows the encoded length.
type Encoder[P any] interface {
	Encode(w *pipe.Writer, pkg P) error
}

// EncoderFunc adapts a function to an Encoder.
type EncoderFunc[P any] func(w *pipe.Writer, pkg P) error

func (f EncoderFunc[P]) Encode(w *pipe.Writer, pkg P) error { return f(w, pkg) }
