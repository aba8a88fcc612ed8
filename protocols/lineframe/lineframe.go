// Package lineframe implements the simplest possible filter.Filter: packages
// are newline-terminated byte lines, with the trailing '\n' stripped. It
// exists primarily as the minimal end-to-end demonstration of the filter
// chain contract — a single stateless stage with no handoff and no shared
// context — the same role code.hybscloud.com/framer's BinaryStream mode
// plays as the simplest of its three Protocol variants.
package lineframe

import (
	"bytes"

	"github.com/duplexproto/channel/channel"
	"github.com/duplexproto/channel/filter"
	"github.com/duplexproto/channel/pipe"
)

// Filter parses lines delimited by '\n'. A trailing '\r' is stripped too, so
// CRLF and LF inputs both produce the same packages.
type Filter struct {
	filter.Base[[]byte]
}

// New returns a ready-to-use line filter.
func New() *Filter { return &Filter{} }

func (f *Filter) Filter(r *filter.SeqReader) ([]byte, bool) {
	idx := bytes.IndexByte(r.Peek(r.Len()), '\n')
	if idx < 0 {
		return nil, false
	}
	line := r.Peek(idx)
	line = bytes.TrimSuffix(line, []byte{'\r'})
	out := make([]byte, len(line))
	copy(out, line)
	r.Advance(idx + 1)
	return out, true
}

// Encoder writes a package followed by '\n'.
type Encoder struct{}

func (Encoder) Encode(w *pipe.Writer, pkg []byte) error {
	buf, err := w.Reserve(len(pkg) + 1)
	if err != nil {
		return err
	}
	n := copy(buf, pkg)
	buf[n] = '\n'
	w.Commit(n + 1)
	return nil
}

var _ channel.Encoder[[]byte] = Encoder{}
