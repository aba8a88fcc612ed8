// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package lengthprefix implements the one-byte-header, optionally-extended
// length-prefixed wire format code.hybscloud.com/framer uses for its
// BinaryStream protocol, reworked from an io.Reader/io.Writer decorator
// (internal.go's readStream/writeStream) into a filter.Filter and
// channel.Encoder pair.
//
// Frame layout:
//
//	header[0] <= 0xfd (253): payload length is header[0] itself.
//	header[0] == 0xfe (254): 2-byte extended length follows, in the byte
//	                         order passed to New/NewEncoder.
//	header[0] == 0xff (255): 7-byte extended length follows, packed into
//	                         an 8-byte word together with the header byte
//	                         the same way the teacher's writeStream does.
//
// Unlike the teacher's decorator, which resumes a partial read by retrying
// the same transport.Read call, a Filter here resumes by keeping its
// partially-collected header and payload across calls: the core may invoke
// Filter any number of times on fragments before a full frame is available.
package lengthprefix

import (
	"encoding/binary"
	"errors"

	"github.com/duplexproto/channel/channel"
	"github.com/duplexproto/channel/filter"
	"github.com/duplexproto/channel/internal/bo"
	"github.com/duplexproto/channel/pipe"
)

const (
	headerLen       = 1
	payloadMaxLen8  = 1<<8 - 3
	payloadMaxLen16 = 1<<16 - 1
	payloadMaxLen56 = 1<<56 - 1
)

// ErrTooLong is returned by Encoder.Encode when a payload exceeds the
// 56-bit length this format can express.
var ErrTooLong = errors.New("lengthprefix: payload too long")

// Filter parses length-prefixed frames into raw payload packages. Each
// Filter value holds the in-progress state of the frame currently being
// assembled, so it must not be shared across channels; construct one per
// Channel via New.
type Filter struct {
	filter.Base[[]byte]

	bo binary.ByteOrder

	header    [8]byte
	headerLen int
	length    int64 // -1 until the header is fully parsed
	payload   []byte
	payloadN  int
}

// New returns a length-prefix filter using the given byte order for
// extended lengths. order defaults to the machine's native byte order if
// nil, since extended-length frames never cross the wire to a differently
// ordered peer in this format's intended use (a single Channel's own
// encoder and filter agree on order by construction).
func New(order binary.ByteOrder) *Filter {
	if order == nil {
		order = bo.Native()
	}
	f := &Filter{bo: order}
	f.Reset()
	return f
}

// Reset clears in-progress frame state. Called by the channel core after
// every package this Filter produces.
func (f *Filter) Reset() {
	f.headerLen = 0
	f.length = -1
	f.payload = nil
	f.payloadN = 0
}

func (f *Filter) extLen() int {
	switch f.header[0] {
	case payloadMaxLen8 + 1:
		return 2
	case payloadMaxLen8 + 2:
		return 7
	default:
		return 0
	}
}

func (f *Filter) decodeLength(exLen int) int64 {
	switch exLen {
	case 2:
		return int64(f.bo.Uint16(f.header[headerLen : headerLen+exLen]))
	case 7:
		u64 := f.bo.Uint64(f.header[:8])
		if f.bo == binary.LittleEndian {
			return int64(u64 >> 8)
		}
		return int64(u64 & payloadMaxLen56)
	default:
		return int64(f.header[0])
	}
}

// Filter implements filter.Filter[[]byte]. Each frame's payload is read
// into a freshly allocated slice; Reset only drops the Filter's reference
// to it, so the returned package stays valid after Reset.
func (f *Filter) Filter(r *filter.SeqReader) ([]byte, bool) {
	if f.headerLen < headerLen {
		if r.Len() == 0 {
			return nil, false
		}
		b, _ := r.ReadByte()
		f.header[0] = b
		f.headerLen = headerLen
	}

	need := headerLen + f.extLen()
	for f.headerLen < need {
		avail := r.Len()
		if avail == 0 {
			return nil, false
		}
		take := min(avail, need-f.headerLen)
		copy(f.header[f.headerLen:], r.Peek(take))
		r.Advance(take)
		f.headerLen += take
	}

	if f.length < 0 {
		f.length = f.decodeLength(f.extLen())
		f.payload = make([]byte, f.length)
	}

	for f.payloadN < len(f.payload) {
		avail := r.Len()
		if avail == 0 {
			return nil, false
		}
		take := min(avail, len(f.payload)-f.payloadN)
		copy(f.payload[f.payloadN:], r.Peek(take))
		r.Advance(take)
		f.payloadN += take
	}

	return f.payload, true
}

// Encoder writes a payload as a length-prefixed frame.
type Encoder struct {
	bo binary.ByteOrder
}

// NewEncoder returns an Encoder using the given byte order for extended
// lengths. order defaults to the machine's native byte order if nil.
func NewEncoder(order binary.ByteOrder) Encoder {
	if order == nil {
		order = bo.Native()
	}
	return Encoder{bo: order}
}

func (e Encoder) Encode(w *pipe.Writer, pkg []byte) error {
	length := int64(len(pkg))
	if length > payloadMaxLen56 {
		return ErrTooLong
	}

	var header [8]byte
	var hdrSize int
	switch {
	case length <= payloadMaxLen8:
		header[0] = byte(length)
		hdrSize = headerLen
	case length <= payloadMaxLen16:
		header[0] = payloadMaxLen8 + 1
		e.bo.PutUint16(header[headerLen:headerLen+2], uint16(length))
		hdrSize = headerLen + 2
	default:
		if e.bo == binary.LittleEndian {
			e.bo.PutUint64(header[:], uint64(length)<<8)
		} else {
			e.bo.PutUint64(header[:], uint64(length)&payloadMaxLen56)
		}
		header[0] = payloadMaxLen8 + 2
		hdrSize = headerLen + 7
	}

	buf, err := w.Reserve(hdrSize + len(pkg))
	if err != nil {
		return err
	}
	n := copy(buf, header[:hdrSize])
	n += copy(buf[n:], pkg)
	w.Commit(n)
	return nil
}

var _ channel.Encoder[[]byte] = Encoder{}
