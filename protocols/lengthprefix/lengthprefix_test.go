package lengthprefix_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duplexproto/channel/filter"
	"github.com/duplexproto/channel/pipe"
	"github.com/duplexproto/channel/protocols/lengthprefix"
)

// encode runs an Encoder over pkg and returns the raw frame bytes, exercising
// the Reserve/Commit contract a real PipeWriter gives it.
func encode(t *testing.T, enc lengthprefix.Encoder, pkg []byte) []byte {
	t.Helper()
	r, w := pipe.New(pipe.Options{})
	require.NoError(t, enc.Encode(w, pkg))
	w.CompleteWriter(nil)

	res, err := r.Read(context.Background())
	require.NoError(t, err)
	out := make([]byte, len(res.Buffer))
	copy(out, res.Buffer)
	return out
}

// decode feeds frame through a fresh Filter one byte at a time, the most
// adversarial fragmentation a transport can produce, and returns the
// decoded package once the filter reports one complete.
func decode(t *testing.T, order binary.ByteOrder, frame []byte) []byte {
	t.Helper()
	f := lengthprefix.New(order)
	for i := 0; i < len(frame); i++ {
		r := filter.NewSeqReader(frame[i : i+1])
		pkg, ok := f.Filter(r)
		if ok {
			require.Equal(t, len(frame), i+1, "filter reported done before all bytes were fed")
			out := make([]byte, len(pkg))
			copy(out, pkg)
			return out
		}
	}
	t.Fatalf("filter never completed for a %d-byte frame", len(frame))
	return nil
}

func TestRoundTripDirectLength(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.BigEndian, binary.LittleEndian} {
		payload := []byte("short payload under 253 bytes")
		frame := encode(t, lengthprefix.NewEncoder(order), payload)
		assert.Len(t, frame, 1+len(payload))
		assert.Equal(t, byte(len(payload)), frame[0])
		assert.Equal(t, payload, decode(t, order, frame))
	}
}

func TestRoundTripTwoByteExtendedLength(t *testing.T) {
	cases := []int{254, 255, 65535}
	for _, order := range []binary.ByteOrder{binary.BigEndian, binary.LittleEndian} {
		for _, n := range cases {
			payload := make([]byte, n)
			for i := range payload {
				payload[i] = byte(i)
			}
			frame := encode(t, lengthprefix.NewEncoder(order), payload)
			require.Len(t, frame, 3+n)
			assert.Equal(t, byte(254), frame[0])
			assert.Equal(t, uint16(n), order.Uint16(frame[1:3]))
			assert.Equal(t, payload, decode(t, order, frame))
		}
	}
}

func TestRoundTripSevenByteExtendedLength(t *testing.T) {
	cases := []int{65536, 65537, 1 << 17}
	for _, order := range []binary.ByteOrder{binary.BigEndian, binary.LittleEndian} {
		for _, n := range cases {
			payload := make([]byte, n)
			for i := range payload {
				payload[i] = byte(i)
			}
			frame := encode(t, lengthprefix.NewEncoder(order), payload)
			require.Len(t, frame, 8+n)
			assert.Equal(t, byte(255), frame[0])
			assert.Equal(t, payload, decode(t, order, frame))
		}
	}
}

func TestDecodeHandlesFragmentedHeaderBytes(t *testing.T) {
	order := binary.BigEndian
	payload := make([]byte, 70000)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	frame := encode(t, lengthprefix.NewEncoder(order), payload)
	require.Equal(t, byte(255), frame[0])

	f := lengthprefix.New(order)
	var got []byte
	var ok bool
	// Feed the frame in irregular, small chunks instead of whole or
	// byte-at-a-time, to exercise the header accumulator's partial-take path
	// (f.headerLen < need) across multiple Filter calls.
	chunks := []int{1, 2, 4, 1}
	pos := 0
	for _, c := range chunks {
		end := pos + c
		if end > len(frame) {
			end = len(frame)
		}
		r := filter.NewSeqReader(frame[pos:end])
		got, ok = f.Filter(r)
		pos = end
	}
	for !ok && pos < len(frame) {
		remain := len(frame) - pos
		take := 4096
		if take > remain {
			take = remain
		}
		r := filter.NewSeqReader(frame[pos : pos+take])
		got, ok = f.Filter(r)
		pos += take
	}
	require.True(t, ok)
	assert.Equal(t, payload, got)
}

func TestDecodeAtDirectLengthBoundary(t *testing.T) {
	order := binary.BigEndian
	for _, n := range []int{0, 1, 253} {
		payload := make([]byte, n)
		frame := encode(t, lengthprefix.NewEncoder(order), payload)
		assert.Len(t, frame, 1+n)
		assert.Less(t, int(frame[0]), 254)
		assert.Equal(t, payload, decode(t, order, frame))
	}
}
