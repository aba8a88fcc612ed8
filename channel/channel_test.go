package channel_test

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duplexproto/channel/channel"
	"github.com/duplexproto/channel/filter"
	"github.com/duplexproto/channel/protocols/header"
	"github.com/duplexproto/channel/protocols/lengthprefix"
	"github.com/duplexproto/channel/protocols/lineframe"
	"github.com/duplexproto/channel/transport"
)

// scriptedTransport replays a fixed sequence of Read chunks and records
// every Write, optionally failing the write at a chosen call index. A chunk
// longer than the caller's buffer is delivered over several Reads. Reads
// past the end of the script return the configured tail error (io.EOF by
// default).
type scriptedTransport struct {
	mu sync.Mutex

	reads   [][]byte
	readIdx int
	tailErr error

	writeErrAt int // -1 disables
	writeCalls int
	writes     [][]byte

	closed bool
}

func newScriptedTransport(reads [][]byte) *scriptedTransport {
	return &scriptedTransport{reads: reads, tailErr: io.EOF, writeErrAt: -1}
}

func (s *scriptedTransport) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readIdx >= len(s.reads) {
		return 0, s.tailErr
	}
	chunk := s.reads[s.readIdx]
	n := copy(p, chunk)
	if n < len(chunk) {
		s.reads[s.readIdx] = chunk[n:]
	} else {
		s.readIdx++
	}
	return n, nil
}

func (s *scriptedTransport) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.writeCalls
	s.writeCalls++
	got := append([]byte(nil), p...)
	s.writes = append(s.writes, got)
	if s.writeErrAt >= 0 && idx == s.writeErrAt {
		return 0, errors.New("scripted write failure")
	}
	return len(p), nil
}

func (s *scriptedTransport) Flush() error { return nil }

func (s *scriptedTransport) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// blockingTransport blocks every Read until Close is called, then reports
// io.EOF. It simulates a peer that is simply idle when Close is invoked.
type blockingTransport struct {
	done chan struct{}
	once sync.Once
}

func newBlockingTransport() *blockingTransport {
	return &blockingTransport{done: make(chan struct{})}
}

func (b *blockingTransport) Read(p []byte) (int, error) {
	<-b.done
	return 0, io.EOF
}

func (b *blockingTransport) Write(p []byte) (int, error) { return len(p), nil }
func (b *blockingTransport) Flush() error                { return nil }
func (b *blockingTransport) Close() error {
	b.once.Do(func() { close(b.done) })
	return nil
}

func collect[P any](t *testing.T, seq func(func(P) bool)) []P {
	t.Helper()
	var got []P
	seq(func(p P) bool {
		got = append(got, p)
		return true
	})
	return got
}

func TestFragmentedLineProtocol(t *testing.T) {
	tr := newScriptedTransport([][]byte{
		[]byte("ab"), []byte("c\nde"), []byte("f\n"),
	})
	ch, err := channel.New[[]byte](tr, lineframe.New())
	require.NoError(t, err)

	seq := ch.Run(context.Background())
	got := collect(t, seq)

	require.Len(t, got, 2)
	assert.Equal(t, "abc", string(got[0]))
	assert.Equal(t, "def", string(got[1]))
	assert.Equal(t, channel.StateClosed, ch.State())
}

func TestFilterHandoff(t *testing.T) {
	tr := newScriptedTransport([][]byte{[]byte("TAG1hello\n")})
	root := header.New[[]byte]([]header.Route[[]byte]{
		{Tag: "TAG1", Next: func() filter.Filter[[]byte] { return lineframe.New() }},
	})
	ch, err := channel.New[[]byte](tr, root)
	require.NoError(t, err)

	got := collect(t, ch.Run(context.Background()))
	require.Len(t, got, 1)
	assert.Equal(t, "hello", string(got[0]))
}

func TestOversizeRejection(t *testing.T) {
	tr := newScriptedTransport([][]byte{[]byte("this-line-is-too-long-for-the-limit\n")})
	ch, err := channel.New[[]byte](tr, lineframe.New(), channel.WithMaxPackageLength(8))
	require.NoError(t, err)

	got := collect(t, ch.Run(context.Background()))
	assert.Empty(t, got, "oversize package must never reach the consumer")
	assert.Equal(t, channel.StateClosed, ch.State())
}

func TestEncoderRoundTripOverLoopback(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	server, err := channel.New[[]byte](transport.NewConn(serverConn), lengthprefix.New(binary.BigEndian))
	require.NoError(t, err)

	received := make(chan []byte, 1)
	go func() {
		for pkg := range collectChan(server.Run(context.Background())) {
			received <- pkg
		}
	}()

	client, err := channel.New[[]byte](transport.NewConn(clientConn), lengthprefix.New(binary.BigEndian))
	require.NoError(t, err)
	go func() { collect(t, client.Run(context.Background())) }()

	enc := lengthprefix.NewEncoder(binary.BigEndian)
	require.NoError(t, client.SendEncoded(context.Background(), enc, []byte("round trip payload")))

	select {
	case got := <-received:
		assert.Equal(t, "round trip payload", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed the encoded package")
	}
}

// collectChan adapts an iter.Seq[[]byte]-shaped function into a channel so a
// goroutine can range over it without blocking the test on a full drain.
func collectChan(seq func(func([]byte) bool)) <-chan []byte {
	out := make(chan []byte)
	go func() {
		defer close(out)
		seq(func(p []byte) bool {
			out <- p
			return true
		})
	}()
	return out
}

func TestExplicitCloseWhileParsing(t *testing.T) {
	tr := newBlockingTransport()
	ch, err := channel.New[[]byte](tr, lineframe.New())
	require.NoError(t, err)

	seq := ch.Run(context.Background())
	done := make(chan struct{})
	go func() {
		collect(t, seq)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	ch.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not observe end-of-sequence after Close")
	}
	assert.Equal(t, channel.StateClosed, ch.State())
}

// sendFailTransport never returns from Read until Close is called (keeping
// the inbound side idle rather than racing it to completion), and always
// fails Write, so a send's failure is attributable solely to the transport
// write rather than to the fill loop happening to finish first.
type sendFailTransport struct {
	done chan struct{}
	once sync.Once
}

func newSendFailTransport() *sendFailTransport {
	return &sendFailTransport{done: make(chan struct{})}
}

func (s *sendFailTransport) Read(p []byte) (int, error) {
	<-s.done
	return 0, io.EOF
}

func (s *sendFailTransport) Write([]byte) (int, error) {
	return 0, errors.New("scripted write failure")
}

func (s *sendFailTransport) Flush() error { return nil }

func (s *sendFailTransport) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func TestSendErrorPropagation(t *testing.T) {
	tr := newSendFailTransport()
	ch, err := channel.New[[]byte](tr, lineframe.New())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		collect(t, ch.Run(context.Background()))
		close(done)
	}()

	_ = ch.SendBytes(context.Background(), []byte("payload"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer never observed end-of-sequence after send error")
	}
	assert.Equal(t, channel.StateClosed, ch.State())

	err = ch.SendBytes(context.Background(), []byte("more"))
	assert.ErrorIs(t, err, channel.ErrChannelClosed)
}
