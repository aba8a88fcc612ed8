package channel

import "errors"

// ErrChannelClosed is returned by SendBytes/SendEncoded once the channel has
// entered the Closing or Closed state.
var ErrChannelClosed = errors.New("channel: closed")

// ErrOversizePackage is logged (and surfaces through Metrics.OversizeRejected)
// when a filter's reported bytes-needed for a single package exceeds
// Options.MaxPackageLength. The channel treats this as a protocol error: the
// parser driver stops and the channel closes.
var ErrOversizePackage = errors.New("channel: package exceeds max package length")

// ErrInvalidArgument is returned by New when the transport or the initial
// filter is nil, or when ReceiveBufferSize is zero or negative.
var ErrInvalidArgument = errors.New("channel: invalid argument")
