// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package channel

import (
	"log/slog"

	"github.com/duplexproto/channel/pipe"
)

// Metrics is the optional observability hook a Channel reports into. The
// metrics package provides a Prometheus-backed implementation; tests and
// callers that don't care about metrics simply omit WithMetrics.
type Metrics interface {
	PackageEnqueued()
	OversizeRejected()
	BytesRead(n int)
	BytesWritten(n int)
}

// Options configures a Channel. Use New's functional Option arguments rather
// than constructing Options directly.
type Options struct {
	// ReceiveBufferSize is the chunk size the fill loop reserves from the
	// inbound pipe on each transport.Read.
	ReceiveBufferSize int

	// QueueCapacity bounds the PackageQueue's buffered depth.
	QueueCapacity int

	// MaxPackageLength caps the bytes a single in-flight package may occupy
	// before the filter produces it. Zero means unbounded. Exceeding it is a
	// protocol error: the parser driver stops and the channel closes.
	MaxPackageLength int64

	// InPipeOptions and OutPipeOptions configure the inbound and outbound
	// pipe's capacity/blocking behavior independently.
	InPipeOptions  pipe.Options
	OutPipeOptions pipe.Options

	Logger  *slog.Logger
	Metrics Metrics
}

var defaultOptions = Options{
	ReceiveBufferSize: 4096,
	QueueCapacity:     64,
	MaxPackageLength:  0,
}

type Option func(*Options)

// WithReceiveBufferSize sets the fill loop's per-read chunk size.
func WithReceiveBufferSize(n int) Option {
	return func(o *Options) { o.ReceiveBufferSize = n }
}

// WithQueueCapacity sets the PackageQueue's buffered depth.
func WithQueueCapacity(n int) Option {
	return func(o *Options) { o.QueueCapacity = n }
}

// WithMaxPackageLength caps the bytes a single package may occupy before a
// filter produces it. Zero (the default) means unbounded.
func WithMaxPackageLength(n int64) Option {
	return func(o *Options) { o.MaxPackageLength = n }
}

// WithInPipeOptions overrides the inbound pipe's Options.
func WithInPipeOptions(opts pipe.Options) Option {
	return func(o *Options) { o.InPipeOptions = opts }
}

// WithOutPipeOptions overrides the outbound pipe's Options.
func WithOutPipeOptions(opts pipe.Options) Option {
	return func(o *Options) { o.OutPipeOptions = opts }
}

// WithLogger overrides the *slog.Logger used for channel diagnostics.
// Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithMetrics attaches an observability hook. Omit for no metrics.
func WithMetrics(m Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}
