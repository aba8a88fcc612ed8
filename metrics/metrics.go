// Package metrics implements channel.Metrics with Prometheus counters,
// grounded on the metrics panel layout and registration style of
// randomizedcoder-go-ffmpeg-hls-swarm's internal/metrics package.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Channel is a Prometheus-backed channel.Metrics implementation. Each
// Channel value tracks one duplexproto Channel; pass the same endpoint
// label (a peer address, a connection id) consistently so its series can
// be told apart on a shared registry.
type Channel struct {
	endpoint string

	packagesEnqueued prometheus.Counter
	oversizeRejected prometheus.Counter
	bytesRead        prometheus.Counter
	bytesWritten     prometheus.Counter
}

var (
	channelPackagesEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplexproto_channel_packages_enqueued_total",
			Help: "Total packages the parser driver enqueued for consumption.",
		},
		[]string{"endpoint"},
	)

	channelOversizeRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplexproto_channel_oversize_rejected_total",
			Help: "Total packages rejected for exceeding the configured max package length.",
		},
		[]string{"endpoint"},
	)

	channelBytesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplexproto_channel_bytes_read_total",
			Help: "Total bytes the fill loop read from the transport.",
		},
		[]string{"endpoint"},
	)

	channelBytesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplexproto_channel_bytes_written_total",
			Help: "Total bytes the send loop wrote to the transport.",
		},
		[]string{"endpoint"},
	)
)

func init() {
	prometheus.MustRegister(
		channelPackagesEnqueuedTotal,
		channelOversizeRejectedTotal,
		channelBytesReadTotal,
		channelBytesWrittenTotal,
	)
}

// NewChannel returns a channel.Metrics implementation labeled with
// endpoint, backed by the package's shared Prometheus registry.
func NewChannel(endpoint string) *Channel {
	return &Channel{
		endpoint:         endpoint,
		packagesEnqueued: channelPackagesEnqueuedTotal.WithLabelValues(endpoint),
		oversizeRejected: channelOversizeRejectedTotal.WithLabelValues(endpoint),
		bytesRead:        channelBytesReadTotal.WithLabelValues(endpoint),
		bytesWritten:     channelBytesWrittenTotal.WithLabelValues(endpoint),
	}
}

func (c *Channel) PackageEnqueued()    { c.packagesEnqueued.Inc() }
func (c *Channel) OversizeRejected()   { c.oversizeRejected.Inc() }
func (c *Channel) BytesRead(n int)     { c.bytesRead.Add(float64(n)) }
func (c *Channel) BytesWritten(n int)  { c.bytesWritten.Add(float64(n)) }
