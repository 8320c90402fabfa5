package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	SentPacketPerSecond = metric.NewCounter("10s1s")
	RecvPacketPerSecond = metric.NewCounter("10s1s")
	SentBytesPerSecond  = metric.NewCounter("10s1s")
	RecvBytesPerSecond  = metric.NewCounter("10s1s")
	DroppedPerSecond    = metric.NewCounter("10s1s")
	ComputeLatency      = metric.NewHistogram("1m1s")
)

func init() {
	http.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	expvar.Publish("dvr:SentPacket/s", SentPacketPerSecond)
	expvar.Publish("dvr:RecvPacket/s", RecvPacketPerSecond)
	expvar.Publish("dvr:SentBytes/s", SentBytesPerSecond)
	expvar.Publish("dvr:RecvBytes/s", RecvBytesPerSecond)
	expvar.Publish("dvr:Dropped/s", DroppedPerSecond)
	expvar.Publish("dvr:ComputeLatency (µs)", ComputeLatency)
}
