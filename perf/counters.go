package perf

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/encodeous/dvr/protocol"
)

// Counters tracks the packets a single router sent and received, per kind
type Counters struct {
	sent    [protocol.KindData + 1]atomic.Uint64
	recv    [protocol.KindData + 1]atomic.Uint64
	dropped atomic.Uint64
}

func valid(k protocol.Kind) bool {
	return k >= protocol.KindHello && k <= protocol.KindData
}

func (c *Counters) Sent(k protocol.Kind, size int) {
	if !valid(k) {
		return
	}
	c.sent[k].Add(1)
	SentPacketPerSecond.Add(1)
	SentBytesPerSecond.Add(float64(size))
}

func (c *Counters) Received(k protocol.Kind, size int) {
	if !valid(k) {
		return
	}
	c.recv[k].Add(1)
	RecvPacketPerSecond.Add(1)
	RecvBytesPerSecond.Add(float64(size))
}

// Dropped counts packets that could not be decoded or forwarded
func (c *Counters) Dropped() {
	c.dropped.Add(1)
	DroppedPerSecond.Add(1)
}

func (c *Counters) SentCount(k protocol.Kind) uint64 {
	if !valid(k) {
		return 0
	}
	return c.sent[k].Load()
}

func (c *Counters) ReceivedCount(k protocol.Kind) uint64 {
	if !valid(k) {
		return 0
	}
	return c.recv[k].Load()
}

func (c *Counters) DroppedCount() uint64 {
	return c.dropped.Load()
}

func (c *Counters) String() string {
	parts := make([]string, 0, len(protocol.Kinds)+1)
	for _, k := range protocol.Kinds {
		parts = append(parts, fmt.Sprintf("%s %d/%d", k, c.SentCount(k), c.ReceivedCount(k)))
	}
	parts = append(parts, fmt.Sprintf("dropped %d", c.DroppedCount()))
	return strings.Join(parts, ", ")
}
