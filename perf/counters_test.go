package perf

import (
	"testing"

	"github.com/encodeous/dvr/protocol"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	c := &Counters{}
	c.Sent(protocol.KindHello, 8)
	c.Sent(protocol.KindRoute, 40)
	c.Sent(protocol.KindRoute, 40)
	c.Received(protocol.KindData, 20)
	c.Received(protocol.Kind(42), 1)
	c.Dropped()

	assert.Equal(t, uint64(1), c.SentCount(protocol.KindHello))
	assert.Equal(t, uint64(2), c.SentCount(protocol.KindRoute))
	assert.Equal(t, uint64(0), c.SentCount(protocol.KindBye))
	assert.Equal(t, uint64(1), c.ReceivedCount(protocol.KindData))
	assert.Equal(t, uint64(0), c.ReceivedCount(protocol.Kind(42)))
	assert.Equal(t, uint64(1), c.DroppedCount())
	assert.Equal(t, "HELLO 1/0, BYE 0/0, ROUTE 2/0, DATA 0/1, dropped 1", c.String())
}
