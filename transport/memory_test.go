package transport

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type received struct {
	mu   sync.Mutex
	pkts []datagram
}

func (r *received) handle(from netip.AddrPort, pkt []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pkts = append(r.pkts, datagram{from: from, pkt: pkt})
}

func (r *received) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pkts)
}

func TestNetwork_Deliver(t *testing.T) {
	defer goleak.VerifyNone(t)
	n := NewNetwork()
	a := netip.MustParseAddrPort("10.0.0.1:1")
	b := netip.MustParseAddrPort("10.0.0.2:1")
	ea, err := n.Listen(a, 8)
	require.NoError(t, err)
	eb, err := n.Listen(b, 8)
	require.NoError(t, err)
	_, err = n.Listen(a, 8)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	rb := &received{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eb.Serve(ctx, rb.handle)
	}()

	msg := []byte("hi")
	require.NoError(t, ea.Send(b, msg))
	msg[0] = 'x'
	assert.Eventually(t, func() bool { return rb.count() == 1 }, time.Second, time.Millisecond)
	rb.mu.Lock()
	assert.Equal(t, a, rb.pkts[0].from)
	assert.Equal(t, []byte("hi"), rb.pkts[0].pkt)
	rb.mu.Unlock()

	// unknown endpoints swallow datagrams like a real network
	assert.NoError(t, ea.Send(netip.MustParseAddrPort("10.0.0.3:1"), msg))

	cancel()
	<-done
	require.NoError(t, ea.Close())
	require.NoError(t, eb.Close())
	assert.ErrorIs(t, ea.Send(b, msg), ErrClosed)
}

func TestNetwork_Cut(t *testing.T) {
	n := NewNetwork()
	a := netip.MustParseAddrPort("10.0.0.1:1")
	b := netip.MustParseAddrPort("10.0.0.2:1")
	ea, _ := n.Listen(a, 8)
	eb, _ := n.Listen(b, 8)
	defer ea.Close()
	defer eb.Close()

	n.Cut(a, b)
	require.NoError(t, ea.Send(b, []byte{1}))
	require.NoError(t, eb.Send(a, []byte{2}))
	assert.Len(t, eb.inbox, 0)
	assert.Len(t, ea.inbox, 1)

	n.Restore(a, b)
	require.NoError(t, ea.Send(b, []byte{1}))
	assert.Len(t, eb.inbox, 1)
}

func TestNetwork_FullQueueDrops(t *testing.T) {
	n := NewNetwork()
	a := netip.MustParseAddrPort("10.0.0.1:1")
	b := netip.MustParseAddrPort("10.0.0.2:1")
	ea, _ := n.Listen(a, 8)
	eb, _ := n.Listen(b, 2)
	defer ea.Close()
	defer eb.Close()
	for range 5 {
		require.NoError(t, ea.Send(b, []byte{1}))
	}
	assert.Len(t, eb.inbox, 2)
}

func TestNetwork_Loss(t *testing.T) {
	n := NewNetwork()
	a := netip.MustParseAddrPort("10.0.0.1:1")
	b := netip.MustParseAddrPort("10.0.0.2:1")
	ea, _ := n.Listen(a, 8)
	eb, _ := n.Listen(b, 1000)
	defer ea.Close()
	defer eb.Close()

	n.SetLoss(a, b, 0.5)
	for range 1000 {
		require.NoError(t, ea.Send(b, []byte{1}))
	}
	assert.InDelta(t, 500, len(eb.inbox), 150)
}
