package core

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/encodeous/dvr/protocol"
	"github.com/encodeous/dvr/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_InitialTable(t *testing.T) {
	h := newHarness(t, "A.1")
	assert.Equal(t, addr("A.1"), h.Local())
	assert.Equal(t, 1, h.Table().Len())
	assert.Equal(t, 15*time.Second, h.RouteTTL())
	assert.Equal(t, 10*time.Second, h.Period())
}

func TestRouter_TickAnnouncesThenRecomputes(t *testing.T) {
	h := newHarness(t, "A.1")
	h.link(t, "A.2", 1)
	h.link(t, "A.3", 2)
	h.advertise(t, "A.2", entry("A.2", 0), entry("A.4", 1, "A.4"))

	require.NoError(t, h.Tick())
	sent := h.tr.take()
	// A.3 never sent a vector and is greeted again
	assert.Equal(t, []sentPacket{{To: ep("A.3"), Pkt: &protocol.Hello{Addr: addr("A.1"), Distance: 2}}}, onlyKind(sent, protocol.KindHello))
	sent = onlyKind(sent, protocol.KindRoute)
	require.Len(t, sent, 2)
	for _, s := range sent {
		route, ok := s.Pkt.(*protocol.Route)
		require.True(t, ok)
		assert.Equal(t, addr("A.1"), route.Sender)
		assert.Equal(t, 15, route.TTL)
		// the announcement carries the table from before this cycle
		assert.True(t, state.VectorEqual([]state.Entry{entry("A.1", 0)}, route.Entries))
	}
	assert.Equal(t, 3, h.Table().Len())

	require.NoError(t, h.Tick())
	for _, s := range onlyKind(h.tr.take(), protocol.KindRoute) {
		route := s.Pkt.(*protocol.Route)
		assert.True(t, state.VectorEqual([]state.Entry{
			entry("A.1", 0),
			entry("A.2", 1, "A.2"),
			entry("A.4", 2, "A.2", "A.4"),
		}, route.Entries), route.Entries)
	}
}

func TestRouter_HierarchicalAnnounce(t *testing.T) {
	h := newHarness(t, "A.1", func(cfg *state.LocalCfg) {
		cfg.Hierarchical = true
	})
	h.link(t, "A.2", 1)
	h.link(t, "B.1", 1)
	h.advertise(t, "A.2", entry("A.2", 0), entry("A.3", 1, "A.3"))
	h.Recompute()

	require.NoError(t, h.Tick())
	sent := onlyKind(h.tr.take(), protocol.KindRoute)
	require.Len(t, sent, 2)
	for _, s := range sent {
		route := s.Pkt.(*protocol.Route)
		switch s.To {
		case ep("A.2"):
			assert.Len(t, route.Entries, 3)
		case ep("B.1"):
			assert.True(t, state.VectorEqual([]state.Entry{entry("A.0", 0)}, route.Entries), route.Entries)
		default:
			t.Fatalf("unexpected destination %s", s.To)
		}
	}
}

func TestRouter_TickSurvivesSendFailure(t *testing.T) {
	h := newHarness(t, "A.1")
	h.link(t, "A.2", 1)
	h.advertise(t, "A.2", entry("A.2", 0))
	h.tr.fail = errors.New("network down")
	assert.NoError(t, h.Tick())
	assert.Equal(t, 2, h.Table().Len())
}

func TestRouter_HelloDiscovery(t *testing.T) {
	h := newHarness(t, "A.1")
	h.receive(t, "A.2", &protocol.Hello{Addr: addr("A.2"), Distance: 3})

	n := h.Neighbours.Get(addr("A.2"))
	require.NotNil(t, n)
	assert.True(t, n.RemoteInit)
	assert.Equal(t, 3, n.Distance())
	sent := h.tr.take()
	require.Len(t, sent, 1)
	assert.Equal(t, &protocol.Hello{Addr: addr("A.1"), Distance: 3}, sent[0].Pkt)

	// a known neighbour announcing a new distance is updated without a reply
	h.receive(t, "A.2", &protocol.Hello{Addr: addr("A.2"), Distance: 5})
	assert.Equal(t, 5, n.Distance())
	h.receive(t, "A.2", &protocol.Hello{Addr: addr("A.2"), Distance: 5})
	assert.Empty(t, h.tr.take())

	// a HELLO with our own address is a loop
	h.receive(t, "A.3", &protocol.Hello{Addr: addr("A.1"), Distance: 1})
	assert.Nil(t, h.Neighbours.LocateEndpoint(ep("A.3")))
	assert.Equal(t, uint64(4), h.Counters.ReceivedCount(protocol.KindHello))
}

func TestRouter_HelloRejectedWhenFull(t *testing.T) {
	h := newHarness(t, "A.1", func(cfg *state.LocalCfg) {
		cfg.MaxNeighbours = 1
	})
	h.link(t, "A.2", 1)
	h.receive(t, "A.3", &protocol.Hello{Addr: addr("A.3"), Distance: 1})
	assert.Nil(t, h.Neighbours.Get(addr("A.3")))
	assert.Empty(t, h.tr.take())
}

func TestRouter_Bye(t *testing.T) {
	h := newHarness(t, "A.1")
	h.link(t, "A.2", 1)
	h.link(t, "A.3", 1)

	// address does not match the endpoint
	h.receive(t, "A.2", &protocol.Bye{Addr: addr("A.3")})
	assert.Equal(t, 2, h.Neighbours.Len())

	h.receive(t, "A.2", &protocol.Bye{Addr: addr("A.2")})
	assert.Nil(t, h.Neighbours.Get(addr("A.2")))
	assert.NotNil(t, h.Neighbours.Get(addr("A.3")))
	assert.Empty(t, h.tr.take())
}

func TestRouter_RouteOrigin(t *testing.T) {
	h := newHarness(t, "A.1")
	n := h.link(t, "A.2", 1)

	// unknown endpoint
	h.advertise(t, "A.3", entry("A.3", 0))
	// sender does not match the neighbour bound to the endpoint
	h.receive(t, "A.2", &protocol.Route{Sender: addr("A.3"), TTL: 15, Entries: []state.Entry{entry("A.3", 0)}})
	// our own announcement reflected back
	h.receive(t, "A.2", &protocol.Route{Sender: addr("A.1"), TTL: 15, Entries: []state.Entry{entry("A.1", 0)}})
	assert.False(t, n.HasVector())

	h.advertise(t, "A.2", entry("A.2", 0), entry("A.3", 1, "A.3"))
	assert.Len(t, n.Vector(), 2)
	h.Recompute()
	nh, ok := h.NextHop(addr("A.3"))
	assert.True(t, ok)
	assert.Equal(t, addr("A.2"), nh)
	assert.Equal(t, uint64(4), h.Counters.ReceivedCount(protocol.KindRoute))
}

func TestRouter_RouteTTL(t *testing.T) {
	h := newHarness(t, "A.1")
	h.link(t, "A.2", 1)
	h.receive(t, "A.2", &protocol.Route{Sender: addr("A.2"), TTL: 5, Entries: []state.Entry{entry("A.2", 0)}})

	h.clock.Advance(4 * time.Second)
	h.Recompute()
	assert.Equal(t, 2, h.Table().Len())

	h.clock.Advance(2 * time.Second)
	h.Recompute()
	assert.Equal(t, 1, h.Table().Len())
	assert.NotNil(t, h.Neighbours.Get(addr("A.2")), "stale neighbours are kept")
}

func TestRouter_Malformed(t *testing.T) {
	h := newHarness(t, "A.1")
	h.HandlePacket(ep("A.2"), []byte{byte(protocol.KindHello), 0, 'A'})
	h.HandlePacket(ep("A.2"), []byte{42})
	h.HandlePacket(ep("A.2"), nil)
	assert.Equal(t, uint64(3), h.Counters.DroppedCount())
	assert.Equal(t, 0, h.Neighbours.Len())
	assert.Empty(t, h.tr.take())
}

// forwardingHarness is A.1 with neighbours A.2 and A.5. A.5 reaches A.3 and the B area.
func forwardingHarness(t *testing.T) *harness {
	h := newHarness(t, "A.1")
	h.link(t, "A.2", 1)
	h.link(t, "A.5", 1)
	h.advertise(t, "A.2", entry("A.2", 0))
	h.advertise(t, "A.5", entry("A.5", 0), entry("A.3", 1, "A.3"), entry("B.0", 2, "A.4", "B.0"))
	h.Recompute()
	h.tr.take()
	return h
}

func TestRouter_ForwardAppendsLocalOnce(t *testing.T) {
	h := forwardingHarness(t)
	h.receive(t, "A.2", &protocol.Data{
		Sender:  addr("A.2"),
		Dest:    addr("A.3"),
		Message: []byte("hello"),
		Path:    path("A.2"),
	})
	sent := h.tr.take()
	require.Len(t, sent, 1)
	assert.Equal(t, ep("A.5"), sent[0].To)
	assert.Equal(t, &protocol.Data{
		Sender:  addr("A.2"),
		Dest:    addr("A.3"),
		Message: []byte("hello"),
		Path:    path("A.2", "A.1"),
	}, sent[0].Pkt)
	assert.Equal(t, uint64(1), h.Counters.SentCount(protocol.KindData))
}

func TestRouter_ForwardOutsideArea(t *testing.T) {
	h := forwardingHarness(t)
	require.NoError(t, h.SendData(addr("B.7"), []byte("far")))
	sent := h.tr.take()
	require.Len(t, sent, 1)
	assert.Equal(t, ep("A.5"), sent[0].To)
	assert.Equal(t, path("A.1"), sent[0].Pkt.(*protocol.Data).Path)
}

func TestRouter_ForwardNoRoute(t *testing.T) {
	h := forwardingHarness(t)
	h.receive(t, "A.2", &protocol.Data{Sender: addr("A.2"), Dest: addr("C.1"), Message: []byte("x"), Path: path("A.2")})
	assert.Empty(t, h.tr.take())
	assert.Equal(t, uint64(1), h.Counters.DroppedCount())

	err := h.SendData(addr("A.9"), []byte("x"))
	assert.ErrorIs(t, err, ErrNoRoute)
	assert.Error(t, h.SendData(state.NoAddress, []byte("x")))
	assert.ErrorIs(t, h.SendData(addr("A.3"), make([]byte, state.MaxMessageLen+1)), ErrMessageLength)
}

func TestRouter_DropsLongPath(t *testing.T) {
	h := forwardingHarness(t)
	p := &protocol.Data{Sender: addr("A.2"), Dest: addr("A.3"), Message: []byte("x")}
	for range state.MaxPathLen + 1 {
		p.Path = p.Path.Append(addr("A.2"))
	}
	h.receive(t, "A.2", p)
	assert.Empty(t, h.tr.take())
	assert.Equal(t, uint64(1), h.Counters.DroppedCount())
}

func TestRouter_Deliver(t *testing.T) {
	h := forwardingHarness(t)
	var mu sync.Mutex
	got := make([]*protocol.Data, 0)
	h.OnDeliver = func(d *protocol.Data) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, d)
	}
	events, unsubscribe := h.Presenter.Subscribe(8)
	defer unsubscribe()

	h.receive(t, "A.5", &protocol.Data{Sender: addr("A.3"), Dest: addr("A.1"), Message: []byte("hi"), Path: path("A.3", "A.5")})
	require.NoError(t, h.SendData(addr("A.1"), []byte("me")))
	assert.Empty(t, h.tr.take(), "local delivery does not touch the network")

	mu.Lock()
	require.Len(t, got, 2)
	assert.Equal(t, path("A.3", "A.5"), got[0].Path)
	assert.Equal(t, []byte("me"), got[1].Message)
	assert.Equal(t, path("A.1"), got[1].Path)
	mu.Unlock()

	deliveries := 0
	timeout := time.After(time.Second)
	for deliveries < 2 {
		select {
		case ev := <-events:
			if d, ok := ev.(Delivery); ok {
				assert.Equal(t, addr("A.1"), d.Dest)
				deliveries++
			}
		case <-timeout:
			t.Fatal("deliveries were not published")
		}
	}
}

func TestRouter_Stop(t *testing.T) {
	h := forwardingHarness(t)
	h.Stop()
	h.Stop()

	sent := h.tr.take()
	require.Len(t, sent, 2)
	for _, s := range sent {
		assert.Equal(t, &protocol.Bye{Addr: addr("A.1")}, s.Pkt)
	}
	assert.Equal(t, 0, h.Table().Len())
	assert.Equal(t, 0, h.Neighbours.Len())
	assert.True(t, h.Stopped())

	// late packets and ticks are ignored
	h.receive(t, "A.2", &protocol.Hello{Addr: addr("A.2"), Distance: 1})
	assert.NoError(t, h.Tick())
	h.Recompute()
	assert.Equal(t, 0, h.Neighbours.Len())
	assert.Equal(t, 0, h.Table().Len())
	assert.ErrorIs(t, h.SendData(addr("A.3"), nil), ErrStopped)
	assert.Empty(t, h.tr.take())
	assert.Error(t, h.Start())
}

func TestRouter_StartAddsConfiguredNeighbours(t *testing.T) {
	h := newHarness(t, "A.1", func(cfg *state.LocalCfg) {
		cfg.Neighbours = []state.NeighbourCfg{
			{Address: addr("A.2"), Host: "10.0.0.2", Port: 20000, Distance: 1},
			{Address: addr("B.1"), Host: "10.0.1.1", Port: 20000, Distance: 2},
		}
	})
	require.NoError(t, h.Start())
	assert.Error(t, h.Start())
	assert.Equal(t, 2, h.Neighbours.Len())
	assert.False(t, h.Neighbours.Get(addr("B.1")).RemoteInit)
	assert.Equal(t, "HELLO 10.0.0.2:20000\nHELLO 10.0.1.1:20000", sortedSummary(h.tr))
	h.Stop()
}

func TestRouter_FirstAnnounceAfterStartupDelay(t *testing.T) {
	h := newHarness(t, "A.1", func(cfg *state.LocalCfg) {
		cfg.Neighbours = []state.NeighbourCfg{
			{Address: addr("A.2"), Host: "10.0.0.2", Port: 20000, Distance: 1},
		}
	})
	require.NoError(t, h.Start())
	defer h.Stop()

	// the periodic cycle would only run after period/2 = 5s
	var routes []sentPacket
	require.Eventually(t, func() bool {
		routes = append(routes, onlyKind(h.tr.take(), protocol.KindRoute)...)
		return len(routes) > 0
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, netip.MustParseAddrPort("10.0.0.2:20000"), routes[0].To)
}

func TestRouter_NeighbourTimeoutFollowsPeriod(t *testing.T) {
	h := newHarness(t, "A.1", func(cfg *state.LocalCfg) {
		cfg.Period = 120
	})
	assert.Equal(t, 60*time.Second, h.Period()/2)
	assert.Equal(t, 125*time.Second, h.RouteTTL())
	assert.Equal(t, 375*time.Second, h.neighTimeout)
	assert.Greater(t, h.neighTimeout, h.RouteTTL(), "a silent neighbour outlives at least one ROUTE TTL")

	h = newHarness(t, "A.1")
	assert.Equal(t, 45*time.Second, h.neighTimeout)

	env := state.NewEnv(context.Background(), h.LocalCfg, discardLogger())
	r := NewRouter(env, &recorder{}, WithNeighbourTimeout(time.Second))
	defer r.Presenter.Close()
	assert.Equal(t, time.Second, r.neighTimeout)
}

func TestRouter_HelloAfterStopIsIgnored(t *testing.T) {
	h := newHarness(t, "A.1")
	h.Stop()
	h.tr.take()

	// a handler that was already running when the router stopped
	h.handleHello(ep("A.2"), &protocol.Hello{Addr: addr("A.2"), Distance: 1})
	assert.Equal(t, 0, h.Neighbours.Len())
	assert.Empty(t, h.tr.take())
}

// the table seen by readers is always one of the tables that was published
func TestRouter_PublishIsAtomic(t *testing.T) {
	h := newHarness(t, "A.1")
	n := h.link(t, "A.2", 1)
	even := []state.Entry{entry("A.2", 0), entry("A.3", 1), entry("A.4", 1)}
	odd := []state.Entry{entry("A.2", 0), entry("A.5", 1), entry("A.6", 1)}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				tbl := h.Table()
				has := func(a string) bool {
					_, ok := tbl.Lookup(addr(a))
					return ok
				}
				switch tbl.Len() {
				case 1:
				case 4:
					e := has("A.3") && has("A.4") && !has("A.5") && !has("A.6")
					o := has("A.5") && has("A.6") && !has("A.3") && !has("A.4")
					if !e && !o {
						t.Errorf("observed a mixed table:\n%s", tbl)
						return
					}
				default:
					t.Errorf("observed a partial table:\n%s", tbl)
					return
				}
			}
		}()
	}
	for i := range 500 {
		vec := even
		if i%2 == 1 {
			vec = odd
		}
		require.NoError(t, n.UpdateVector(vec, time.Minute))
		h.Recompute()
	}
	cancel()
	wg.Wait()
}
