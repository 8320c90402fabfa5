package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/encodeous/dvr/protocol"
	"github.com/encodeous/dvr/state"
	"github.com/encodeous/dvr/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// testNode is a router running on an in-memory network through Run
type testNode struct {
	*Router
	done chan error

	mu        sync.Mutex
	delivered []*protocol.Data
}

func (n *testNode) deliveries() []*protocol.Data {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*protocol.Data(nil), n.delivered...)
}

type testNet struct {
	net   *transport.Network
	nodes map[string]*testNode
}

func newTestNet() *testNet {
	return &testNet{
		net:   transport.NewNetwork(),
		nodes: make(map[string]*testNode),
	}
}

// start launches a node whose configuration points at the given neighbours, all at distance 1
func (tn *testNet) start(t *testing.T, local string, hierarchical bool, neighs ...string) *testNode {
	t.Helper()
	cfg := state.LocalCfg{
		Address:      addr(local),
		Bind:         ep(local),
		Period:       1,
		Hierarchical: hierarchical,
	}
	for _, n := range neighs {
		e := ep(n)
		cfg.Neighbours = append(cfg.Neighbours, state.NeighbourCfg{
			Address:  addr(n),
			Host:     e.Addr().String(),
			Port:     e.Port(),
			Distance: 1,
		})
	}
	require.NoError(t, state.NodeConfigValidator(&cfg))
	conn, err := tn.net.Listen(ep(local), 64)
	require.NoError(t, err)

	env := state.NewEnv(context.Background(), cfg, discardLogger())
	node := &testNode{
		Router: NewRouter(env, conn, WithResolver(staticResolver)),
		done:   make(chan error, 1),
	}
	node.OnDeliver = func(d *protocol.Data) {
		node.mu.Lock()
		defer node.mu.Unlock()
		node.delivered = append(node.delivered, d)
	}
	go func() {
		node.done <- Run(node.Router, conn, RunOptions{PrintTable: true})
	}()
	tn.nodes[local] = node
	return node
}

func (tn *testNet) stop(t *testing.T, local string) {
	t.Helper()
	node := tn.nodes[local]
	node.Cancel(context.Canceled)
	select {
	case err := <-node.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("%s did not stop", local)
	}
	delete(tn.nodes, local)
}

func (tn *testNet) stopAll(t *testing.T) {
	for local := range tn.nodes {
		tn.stop(t, local)
	}
}

// converge ticks every node until cond holds
func (tn *testNet) converge(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, n := range tn.nodes {
			_ = n.Tick()
		}
		return cond()
	}, 10*time.Second, 20*time.Millisecond)
}

func hasRoute(r *Router, dest string, dist int, nh string, p ...string) bool {
	re, ok := r.Table().Lookup(addr(dest))
	return ok && re.Dist == dist && re.NextHop == addr(nh) && re.Path.Equal(path(p...))
}

// A.1 - A.2 - A.3 - B.1, each link only configured on its left end
func TestNetwork_Chain(t *testing.T) {
	defer goleak.VerifyNone(t)
	tn := newTestNet()
	a1 := tn.start(t, "A.1", false, "A.2")
	a2 := tn.start(t, "A.2", false, "A.3")
	a3 := tn.start(t, "A.3", false, "B.1")
	b1 := tn.start(t, "B.1", false)
	defer tn.stopAll(t)

	tn.converge(t, func() bool {
		return hasRoute(a1.Router, "B.1", 3, "A.2", "A.2", "A.3", "B.0") &&
			hasRoute(b1.Router, "A.1", 3, "A.3", "A.0", "A.2", "A.1") &&
			hasRoute(a3.Router, "A.1", 2, "A.2", "A.2", "A.1")
	})
	assert.True(t, a3.Neighbours.Get(addr("A.2")).RemoteInit, "A.3 learned A.2 from its HELLO")
	assert.False(t, a2.Neighbours.Get(addr("A.3")).RemoteInit)

	require.NoError(t, a1.SendData(addr("B.1"), []byte("across")))
	require.Eventually(t, func() bool { return len(b1.deliveries()) == 1 }, 5*time.Second, 10*time.Millisecond)
	d := b1.deliveries()[0]
	assert.Equal(t, addr("A.1"), d.Sender)
	assert.Equal(t, []byte("across"), d.Message)
	assert.Equal(t, path("A.1", "A.2", "A.3"), d.Path)

	// A.3 leaves, its BYE removes it from A.2 and B.1 and the routes through it disappear
	tn.stop(t, "A.3")
	require.Eventually(t, func() bool {
		return a2.Neighbours.Get(addr("A.3")) == nil
	}, 5*time.Second, 10*time.Millisecond)
	tn.converge(t, func() bool {
		_, ok := a1.Table().Lookup(addr("B.1"))
		_, ok2 := b1.Table().Lookup(addr("A.1"))
		return !ok && !ok2 && b1.Neighbours.Len() == 0
	})
}

func TestNetwork_Hierarchical(t *testing.T) {
	defer goleak.VerifyNone(t)
	tn := newTestNet()
	a1 := tn.start(t, "A.1", true, "A.2")
	tn.start(t, "A.2", true, "A.3")
	a3 := tn.start(t, "A.3", true, "B.1")
	b1 := tn.start(t, "B.1", true, "B.2")
	b2 := tn.start(t, "B.2", true)
	defer tn.stopAll(t)

	tn.converge(t, func() bool {
		return hasRoute(b2.Router, "A.0", 2, "B.1", "B.1", "A.0") &&
			hasRoute(a1.Router, "B.0", 3, "A.2", "A.2", "A.3", "B.0") &&
			hasRoute(a3.Router, "A.1", 2, "A.2", "A.2", "A.1")
	})
	// the inside of area A stays hidden from area B
	for _, r := range []*Router{b1.Router, b2.Router} {
		for _, re := range r.Table().Entries() {
			if re.Dest.Area == 'A' {
				assert.Equal(t, addr("A.0"), re.Dest, fmt.Sprint(re))
			}
		}
	}

	require.NoError(t, b2.SendData(addr("A.1"), []byte("into the area")))
	require.Eventually(t, func() bool { return len(a1.deliveries()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, path("B.2", "B.1", "A.3", "A.2"), a1.deliveries()[0].Path)
}
