//go:build integration

package integration

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/encodeous/dvr/core"
	"github.com/encodeous/dvr/protocol"
	"github.com/encodeous/dvr/state"
	"github.com/encodeous/dvr/transport"
	"github.com/stretchr/testify/require"
)

// VirtualHarness runs a set of routers on an in-memory network
type VirtualHarness struct {
	Net          *transport.Network
	Nodes        map[state.Address]*VirtualNode
	Period       int
	Hierarchical bool
	LogLevel     slog.Level
	cfgs         map[state.Address]*state.LocalCfg
}

type VirtualNode struct {
	*core.Router
	conn *transport.Endpoint
	errs chan error

	mu    sync.Mutex
	inbox []*protocol.Data
}

func (n *VirtualNode) Inbox() []*protocol.Data {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*protocol.Data(nil), n.inbox...)
}

func NewHarness() *VirtualHarness {
	return &VirtualHarness{
		Net:      transport.NewNetwork(),
		Nodes:    make(map[state.Address]*VirtualNode),
		Period:   1,
		LogLevel: slog.LevelWarn,
		cfgs:     make(map[state.Address]*state.LocalCfg),
	}
}

// Endpoint gives every address its own host on the virtual network
func Endpoint(a state.Address) netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{192, 168, a.Area, byte(a.Machine)}), 1234)
}

func (vh *VirtualHarness) NewNode(addr string) state.Address {
	a := state.MustParseAddress(addr)
	vh.cfgs[a] = &state.LocalCfg{
		Address:      a,
		Bind:         Endpoint(a),
		Period:       vh.Period,
		Hierarchical: vh.Hierarchical,
	}
	return a
}

// AddLink configures b as a neighbour of a. b learns about a from its HELLO.
func (vh *VirtualHarness) AddLink(a, b string, dist int) {
	from, to := state.MustParseAddress(a), state.MustParseAddress(b)
	cfg, ok := vh.cfgs[from]
	if !ok {
		panic(fmt.Sprintf("unknown node %s", a))
	}
	ep := Endpoint(to)
	cfg.Neighbours = append(cfg.Neighbours, state.NeighbourCfg{
		Address:  to,
		Host:     ep.Addr().String(),
		Port:     ep.Port(),
		Distance: dist,
	})
}

// SetLoss makes the link between a and b drop datagrams in both directions with probability p
func (vh *VirtualHarness) SetLoss(a, b string, p float64) {
	ea, eb := Endpoint(state.MustParseAddress(a)), Endpoint(state.MustParseAddress(b))
	vh.Net.SetLoss(ea, eb, p)
	vh.Net.SetLoss(eb, ea, p)
}

// Start listens on every endpoint before starting any router, so no HELLO is lost
func (vh *VirtualHarness) Start(t *testing.T) {
	t.Helper()
	for a, cfg := range vh.cfgs {
		require.NoError(t, state.NodeConfigValidator(cfg))
		conn, err := vh.Net.Listen(cfg.Bind, 256)
		require.NoError(t, err)
		log, _, err := core.NewLogger(*cfg, vh.LogLevel)
		require.NoError(t, err)
		env := state.NewEnv(context.Background(), *cfg, log)
		node := &VirtualNode{
			Router: core.NewRouter(env, conn),
			conn:   conn,
			errs:   make(chan error, 1),
		}
		node.OnDeliver = func(d *protocol.Data) {
			node.mu.Lock()
			defer node.mu.Unlock()
			node.inbox = append(node.inbox, d)
		}
		vh.Nodes[a] = node
	}
	for _, node := range vh.Nodes {
		go func() {
			node.errs <- core.Run(node.Router, node.conn, core.RunOptions{})
		}()
	}
}

func (vh *VirtualHarness) Node(addr string) *VirtualNode {
	return vh.Nodes[state.MustParseAddress(addr)]
}

// StopNode shuts a single router down, it says goodbye to its neighbours
func (vh *VirtualHarness) StopNode(t *testing.T, addr string) {
	t.Helper()
	a := state.MustParseAddress(addr)
	node, ok := vh.Nodes[a]
	if !ok {
		return
	}
	node.Cancel(context.Canceled)
	select {
	case err := <-node.errs:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("%s did not stop", addr)
	}
	delete(vh.Nodes, a)
}

func (vh *VirtualHarness) Stop(t *testing.T) {
	t.Helper()
	for a := range vh.Nodes {
		vh.StopNode(t, a.String())
	}
}

// WaitFor ticks every router until cond holds
func (vh *VirtualHarness) WaitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, n := range vh.Nodes {
			_ = n.Tick()
		}
		return cond()
	}, timeout, 50*time.Millisecond)
}

// Distance returns the distance from one node to another, or -1 without a route
func (vh *VirtualHarness) Distance(from, to string) int {
	re, ok := vh.Node(from).Table().Lookup(state.MustParseAddress(to))
	if !ok {
		return -1
	}
	return re.Dist
}
