//go:build e2e

package e2e

import (
	"context"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/encodeous/dvr/core"
	"github.com/encodeous/dvr/protocol"
	"github.com/encodeous/dvr/state"
	"github.com/encodeous/dvr/transport"
	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/require"
)

const WaitTimeout = 20 * time.Second

// Harness runs routers on real loopback UDP sockets. Each node is configured through a yaml file
// on disk, the same way the command line starts one.
type Harness struct {
	t       *testing.T
	Dir     string
	Period  int
	Level   slog.Level
	mu      sync.Mutex
	sockets map[state.Address]*transport.UDP
	cfgs    map[state.Address]*state.LocalCfg
	Nodes   map[state.Address]*Node
}

type Node struct {
	*core.Router
	Cfg     *state.LocalCfg
	console *io.PipeWriter
	errs    chan error

	mu    sync.Mutex
	inbox []*protocol.Data
}

func NewHarness(t *testing.T) *Harness {
	h := &Harness{
		t:       t,
		Dir:     t.TempDir(),
		Period:  1,
		Level:   slog.LevelInfo,
		sockets: make(map[state.Address]*transport.UDP),
		cfgs:    make(map[state.Address]*state.LocalCfg),
		Nodes:   make(map[state.Address]*Node),
	}
	t.Cleanup(h.Stop)
	return h
}

// AddNode binds a socket on an ephemeral loopback port for addr
func (h *Harness) AddNode(addr string) state.Address {
	h.t.Helper()
	a := state.MustParseAddress(addr)
	conn, err := transport.ListenUDP(netip.MustParseAddrPort("127.0.0.1:0"))
	require.NoError(h.t, err)
	h.sockets[a] = conn
	h.cfgs[a] = &state.LocalCfg{
		Address: a,
		Bind:    conn.LocalAddr(),
		Period:  h.Period,
		LogPath: filepath.Join(h.Dir, "logs", a.String()+".log"),
	}
	return a
}

// Link configures b as a neighbour of a, addressed by hostname
func (h *Harness) Link(a, b string, dist int) {
	from, to := state.MustParseAddress(a), state.MustParseAddress(b)
	cfg := h.cfgs[from]
	require.NotNil(h.t, cfg, "unknown node %s", a)
	require.Contains(h.t, h.sockets, to, "unknown node %s", b)
	cfg.Neighbours = append(cfg.Neighbours, state.NeighbourCfg{
		Address:  to,
		Host:     "localhost",
		Port:     h.sockets[to].LocalAddr().Port(),
		Distance: dist,
	})
}

// WriteConfig stores the node's configuration and returns its path
func (h *Harness) WriteConfig(a state.Address) string {
	h.t.Helper()
	b, err := yaml.Marshal(h.cfgs[a])
	require.NoError(h.t, err)
	p := filepath.Join(h.Dir, a.String()+".yaml")
	require.NoError(h.t, os.WriteFile(p, b, 0600))
	return p
}

// StartAll starts every node that is not running yet
func (h *Harness) StartAll() {
	h.t.Helper()
	for a := range h.cfgs {
		if _, ok := h.Nodes[a]; !ok {
			h.Start(a.String())
		}
	}
}

// Start loads the node's configuration back from disk and runs it on its socket
func (h *Harness) Start(addr string) *Node {
	h.t.Helper()
	a := state.MustParseAddress(addr)
	cfg, err := core.ReadNodeConfig(h.WriteConfig(a))
	require.NoError(h.t, err)
	require.NoError(h.t, state.NodeConfigValidator(cfg))

	conn, ok := h.sockets[a]
	if !ok {
		conn, err = transport.ListenUDP(cfg.Bind)
		require.NoError(h.t, err)
		h.sockets[a] = conn
	}

	log, closeLog, err := core.NewLogger(*cfg, h.Level)
	require.NoError(h.t, err)
	env := state.NewEnv(context.Background(), *cfg, log)
	in, console := io.Pipe()
	n := &Node{
		Router:  core.NewRouter(env, conn),
		Cfg:     cfg,
		console: console,
		errs:    make(chan error, 1),
	}
	n.OnDeliver = func(d *protocol.Data) {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.inbox = append(n.inbox, d)
	}
	go func() {
		err := core.Run(n.Router, conn, core.RunOptions{Level: h.Level, PrintTable: true, Console: in})
		_ = closeLog()
		n.errs <- err
	}()

	h.mu.Lock()
	h.Nodes[a] = n
	h.mu.Unlock()
	return n
}

func (h *Harness) Node(addr string) *Node {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Nodes[state.MustParseAddress(addr)]
}

// Kill stops a node. Its socket is released so Start can bind the same port again.
func (h *Harness) Kill(addr string) {
	h.t.Helper()
	a := state.MustParseAddress(addr)
	h.mu.Lock()
	n, ok := h.Nodes[a]
	delete(h.Nodes, a)
	h.mu.Unlock()
	if !ok {
		return
	}
	n.Cancel(context.Canceled)
	_ = n.console.Close()
	select {
	case err := <-n.errs:
		require.NoError(h.t, err)
	case <-time.After(5 * time.Second):
		h.t.Fatalf("%s did not stop", addr)
	}
	delete(h.sockets, a)
}

func (h *Harness) Stop() {
	h.mu.Lock()
	addrs := make([]state.Address, 0, len(h.Nodes))
	for a := range h.Nodes {
		addrs = append(addrs, a)
	}
	h.mu.Unlock()
	for _, a := range addrs {
		h.Kill(a.String())
	}
	for _, conn := range h.sockets {
		_ = conn.Close()
	}
}

// Type writes a console line to the node, as if typed on its stdin
func (n *Node) Type(line string) error {
	_, err := io.WriteString(n.console, line+"\n")
	return err
}

func (n *Node) Inbox() []*protocol.Data {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*protocol.Data(nil), n.inbox...)
}

// Distance returns the node's distance to addr, or -1 without a route
func (n *Node) Distance(addr string) int {
	re, ok := n.Table().Lookup(state.MustParseAddress(addr))
	if !ok {
		return -1
	}
	return re.Dist
}

// LogFile returns what the node has written to its log file so far
func (h *Harness) LogFile(addr string) string {
	h.t.Helper()
	b, err := os.ReadFile(h.cfgs[state.MustParseAddress(addr)].LogPath)
	require.NoError(h.t, err)
	return string(b)
}
