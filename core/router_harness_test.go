package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/encodeous/dvr/protocol"
	"github.com/encodeous/dvr/state"
	"github.com/stretchr/testify/require"
)

func addr(s string) state.Address {
	return state.MustParseAddress(s)
}

func path(addrs ...string) state.AddressList {
	l := make(state.AddressList, 0, len(addrs))
	for _, a := range addrs {
		l = append(l, addr(a))
	}
	return l
}

// ep returns a distinct endpoint for each machine of each area
func ep(a string) netip.AddrPort {
	ad := addr(a)
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, ad.Area - 'A', byte(ad.Machine)}), 20000)
}

func staticResolver(_ context.Context, host string) (netip.Addr, error) {
	if host == "localhost" {
		return netip.MustParseAddr("127.0.0.1"), nil
	}
	return netip.ParseAddr(host)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentPacket struct {
	To  netip.AddrPort
	Pkt protocol.Packet
}

func (s sentPacket) String() string {
	return fmt.Sprintf("%s %s", s.Pkt.Kind(), s.To)
}

// recorder is a Transport that decodes and keeps everything it is asked to send
type recorder struct {
	mu   sync.Mutex
	sent []sentPacket
	fail error
}

func (r *recorder) Send(to netip.AddrPort, b []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	p, err := protocol.Decode(b)
	if err != nil {
		return err
	}
	r.sent = append(r.sent, sentPacket{To: to, Pkt: p})
	return nil
}

// take returns the recorded packets and forgets them
func (r *recorder) take() []sentPacket {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sent
	r.sent = nil
	return out
}

func (r *recorder) summary() string {
	rows := make([]string, 0)
	for _, p := range r.take() {
		rows = append(rows, p.String())
	}
	return strings.Join(rows, "\n")
}

func onlyKind(sent []sentPacket, kind protocol.Kind) []sentPacket {
	out := make([]sentPacket, 0)
	for _, s := range sent {
		if s.Pkt.Kind() == kind {
			out = append(out, s)
		}
	}
	return out
}

func sortedSummary(r *recorder) string {
	rows := strings.Split(r.summary(), "\n")
	slices.Sort(rows)
	return strings.Join(rows, "\n")
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	*Router
	tr    *recorder
	clock *fakeClock
}

func newHarness(t *testing.T, local string, mod ...func(cfg *state.LocalCfg)) *harness {
	t.Helper()
	cfg := state.LocalCfg{
		Address: addr(local),
		Bind:    ep(local),
		Period:  10,
	}
	for _, m := range mod {
		m(&cfg)
	}
	require.NoError(t, state.NodeConfigValidator(&cfg))
	h := &harness{
		tr:    &recorder{},
		clock: newFakeClock(),
	}
	env := state.NewEnv(context.Background(), cfg, discardLogger())
	h.Router = NewRouter(env, h.tr, WithResolver(staticResolver), WithClock(h.clock.Now))
	t.Cleanup(func() {
		h.Cancel(context.Canceled)
		h.Presenter.Close()
	})
	return h
}

// link registers a configured neighbour and forgets the HELLO it caused
func (h *harness) link(t *testing.T, neigh string, dist int) *Neighbour {
	t.Helper()
	e := ep(neigh)
	require.NoError(t, h.Neighbours.Add(context.Background(), addr(neigh), e.Addr().String(), e.Port(), dist, false))
	h.tr.take()
	return h.Neighbours.Get(addr(neigh))
}

func (h *harness) receive(t *testing.T, from string, p protocol.Packet) {
	t.Helper()
	b, err := protocol.Encode(p)
	require.NoError(t, err)
	h.HandlePacket(ep(from), b)
}

// advertise makes neigh announce vec to the router
func (h *harness) advertise(t *testing.T, neigh string, vec ...state.Entry) {
	t.Helper()
	h.receive(t, neigh, &protocol.Route{Sender: addr(neigh), TTL: 15, Entries: vec})
}

func entry(dest string, dist int, p ...string) state.Entry {
	return state.NewEntry(addr(dest), dist, path(p...))
}
