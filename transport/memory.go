package transport

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/netip"
	"sync"
)

type datagram struct {
	from netip.AddrPort
	pkt  []byte
}

type link struct {
	from, to netip.AddrPort
}

// Network is an in-process datagram network. Like UDP it never blocks the sender:
// datagrams to unknown endpoints, over lossy links or into full queues are lost.
type Network struct {
	mu        sync.RWMutex
	endpoints map[netip.AddrPort]*Endpoint
	loss      map[link]float64
}

func NewNetwork() *Network {
	return &Network{
		endpoints: make(map[netip.AddrPort]*Endpoint),
		loss:      make(map[link]float64),
	}
}

// Listen attaches a new endpoint with room for queue pending datagrams
func (n *Network) Listen(addr netip.AddrPort, queue int) (*Endpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.endpoints[addr]; ok {
		return nil, fmt.Errorf("address %s already in use", addr)
	}
	ep := &Endpoint{
		net:   n,
		addr:  addr,
		inbox: make(chan datagram, queue),
		done:  make(chan struct{}),
	}
	n.endpoints[addr] = ep
	return ep, nil
}

// SetLoss drops datagrams sent from a to b with probability p
func (n *Network) SetLoss(a, b netip.AddrPort, p float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p <= 0 {
		delete(n.loss, link{a, b})
		return
	}
	n.loss[link{a, b}] = p
}

// Cut drops every datagram sent from a to b
func (n *Network) Cut(a, b netip.AddrPort) {
	n.SetLoss(a, b, 1)
}

// Restore makes the link from a to b lossless again
func (n *Network) Restore(a, b netip.AddrPort) {
	n.SetLoss(a, b, 0)
}

func (n *Network) deliver(from, to netip.AddrPort, pkt []byte) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if p, ok := n.loss[link{from, to}]; ok && rand.Float64() < p {
		return
	}
	ep, ok := n.endpoints[to]
	if !ok {
		return
	}
	select {
	case <-ep.done:
	case ep.inbox <- datagram{from: from, pkt: append([]byte(nil), pkt...)}:
	default:
	}
}

// Endpoint is one socket on a Network
type Endpoint struct {
	net   *Network
	addr  netip.AddrPort
	inbox chan datagram
	once  sync.Once
	done  chan struct{}
}

func (e *Endpoint) LocalAddr() netip.AddrPort {
	return e.addr
}

func (e *Endpoint) Send(to netip.AddrPort, pkt []byte) error {
	select {
	case <-e.done:
		return ErrClosed
	default:
	}
	e.net.deliver(e.addr, to, pkt)
	return nil
}

// Serve passes queued datagrams to handler until ctx is cancelled or the endpoint is closed
func (e *Endpoint) Serve(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.done:
			return nil
		case d := <-e.inbox:
			handler(d.from, d.pkt)
		}
	}
}

// Close detaches the endpoint, its address can be reused afterwards
func (e *Endpoint) Close() error {
	e.once.Do(func() {
		close(e.done)
		e.net.mu.Lock()
		delete(e.net.endpoints, e.addr)
		e.net.mu.Unlock()
	})
	return nil
}
