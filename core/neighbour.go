package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/encodeous/dvr/perf"
	"github.com/encodeous/dvr/protocol"
	"github.com/encodeous/dvr/state"
)

// Resolver turns a configured host into an address the transport can send to
type Resolver func(ctx context.Context, host string) (netip.Addr, error)

// ResolveHost accepts literal addresses and falls back to the system resolver, preferring IPv4
func ResolveHost(ctx context.Context, host string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap(), nil
	}
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.Addr{}, err
	}
	if len(addrs) == 0 {
		return netip.Addr{}, fmt.Errorf("no addresses found for %s", host)
	}
	for _, a := range addrs {
		if a.Unmap().Is4() {
			return a.Unmap(), nil
		}
	}
	return addrs[0], nil
}

// Neighbour is a single adjacency. Identity and endpoint never change after creation,
// the link distance and the last received vector are guarded by mu.
type Neighbour struct {
	Id   state.Address
	Host string
	Port uint16
	// RemoteInit is set when the adjacency was learned from a HELLO rather than the local configuration
	RemoteInit bool

	ep    netip.AddrPort
	clock func() time.Time

	mu       sync.RWMutex
	dist     int
	vec      []state.Entry
	received time.Time
	ttl      time.Duration
}

// NewNeighbour resolves the endpoint and validates the link. The returned neighbour is always valid.
func NewNeighbour(ctx context.Context, resolve Resolver, clock func() time.Time, id state.Address, host string, port uint16, dist int) (*Neighbour, error) {
	if !id.IsValid() {
		return nil, fmt.Errorf("%w: %w", ErrInvalidNeighbour, state.ErrInvalidAddress)
	}
	if err := state.DistanceValidator(dist); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDistance, err)
	}
	if port == 0 {
		return nil, fmt.Errorf("%w: port must be set", ErrInvalidNeighbour)
	}
	if resolve == nil {
		resolve = ResolveHost
	}
	if clock == nil {
		clock = time.Now
	}
	ip, err := resolve(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %w", ErrInvalidNeighbour, host, err)
	}
	return &Neighbour{
		Id:    id,
		Host:  host,
		Port:  port,
		ep:    netip.AddrPortFrom(ip, port),
		clock: clock,
		dist:  dist,
	}, nil
}

func (n *Neighbour) Endpoint() netip.AddrPort {
	return n.ep
}

// IsValid is true when the neighbour has a usable identity and endpoint
func (n *Neighbour) IsValid() bool {
	return n != nil && n.Id.IsValid() && n.ep.IsValid()
}

func (n *Neighbour) Distance() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.dist
}

func (n *Neighbour) SetDistance(dist int) error {
	if err := state.DistanceValidator(dist); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDistance, err)
	}
	n.mu.Lock()
	n.dist = dist
	n.mu.Unlock()
	return nil
}

// UpdateVector replaces the stored vector, which stays usable for ttl
func (n *Neighbour) UpdateVector(vec []state.Entry, ttl time.Duration) error {
	if !n.IsValid() {
		return ErrInvalidNeighbour
	}
	cp := make([]state.Entry, 0, len(vec))
	for _, e := range vec {
		cp = append(cp, e.Clone())
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.vec = cp
	n.received = n.clock()
	n.ttl = ttl
	return nil
}

// Vector returns the last received vector, or nil if none arrived or it has expired
func (n *Neighbour) Vector() []state.Entry {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.vec == nil || n.clock().Sub(n.received) > n.ttl {
		return nil
	}
	return n.vec
}

// HasVector reports whether a vector was ever received, even an expired one
func (n *Neighbour) HasVector() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.vec != nil
}

func (n *Neighbour) SendHello(s *Sender) error {
	return s.Send(n.ep, &protocol.Hello{Addr: s.Local, Distance: n.Distance()})
}

func (n *Neighbour) SendBye(s *Sender) error {
	return s.Send(n.ep, &protocol.Bye{Addr: s.Local})
}

func (n *Neighbour) String() string {
	return fmt.Sprintf("%s@%s", n.Id, net.JoinHostPort(n.Host, strconv.Itoa(int(n.Port))))
}

// Transport delivers datagrams. Implementations must not block for long; delivery is best effort.
type Transport interface {
	Send(to netip.AddrPort, pkt []byte) error
}

var ErrNoTransport = errors.New("no transport attached")

// Sender encodes packets from the local router and counts what it sent
type Sender struct {
	Local     state.Address
	Transport Transport
	Counters  *perf.Counters
}

func (s *Sender) Send(to netip.AddrPort, p protocol.Packet) error {
	b, err := protocol.Encode(p)
	if err != nil {
		return err
	}
	return s.SendRaw(to, p.Kind(), b)
}

// SendRaw transmits an already encoded packet of the given kind
func (s *Sender) SendRaw(to netip.AddrPort, kind protocol.Kind, b []byte) error {
	if s.Transport == nil {
		return ErrNoTransport
	}
	if err := s.Transport.Send(to, b); err != nil {
		return fmt.Errorf("send %s to %s: %w", kind, to, err)
	}
	if s.Counters != nil {
		s.Counters.Sent(kind, len(b))
	}
	return nil
}
