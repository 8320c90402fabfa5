package core

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/encodeous/dvr/protocol"
	"github.com/encodeous/dvr/state"
	"github.com/gaissmai/bart"
	"github.com/jellydator/ttlcache/v3"
)

var (
	ErrSelfAddress       = errors.New("neighbour address is the local address")
	ErrListFull          = errors.New("neighbour list is full")
	ErrDuplicateEndpoint = errors.New("endpoint is already used by another neighbour")
	ErrInvalidDistance   = errors.New("invalid distance")
	ErrUnknownNeighbour  = errors.New("unknown neighbour")
	ErrNetworkMismatch   = errors.New("neighbour changed network")
	ErrUnchanged         = errors.New("neighbour unchanged")
	ErrInvalidNeighbour  = errors.New("invalid neighbour")
	ErrListClosed        = errors.New("neighbour list is closed")
)

var loopback = func() *bart.Table[struct{}] {
	t := &bart.Table[struct{}]{}
	t.Insert(netip.MustParsePrefix("127.0.0.0/8"), struct{}{})
	t.Insert(netip.MustParsePrefix("::1/128"), struct{}{})
	return t
}()

func isLoopback(addr netip.Addr) bool {
	_, ok := loopback.Lookup(addr.Unmap())
	return ok
}

// sameHost compares endpoints, every loopback address is considered the same host
func sameHost(a, b netip.Addr) bool {
	a, b = a.Unmap(), b.Unmap()
	if a == b {
		return true
	}
	return isLoopback(a) && isLoopback(b)
}

// NeighbourRow is a presentation view of a neighbour
type NeighbourRow struct {
	Addr       state.Address
	Host       string
	Port       uint16
	Distance   int
	RemoteInit bool
	HasVector  bool
}

// NeighbourList owns the adjacencies of the local router and is the only mapping between
// addresses and endpoints. It is safe for concurrent use; packets are never sent while holding the lock.
type NeighbourList struct {
	sender   *Sender
	log      func(event RouterEvent, desc string, args ...any)
	resolve  Resolver
	clock    func() time.Time
	capacity int

	// OnChange is called after the set of neighbours or a link distance changed
	OnChange func()

	mu     sync.RWMutex
	closed bool
	neighs map[state.Address]*Neighbour
	// liveness holds remote-initiated neighbours, an expired item means the neighbour went silent
	liveness *ttlcache.Cache[state.Address, struct{}]
}

func NewNeighbourList(sender *Sender, capacity int, timeout time.Duration) *NeighbourList {
	if capacity <= 0 {
		capacity = state.MaxNeighbours
	}
	return &NeighbourList{
		sender:   sender,
		log:      func(RouterEvent, string, ...any) {},
		resolve:  ResolveHost,
		clock:    time.Now,
		capacity: capacity,
		neighs:   make(map[state.Address]*Neighbour),
		liveness: ttlcache.New[state.Address, struct{}](
			ttlcache.WithTTL[state.Address, struct{}](timeout),
			ttlcache.WithDisableTouchOnHit[state.Address, struct{}](),
		),
	}
}

func (l *NeighbourList) changed() {
	if l.OnChange != nil {
		l.OnChange()
	}
}

func (l *NeighbourList) Capacity() int {
	return l.capacity
}

func (l *NeighbourList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.neighs)
}

// Add registers a neighbour, or replaces the one with the same address. A new neighbour is greeted with a HELLO.
func (l *NeighbourList) Add(ctx context.Context, addr state.Address, host string, port uint16, dist int, remoteInit bool) error {
	if addr == l.sender.Local {
		return ErrSelfAddress
	}
	if addr.IsNetwork() {
		return fmt.Errorf("%w: %s is a network address", ErrInvalidNeighbour, addr)
	}
	if err := state.DistanceValidator(dist); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDistance, err)
	}
	n, err := NewNeighbour(ctx, l.resolve, l.clock, addr, host, port, dist)
	if err != nil {
		return err
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrListClosed
	}
	old, exists := l.neighs[addr]
	if !exists && len(l.neighs) >= l.capacity {
		l.mu.Unlock()
		return fmt.Errorf("%w (capacity %d)", ErrListFull, l.capacity)
	}
	if other := l.locateLocked(n.ep); other != nil && other.Id != addr {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s is bound to %s", ErrDuplicateEndpoint, n.ep, other.Id)
	}
	// a configured neighbour stays configured even if it greets us first
	n.RemoteInit = remoteInit && (!exists || old.RemoteInit)
	l.neighs[addr] = n
	if n.RemoteInit {
		l.liveness.Set(addr, struct{}{}, ttlcache.DefaultTTL)
	} else {
		l.liveness.Delete(addr)
	}
	l.mu.Unlock()

	l.log(NeighbourAdded, "neighbour registered", "neigh", n, "dist", dist, "remote", n.RemoteInit)
	if !exists {
		if err := n.SendHello(l.sender); err != nil {
			l.log(SendFailed, "failed to send HELLO", "neigh", n, "err", err)
		}
	}
	l.changed()
	return nil
}

// Update changes the link distance of the neighbour bound to the endpoint
func (l *NeighbourList) Update(addr state.Address, ep netip.AddrPort, dist int) error {
	n := l.LocateEndpoint(ep)
	if n == nil {
		return fmt.Errorf("%w: %s", ErrUnknownNeighbour, ep)
	}
	if err := state.DistanceValidator(dist); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDistance, err)
	}
	if !n.Id.SameNetwork(addr) {
		return fmt.Errorf("%w: %s claims to be %s", ErrNetworkMismatch, n.Id, addr)
	}
	if n.Distance() == dist {
		return ErrUnchanged
	}
	if err := n.SetDistance(dist); err != nil {
		return err
	}
	l.log(NeighbourUpdated, "neighbour distance changed", "neigh", n, "dist", dist)
	l.changed()
	return nil
}

// Remove deletes the neighbour with the given address
func (l *NeighbourList) Remove(addr state.Address, sendBye bool) error {
	l.mu.Lock()
	n, ok := l.neighs[addr]
	if ok {
		delete(l.neighs, addr)
		l.liveness.Delete(addr)
	}
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNeighbour, addr)
	}
	l.removed(n, sendBye)
	return nil
}

// RemoveNeighbour deletes n, if it is still the registered neighbour for its address
func (l *NeighbourList) RemoveNeighbour(n *Neighbour, sendBye bool) error {
	if n == nil {
		return ErrUnknownNeighbour
	}
	l.mu.Lock()
	cur, ok := l.neighs[n.Id]
	ok = ok && cur == n
	if ok {
		delete(l.neighs, n.Id)
		l.liveness.Delete(n.Id)
	}
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNeighbour, n.Id)
	}
	l.removed(n, sendBye)
	return nil
}

func (l *NeighbourList) removed(n *Neighbour, sendBye bool) {
	if sendBye {
		if err := n.SendBye(l.sender); err != nil {
			l.log(SendFailed, "failed to send BYE", "neigh", n, "err", err)
		}
	}
	l.log(NeighbourRemoved, "neighbour removed", "neigh", n)
	l.changed()
}

// Clear removes every neighbour
func (l *NeighbourList) Clear(sendBye bool) {
	l.clear(sendBye, false)
}

// Close removes every neighbour and refuses any later Add
func (l *NeighbourList) Close(sendBye bool) {
	l.clear(sendBye, true)
}

func (l *NeighbourList) clear(sendBye bool, final bool) {
	l.mu.Lock()
	l.closed = l.closed || final
	old := l.neighs
	l.neighs = make(map[state.Address]*Neighbour)
	l.liveness.DeleteAll()
	l.mu.Unlock()
	if len(old) == 0 {
		return
	}
	for _, n := range old {
		if sendBye {
			if err := n.SendBye(l.sender); err != nil {
				l.log(SendFailed, "failed to send BYE", "neigh", n, "err", err)
			}
		}
	}
	l.changed()
}

func (l *NeighbourList) Get(addr state.Address) *Neighbour {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.neighs[addr]
}

func (l *NeighbourList) locateLocked(ep netip.AddrPort) *Neighbour {
	for _, n := range l.neighs {
		if n.ep.Port() == ep.Port() && sameHost(n.ep.Addr(), ep.Addr()) {
			return n
		}
	}
	return nil
}

// LocateEndpoint finds the neighbour bound to ep
func (l *NeighbourList) LocateEndpoint(ep netip.AddrPort) *Neighbour {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.locateLocked(ep)
}

// Locate finds the neighbour bound to host:port. The host is compared as configured, then as an address.
func (l *NeighbourList) Locate(host string, port uint16) *Neighbour {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, n := range l.neighs {
		if n.Port == port && n.Host == host {
			return n
		}
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	return l.locateLocked(netip.AddrPortFrom(addr, port))
}

// All returns the registered neighbours in no particular order
func (l *NeighbourList) All() []*Neighbour {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Neighbour, 0, len(l.neighs))
	for _, n := range l.neighs {
		out = append(out, n)
	}
	return out
}

func compareNeighbours(a, b *Neighbour) int {
	if c := cmp.Compare(a.Id.Area, b.Id.Area); c != 0 {
		return c
	}
	return cmp.Compare(a.Id.Machine, b.Id.Machine)
}

func (l *NeighbourList) sorted() []*Neighbour {
	out := l.All()
	slices.SortFunc(out, compareNeighbours)
	return out
}

// Broadcast sends pkt to every valid neighbour except exclude
func (l *NeighbourList) Broadcast(kind protocol.Kind, pkt []byte, exclude *Neighbour) {
	for _, n := range l.All() {
		if n == exclude || !n.IsValid() {
			continue
		}
		if err := l.sender.SendRaw(n.ep, kind, pkt); err != nil {
			l.log(SendFailed, "broadcast failed", "neigh", n, "err", err)
		}
	}
}

// LocalVector describes the links of this node, one entry per valid neighbour.
// With includeSelf the vector starts with the local address at distance 0.
func (l *NeighbourList) LocalVector(includeSelf bool) []state.Entry {
	out := make([]state.Entry, 0)
	if includeSelf {
		out = append(out, state.NewEntry(l.sender.Local, 0, state.AddressList{}))
	}
	for _, n := range l.sorted() {
		if !n.IsValid() {
			continue
		}
		out = append(out, state.NewEntry(n.Id, n.Distance(), state.AddressList{n.Id}))
	}
	return out
}

// Snapshot returns the neighbours ordered by address
func (l *NeighbourList) Snapshot() []NeighbourRow {
	neighs := l.sorted()
	rows := make([]NeighbourRow, 0, len(neighs))
	for _, n := range neighs {
		rows = append(rows, NeighbourRow{
			Addr:       n.Id,
			Host:       n.Host,
			Port:       n.Port,
			Distance:   n.Distance(),
			RemoteInit: n.RemoteInit,
			HasVector:  n.HasVector(),
		})
	}
	return rows
}

// Touch marks a remote-initiated neighbour as alive
func (l *NeighbourList) Touch(addr state.Address) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n, ok := l.neighs[addr]
	if ok && n.RemoteInit {
		l.liveness.Set(addr, struct{}{}, ttlcache.DefaultTTL)
	}
}

// Gc evicts remote-initiated neighbours that have not been heard from within the liveness timeout
func (l *NeighbourList) Gc() []*Neighbour {
	evicted := make([]*Neighbour, 0)
	l.mu.Lock()
	for addr, n := range l.neighs {
		if !n.RemoteInit {
			continue
		}
		if l.liveness.Get(addr) == nil {
			delete(l.neighs, addr)
			evicted = append(evicted, n)
		}
	}
	l.liveness.DeleteExpired()
	l.mu.Unlock()
	for _, n := range evicted {
		l.log(NeighbourExpired, "neighbour went silent", "neigh", n)
	}
	if len(evicted) > 0 {
		l.changed()
	}
	return evicted
}
