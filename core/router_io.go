package core

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/encodeous/dvr/protocol"
	"github.com/encodeous/dvr/state"
)

var (
	ErrNoRoute       = errors.New("no route to destination")
	ErrStopped       = errors.New("router stopped")
	ErrMessageLength = fmt.Errorf("message longer than %d bytes", state.MaxMessageLen)
)

// HandlePacket processes one datagram received from the given endpoint
func (r *Router) HandlePacket(from netip.AddrPort, b []byte) {
	if r.stopped.Load() {
		return
	}
	pkt, err := protocol.Decode(b)
	if err != nil {
		r.Counters.Dropped()
		r.Log(MalformedPacket, "dropped packet", "from", from, "err", err)
		return
	}
	r.Counters.Received(pkt.Kind(), len(b))
	switch p := pkt.(type) {
	case *protocol.Hello:
		r.handleHello(from, p)
	case *protocol.Bye:
		r.handleBye(from, p)
	case *protocol.Route:
		r.handleRoute(from, p)
	case *protocol.Data:
		r.handleData(from, p)
	}
}

func (r *Router) handleHello(from netip.AddrPort, p *protocol.Hello) {
	if p.Addr == r.Local() {
		r.Log(LoopDetected, "received HELLO carrying the local address", "from", from)
		return
	}
	n := r.Neighbours.LocateEndpoint(from)
	if n == nil {
		err := r.Neighbours.Add(r.Context, p.Addr, from.Addr().String(), from.Port(), p.Distance, true)
		if err != nil {
			r.Log(UnknownOrigin, "rejected HELLO from new neighbour", "from", from, "addr", p.Addr, "err", err)
		}
		return
	}
	err := r.Neighbours.Update(p.Addr, from, p.Distance)
	if err != nil && !errors.Is(err, ErrUnchanged) {
		r.Log(UnknownOrigin, "rejected HELLO", "from", from, "addr", p.Addr, "err", err)
		return
	}
	r.Neighbours.Touch(n.Id)
}

func (r *Router) handleBye(from netip.AddrPort, p *protocol.Bye) {
	n := r.Neighbours.LocateEndpoint(from)
	if n == nil {
		r.Log(UnknownOrigin, "BYE from unknown endpoint", "from", from, "addr", p.Addr)
		return
	}
	if n.Id != p.Addr {
		r.Log(UnknownOrigin, "BYE address does not match the neighbour", "from", from, "addr", p.Addr, "neigh", n)
		return
	}
	if err := r.Neighbours.RemoveNeighbour(n, false); err != nil {
		r.Log(InconsistentState, "failed to remove neighbour", "neigh", n, "err", err)
	}
}

func (r *Router) handleRoute(from netip.AddrPort, p *protocol.Route) {
	if p.Sender == r.Local() {
		r.Log(LoopDetected, "received ROUTE carrying the local address", "from", from)
		return
	}
	n := r.Neighbours.LocateEndpoint(from)
	if n == nil || n.Id != p.Sender {
		r.Log(UnknownOrigin, "ROUTE from unknown neighbour", "from", from, "sender", p.Sender)
		return
	}
	if err := n.UpdateVector(p.Entries, time.Duration(p.TTL)*time.Second); err != nil {
		r.Log(InconsistentState, "failed to store vector", "neigh", n, "err", err)
		return
	}
	r.Neighbours.Touch(n.Id)
	r.Log(VectorReceived, "stored vector", "neigh", n, "entries", len(p.Entries), "ttl", p.TTL)
}

func (r *Router) handleData(from netip.AddrPort, p *protocol.Data) {
	if n := r.Neighbours.LocateEndpoint(from); n != nil {
		r.Neighbours.Touch(n.Id)
	}
	if p.Dest == r.Local() {
		r.deliver(p)
		return
	}
	if err := r.forward(p); err != nil {
		r.Counters.Dropped()
		r.Log(NoRoute, "discarded DATA packet", "from", from, "src", p.Sender, "dst", p.Dest, "err", err)
	}
}

// SendData originates a message from this node
func (r *Router) SendData(dest state.Address, msg []byte) error {
	if r.stopped.Load() {
		return ErrStopped
	}
	if len(msg) > state.MaxMessageLen {
		return ErrMessageLength
	}
	if !dest.IsValid() {
		return fmt.Errorf("%w: %s", state.ErrInvalidAddress, dest)
	}
	p := &protocol.Data{
		Sender:  r.Local(),
		Dest:    dest,
		Message: msg,
	}
	if dest == r.Local() {
		p.Path = state.AddressList{r.Local()}
		r.deliver(p)
		return nil
	}
	return r.forward(p)
}

// forward appends the local address to the path and sends a freshly encoded packet to the next hop
func (r *Router) forward(p *protocol.Data) error {
	nh, ok := r.NextHop(p.Dest)
	if !ok || !nh.IsValid() {
		return fmt.Errorf("%w %s", ErrNoRoute, p.Dest)
	}
	n := r.Neighbours.Get(nh)
	if !n.IsValid() {
		return fmt.Errorf("%w %s: next hop %s is not a neighbour", ErrNoRoute, p.Dest, nh)
	}
	out := &protocol.Data{
		Sender:  p.Sender,
		Dest:    p.Dest,
		Message: p.Message,
		Path:    p.Path.Append(r.Local()),
	}
	if err := r.sender.Send(n.Endpoint(), out); err != nil {
		return err
	}
	r.Log(PacketForwarded, "forwarded DATA", "src", p.Sender, "dst", p.Dest, "via", n)
	return nil
}

func (r *Router) deliver(p *protocol.Data) {
	r.Env.Log.Info("DATA packet reached its destination", "src", p.Sender, "path", p.Path.String(), "len", len(p.Message))
	r.Log(PacketDelivered, "delivered DATA", "src", p.Sender)
	r.Presenter.Publish(Delivery{
		Sender:  p.Sender,
		Dest:    p.Dest,
		Message: p.Message,
		Path:    p.Path,
	})
	if r.OnDeliver != nil {
		r.OnDeliver(p)
	}
}
