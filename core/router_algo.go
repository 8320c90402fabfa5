package core

import (
	"cmp"
	"slices"

	"github.com/encodeous/dvr/protocol"
	"github.com/encodeous/dvr/state"
)

type RouterEvent int

// trace events

const (
	TableChanged RouterEvent = iota
	RouteAdvertised
	VectorReceived
	NeighbourAdded
	NeighbourUpdated
	NeighbourRemoved
	NeighbourExpired
	PacketForwarded
	PacketDelivered
)

// warn events

const (
	InconsistentState RouterEvent = iota + 1000
	SendFailed
	MalformedPacket
	UnknownOrigin
	NoRoute
	VectorTruncated
	LoopDetected
)

func (e RouterEvent) String() string {
	switch e {
	case TableChanged:
		return "TableChanged"
	case RouteAdvertised:
		return "RouteAdvertised"
	case VectorReceived:
		return "VectorReceived"
	case NeighbourAdded:
		return "NeighbourAdded"
	case NeighbourUpdated:
		return "NeighbourUpdated"
	case NeighbourRemoved:
		return "NeighbourRemoved"
	case NeighbourExpired:
		return "NeighbourExpired"
	case PacketForwarded:
		return "PacketForwarded"
	case PacketDelivered:
		return "PacketDelivered"
	case InconsistentState:
		return "InconsistentState"
	case SendFailed:
		return "SendFailed"
	case MalformedPacket:
		return "MalformedPacket"
	case UnknownOrigin:
		return "UnknownOrigin"
	case NoRoute:
		return "NoRoute"
	case VectorTruncated:
		return "VectorTruncated"
	case LoopDetected:
		return "LoopDetected"
	default:
		return "UnknownEvent"
	}
}

func selfTable(local state.Address) *state.RoutingTable {
	tbl := state.NewRoutingTable()
	tbl.Insert(state.NewRouteEntry(local, 0, state.NoAddress, state.AddressList{}))
	return tbl
}

// ComputeRoutes runs one relaxation pass over the current neighbour vectors and returns a new table.
//
// A route is only replaced by a strictly shorter one. Entries whose path already holds the local
// address are skipped, as are entries from another area whose path re-enters the local area. Neighbours are visited in the order given,
// which is unordered when it comes from NeighbourList.All, so the winner between equal cost
// routes may differ from one cycle to the next.
func ComputeRoutes(local state.Address, neighs []*Neighbour) *state.RoutingTable {
	tbl := selfTable(local)
	for _, n := range neighs {
		if !n.IsValid() {
			continue
		}
		vec := n.Vector()
		if vec == nil {
			continue
		}
		link := n.Distance()
		hop := n.Id
		external := !hop.SameNetwork(local)
		if external {
			hop = hop.Network()
		}
		for _, e := range vec {
			cand := e.Dist + link
			if cand > state.MaxDistance {
				continue
			}
			// a route that already went through this node would loop
			if e.Dest == local || e.Path.Contains(local) {
				continue
			}
			// routers in other areas record this area by its network address only
			if external && e.Path.Contains(local.Network()) {
				continue
			}
			if cur, ok := tbl.Lookup(e.Dest); ok && cur.Dist <= cand {
				continue
			}
			tbl.Insert(state.NewRouteEntry(e.Dest, cand, n.Id, e.Path.Prepend(hop)))
		}
	}
	return tbl
}

func compareByDistance(a, b state.Entry) int {
	if c := cmp.Compare(a.Dist, b.Dist); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Dest.Area, b.Dest.Area); c != 0 {
		return c
	}
	return cmp.Compare(a.Dest.Machine, b.Dest.Machine)
}

// advertisement turns the table into the entries of a ROUTE packet, keeping the nearest
// destinations when the table does not fit.
func (r *Router) advertisement(tbl *state.RoutingTable) []state.Entry {
	vec := tbl.Vector()
	if len(vec) <= state.MaxVectorLen {
		return vec
	}
	slices.SortFunc(vec, compareByDistance)
	r.Log(VectorTruncated, "routing table does not fit in a ROUTE packet, advertising the nearest destinations",
		"routes", len(vec), "max", state.MaxVectorLen)
	return vec[:state.MaxVectorLen]
}

// announce sends the published table to every valid neighbour. In hierarchical mode neighbours
// outside the local area only learn that the area itself is reachable through this node.
func (r *Router) announce() {
	ttl := int(r.RouteTTL().Seconds())
	full := &protocol.Route{
		Sender:  r.Local(),
		TTL:     ttl,
		Entries: r.advertisement(r.Table()),
	}
	fullPkt, err := protocol.Encode(full)
	if err != nil {
		r.Log(InconsistentState, "failed to encode routing table", "err", err)
		return
	}
	var areaPkt []byte
	if r.hierarchical {
		area := &protocol.Route{
			Sender:  r.Local(),
			TTL:     ttl,
			Entries: []state.Entry{state.NewEntry(r.Local().Network(), 0, state.AddressList{})},
		}
		if areaPkt, err = protocol.Encode(area); err != nil {
			r.Log(InconsistentState, "failed to encode area advertisement", "err", err)
			return
		}
	}

	sent := 0
	for _, n := range r.Neighbours.All() {
		if !n.IsValid() {
			continue
		}
		pkt := fullPkt
		if r.hierarchical && !n.Id.SameNetwork(r.Local()) {
			pkt = areaPkt
		}
		if err := r.sender.SendRaw(n.Endpoint(), protocol.KindRoute, pkt); err != nil {
			r.Log(SendFailed, "failed to send ROUTE", "neigh", n, "err", err)
			continue
		}
		sent++
	}
	r.Log(RouteAdvertised, "announced routing table", "neighbours", sent, "routes", len(full.Entries))
}
