package state

import (
	"cmp"
	"slices"
	"strings"
)

// RoutingTable maps destinations to the selected route. A table is built once per cycle,
// then published and never modified again.
type RoutingTable struct {
	routes map[Address]RouteEntry
}

func NewRoutingTable() *RoutingTable {
	return &RoutingTable{
		routes: make(map[Address]RouteEntry),
	}
}

// Insert adds or replaces the route to re.Dest. Only call this on a table that has not been published.
func (t *RoutingTable) Insert(re RouteEntry) {
	t.routes[re.Dest] = re
}

func (t *RoutingTable) Lookup(dest Address) (RouteEntry, bool) {
	if t == nil {
		return RouteEntry{}, false
	}
	re, ok := t.routes[dest]
	return re, ok
}

func (t *RoutingTable) NextHop(dest Address) (Address, bool) {
	re, ok := t.Lookup(dest)
	if !ok {
		return NoAddress, false
	}
	return re.NextHop, true
}

func (t *RoutingTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.routes)
}

func compareRoutes(a, b RouteEntry) int {
	if c := cmp.Compare(a.Dest.Area, b.Dest.Area); c != 0 {
		return c
	}
	return cmp.Compare(a.Dest.Machine, b.Dest.Machine)
}

// Entries returns the routes ordered by destination
func (t *RoutingTable) Entries() []RouteEntry {
	if t == nil {
		return nil
	}
	out := make([]RouteEntry, 0, len(t.routes))
	for _, re := range t.routes {
		out = append(out, re)
	}
	slices.SortFunc(out, compareRoutes)
	return out
}

// Vector returns the table as an advertisement, ordered by destination
func (t *RoutingTable) Vector() []Entry {
	entries := t.Entries()
	out := make([]Entry, 0, len(entries))
	for _, re := range entries {
		out = append(out, re.Entry.Clone())
	}
	return out
}

// Equal is true if both tables have the same destinations with equal routes
func (t *RoutingTable) Equal(o *RoutingTable) bool {
	if t == nil || o == nil {
		return t == o
	}
	if len(t.routes) != len(o.routes) {
		return false
	}
	for dest, re := range t.routes {
		ore, ok := o.routes[dest]
		if !ok || !re.Equal(ore) {
			return false
		}
	}
	return true
}

func (t *RoutingTable) String() string {
	rows := make([]string, 0)
	for _, re := range t.Entries() {
		rows = append(rows, re.String())
	}
	return strings.Join(rows, "\n")
}
