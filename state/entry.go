package state

import (
	"fmt"
)

// Entry is one element of a distance vector
type Entry struct {
	Dest Address
	Dist int
	Path AddressList
}

func NewEntry(dest Address, dist int, path AddressList) Entry {
	return Entry{Dest: dest, Dist: dist, Path: path}
}

// ValidDistance reports whether d can be carried in an advertisement
func ValidDistance(d int) bool {
	return d >= 0 && d <= MaxDistance
}

func (e Entry) Clone() Entry {
	return Entry{Dest: e.Dest, Dist: e.Dist, Path: e.Path.Clone()}
}

func (e Entry) Equal(o Entry) bool {
	if e.Dest != o.Dest || e.Dist != o.Dist {
		return false
	}
	if e.Path.Len() == 0 && o.Path.Len() == 0 {
		return true
	}
	return e.Path.Equal(o.Path)
}

func (e Entry) String() string {
	return fmt.Sprintf("(%s,%d,%s)", e.Dest, e.Dist, e.Path)
}

// VectorEqual compares two vectors regardless of order. Every entry of a must match a distinct entry of b.
func VectorEqual(a, b []Entry) bool {
	if len(a) != len(b) {
		return false
	}
	matched := make([]bool, len(b))
	for _, x := range a {
		found := false
		for j, y := range b {
			if !matched[j] && x.Equal(y) {
				matched[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// RouteEntry is an Entry with the neighbour packets should be forwarded to
type RouteEntry struct {
	Entry
	NextHop Address
}

func NewRouteEntry(dest Address, dist int, nh Address, path AddressList) RouteEntry {
	return RouteEntry{
		Entry:   NewEntry(dest, dist, path),
		NextHop: nh,
	}
}

func (r RouteEntry) Equal(o RouteEntry) bool {
	return r.Entry.Equal(o.Entry) && r.NextHop == o.NextHop
}

func (r RouteEntry) String() string {
	return fmt.Sprintf("%s via %s (dist: %d, path: %s)", r.Dest, r.NextHop, r.Dist, r.Path)
}
