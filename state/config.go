package state

import (
	"fmt"
	"net/netip"
	"time"
)

// NeighbourCfg is a statically configured adjacency
type NeighbourCfg struct {
	Address  Address
	Host     string
	Port     uint16
	Distance int
}

// LocalCfg represents local node-level configuration
type LocalCfg struct {
	Address       Address        // address of this node, e.g. A.1
	Bind          netip.AddrPort // udp socket the node listens on
	Period        int            `yaml:",omitempty"`               // ROUTE announce period in seconds
	Hierarchical  bool           `yaml:",omitempty"`               // hide the area topology from routers in other areas
	MaxNeighbours int            `yaml:"max_neighbours,omitempty"` // capacity of the neighbour list
	Neighbours    []NeighbourCfg `yaml:",omitempty"`
	LogPath       string         `yaml:"log_path,omitempty"` // if not empty, the node will also write logs to this file
}

// AnnouncePeriod returns the configured period, or DefaultPeriod
func (c *LocalCfg) AnnouncePeriod() time.Duration {
	if c.Period <= 0 {
		return DefaultPeriod
	}
	return time.Duration(c.Period) * time.Second
}

// NeighbourTimeout is how long a neighbour learned from a HELLO may stay silent, a few ROUTE TTLs
func (c *LocalCfg) NeighbourTimeout() time.Duration {
	return time.Duration(NeighbourTimeoutFactor) * (c.AnnouncePeriod() + RouteTTLSlack)
}

// NeighbourCapacity returns the configured capacity, or MaxNeighbours
func (c *LocalCfg) NeighbourCapacity() int {
	if c.MaxNeighbours <= 0 {
		return MaxNeighbours
	}
	return c.MaxNeighbours
}

// SampleConfig returns a configuration for addr with one neighbour in the same area, on the next port
func SampleConfig(addr Address, port uint16) LocalCfg {
	peer := Address{Area: addr.Area, Machine: addr.Machine%9 + 1}
	return LocalCfg{
		Address: addr,
		Bind:    netip.AddrPortFrom(netip.IPv4Unspecified(), port),
		Period:  int(DefaultPeriod / time.Second),
		Neighbours: []NeighbourCfg{
			{
				Address:  peer,
				Host:     "127.0.0.1",
				Port:     port + 1,
				Distance: 1,
			},
		},
	}
}

func (n NeighbourCfg) String() string {
	return fmt.Sprintf("(%s ; %s ; %d ; %d)", n.Address, n.Host, n.Port, n.Distance)
}
