package state

import "time"

var (
	// MaxDistance is the routing infinity, routes with a larger distance are never installed
	MaxDistance = 16
	// MaxPathLen bounds the path carried by DATA packets
	MaxPathLen = 16
	// MaxNeighbours is the default capacity of the neighbour list
	MaxNeighbours = 10
	// MaxVectorLen is the maximum number of entries in a ROUTE packet
	MaxVectorLen = 30
	// MaxMessageLen is the maximum DATA payload, in bytes
	MaxMessageLen = 255

	DefaultPeriod = 10 * time.Second
	// RouteTTLSlack is added to the announce period to form the TTL advertised in ROUTE packets
	RouteTTLSlack = 5 * time.Second
	// NeighbourTimeoutFactor scales the ROUTE TTL into the time after which a neighbour learned from
	// a HELLO packet is evicted if it has gone silent. Neighbours from the local configuration are never evicted.
	NeighbourTimeoutFactor = 3
	// StartupDelay is how long a router waits for its first HELLO answers before the first announce
	StartupDelay = 200 * time.Millisecond

	DefaultPort = 20000
)
