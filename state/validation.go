package state

import (
	"fmt"
	"net/netip"
	"strconv"
)

func DistanceValidator(d int) error {
	if d < 1 || d > MaxDistance {
		return fmt.Errorf("distance %d out of range [1, %d]", d, MaxDistance)
	}
	return nil
}

func BindValidator(s string) error {
	_, err := netip.ParseAddrPort(s)
	return err
}

func NodeConfigValidator(node *LocalCfg) error {
	if !node.Address.IsValid() {
		return fmt.Errorf("node.Address is invalid")
	}
	if node.Address.IsNetwork() {
		return fmt.Errorf("node.Address %s is a network address", node.Address)
	}
	if !node.Bind.IsValid() {
		return fmt.Errorf("node.Bind is invalid")
	}
	if node.Period < 0 {
		return fmt.Errorf("node.Period must not be negative")
	}
	if node.MaxNeighbours < 0 {
		return fmt.Errorf("node.MaxNeighbours must not be negative")
	}
	if len(node.Neighbours) > node.NeighbourCapacity() {
		return fmt.Errorf("%d neighbours configured, but the capacity is %d", len(node.Neighbours), node.NeighbourCapacity())
	}
	seen := make(map[Address]struct{})
	for _, n := range node.Neighbours {
		if !n.Address.IsValid() || n.Address.IsNetwork() {
			return fmt.Errorf("neighbour %s has an invalid address", n)
		}
		if n.Address == node.Address {
			return fmt.Errorf("neighbour %s has the address of this node", n)
		}
		if _, ok := seen[n.Address]; ok {
			return fmt.Errorf("duplicate neighbour found: %s", n.Address)
		}
		seen[n.Address] = struct{}{}
		if n.Host == "" {
			return fmt.Errorf("neighbour %s has no host", n)
		}
		if n.Port == 0 {
			return fmt.Errorf("neighbour %s has no port", n)
		}
		if err := DistanceValidator(n.Distance); err != nil {
			return fmt.Errorf("neighbour %s: %w", n.Address, err)
		}
	}
	return nil
}

// AddressValidator accepts the address of a router, network addresses are rejected
func AddressValidator(s string) error {
	a, err := ParseAddress(s)
	if err != nil {
		return err
	}
	if a.IsNetwork() {
		return fmt.Errorf("%s is a network address", a)
	}
	return nil
}

func PortValidator(s string) error {
	p, err := strconv.ParseUint(s, 10, 16)
	if err != nil || p == 0 {
		return fmt.Errorf("invalid port %q", s)
	}
	return nil
}
