// Package transport moves datagrams between routers. It knows nothing about their contents.
package transport

import (
	"errors"
	"net/netip"
)

// Handler receives one datagram. The slice is owned by the handler.
type Handler func(from netip.AddrPort, pkt []byte)

var ErrClosed = errors.New("transport closed")
