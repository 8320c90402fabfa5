package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync/atomic"
	"time"
)

// MaxDatagram is the largest datagram Serve can receive
const MaxDatagram = 64 * 1024

// UDP is a datagram transport bound to a single socket
type UDP struct {
	conn   *net.UDPConn
	closed atomic.Bool
}

func ListenUDP(bind netip.AddrPort) (*UDP, error) {
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(bind))
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", bind, err)
	}
	return &UDP{conn: conn}, nil
}

func (u *UDP) LocalAddr() netip.AddrPort {
	return u.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

func (u *UDP) Send(to netip.AddrPort, pkt []byte) error {
	if u.closed.Load() {
		return ErrClosed
	}
	_, err := u.conn.WriteToUDPAddrPort(pkt, to)
	return err
}

// Serve reads datagrams and passes them to handler until ctx is cancelled or the socket is closed
func (u *UDP) Serve(ctx context.Context, handler Handler) error {
	stop := context.AfterFunc(ctx, func() {
		// unblock the pending read
		_ = u.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, MaxDatagram)
	for {
		n, from, err := u.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil || u.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			return fmt.Errorf("read from %s: %w", u.LocalAddr(), err)
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		handler(netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), pkt)
	}
}

func (u *UDP) Close() error {
	if u.closed.Swap(true) {
		return nil
	}
	return u.conn.Close()
}
