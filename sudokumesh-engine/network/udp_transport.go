package network

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"
	"time"
)

// UDPTransport is the default Transport: one unconnected UDP socket per node.
// A refused datagram cannot be tied to its destination on a shared socket, so
// it never yields an UnreachableError; silent peers are caught by the stale
// timeout instead.
type UDPTransport struct {
	conn  *net.UDPConn
	local Address

	mu     sync.Mutex
	closed bool
}

// ListenUDP binds host:port and advertises advertiseHost (or the detected
// outbound IP when empty) as the node's address.
func ListenUDP(host string, port int, advertiseHost string) (*UDPTransport, error) {
	laddr, err := net.ResolveUDPAddr("udp", NewAddress(host, port).String())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s:%d: %w", host, port, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind udp %s: %w", laddr, err)
	}

	bound := AddressFromUDP(conn.LocalAddr().(*net.UDPAddr))
	if advertiseHost == "" {
		advertiseHost = host
		if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
			advertiseHost = OutboundIP()
		}
	}

	return &UDPTransport{
		conn:  conn,
		local: NewAddress(advertiseHost, bound.Port),
	}, nil
}

// OutboundIP returns the local IP used for outbound traffic, falling back to
// loopback when there is no route.
func OutboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return AddressFromUDP(conn.LocalAddr().(*net.UDPAddr)).Host
}

// LocalAddr implements Transport.
func (t *UDPTransport) LocalAddr() Address {
	return t.local
}

// Send implements Transport.
func (t *UDPTransport) Send(to Address, payload []byte) error {
	if len(payload) > MaxNetworkMessageSize {
		return ErrMessageTooBig
	}
	raddr, err := to.UDPAddr()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrTransportClosed
	}

	if _, err := t.conn.WriteToUDP(payload, raddr); err != nil {
		if isConnRefused(err) {
			// refers to some earlier datagram, not necessarily to "to"
			return nil
		}
		return fmt.Errorf("udp send to %s: %w", to, t.mapClosed(err))
	}
	return nil
}

// Recv implements Transport.
func (t *UDPTransport) Recv(timeout time.Duration) ([]byte, Address, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, Address{}, t.mapClosed(err)
	}

	buf := make([]byte, MaxNetworkMessageSize)
	n, raddr, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		var ne net.Error
		switch {
		case errors.As(err, &ne) && ne.Timeout():
			return nil, Address{}, ErrTimeout
		case isConnRefused(err):
			return nil, Address{}, ErrTimeout
		default:
			return nil, Address{}, t.mapClosed(err)
		}
	}
	return buf[:n], AddressFromUDP(raddr), nil
}

// Close implements Transport.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.conn.Close()
}

func (t *UDPTransport) mapClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return ErrTransportClosed
	}
	return err
}

func isConnRefused(err error) bool {
	var se *os.SyscallError
	if errors.As(err, &se) {
		return errors.Is(se.Err, syscall.ECONNREFUSED) || errors.Is(se.Err, syscall.ECONNRESET)
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}
