package network

import (
	"fmt"
	"sync"
	"time"
)

// MemoryNetwork connects MemoryTransports inside one process. Sending to an
// address with no open transport fails with *UnreachableError, the same way
// a dead UDP peer does.
type MemoryNetwork struct {
	mu        sync.RWMutex
	endpoints map[Address]*MemoryTransport
}

// NewMemoryNetwork creates an empty in-process network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{endpoints: make(map[Address]*MemoryTransport)}
}

type datagram struct {
	from    Address
	payload []byte
}

// MemoryTransport is a Transport attached to a MemoryNetwork.
type MemoryTransport struct {
	net   *MemoryNetwork
	local Address
	inbox chan datagram
	done  chan struct{}
	once  sync.Once
}

// Listen attaches a new transport at addr.
func (n *MemoryNetwork) Listen(addr Address) (*MemoryTransport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.endpoints[addr]; ok {
		return nil, fmt.Errorf("address %s already in use", addr)
	}
	t := &MemoryTransport{
		net:   n,
		local: addr,
		inbox: make(chan datagram, 1024),
		done:  make(chan struct{}),
	}
	n.endpoints[addr] = t
	return t, nil
}

func (n *MemoryNetwork) lookup(addr Address) *MemoryTransport {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.endpoints[addr]
}

func (n *MemoryNetwork) detach(t *MemoryTransport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.endpoints[t.local] == t {
		delete(n.endpoints, t.local)
	}
}

// LocalAddr implements Transport.
func (t *MemoryTransport) LocalAddr() Address {
	return t.local
}

// Send implements Transport. A full inbox drops the datagram silently.
func (t *MemoryTransport) Send(to Address, payload []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	if len(payload) > MaxNetworkMessageSize {
		return ErrMessageTooBig
	}

	dst := t.net.lookup(to)
	if dst == nil {
		return &UnreachableError{Addr: to}
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)
	select {
	case <-dst.done:
		return &UnreachableError{Addr: to}
	case dst.inbox <- datagram{from: t.local, payload: buf}:
	default:
	}
	return nil
}

// Recv implements Transport.
func (t *MemoryTransport) Recv(timeout time.Duration) ([]byte, Address, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-t.done:
		return nil, Address{}, ErrTransportClosed
	case d := <-t.inbox:
		return d.payload, d.from, nil
	case <-timer.C:
		return nil, Address{}, ErrTimeout
	}
}

// Close implements Transport.
func (t *MemoryTransport) Close() error {
	t.once.Do(func() {
		close(t.done)
		t.net.detach(t)
	})
	return nil
}
