// Package network provides the wire layer of a SudokuMesh node.
//
// This package implements:
//   - Address and RequestID: node identity and query correlation keys
//   - Message, Encode, Decode: the closed set of protocol messages and their JSON codec
//   - Transport: datagram delivery over UDP, ZeroMQ, or an in-memory network for tests
//   - Propagator: seen-list flooding
package network

import (
	"errors"
	"fmt"
	"time"
)

// Transport errors
var (
	ErrTimeout         = errors.New("receive timed out")
	ErrPeerUnreachable = errors.New("peer unreachable")
	ErrTransportClosed = errors.New("transport closed")
)

// UnreachableError reports a peer the transport could not deliver to.
type UnreachableError struct {
	Addr Address
	Err  error
}

func (e *UnreachableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("peer %s unreachable", e.Addr)
	}
	return fmt.Sprintf("peer %s unreachable: %v", e.Addr, e.Err)
}

func (e *UnreachableError) Unwrap() error { return ErrPeerUnreachable }

// Transport moves opaque datagrams between addresses. Implementations must be
// safe for one concurrent receiver and any number of concurrent senders.
type Transport interface {
	// LocalAddr is the address peers reach this node on.
	LocalAddr() Address
	// Send delivers payload to the given address. Delivery is best effort.
	Send(to Address, payload []byte) error
	// Recv blocks for at most timeout. It returns ErrTimeout when nothing
	// arrived, an *UnreachableError when a previous send bounced and
	// ErrTransportClosed after Close.
	Recv(timeout time.Duration) ([]byte, Address, error)
	Close() error
}

// UnreachableAddr extracts the failed address from err, if any.
func UnreachableAddr(err error) (Address, bool) {
	var ue *UnreachableError
	if errors.As(err, &ue) {
		return ue.Addr, true
	}
	return Address{}, false
}
