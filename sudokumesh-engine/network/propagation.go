package network

import (
	"sync/atomic"
)

// Propagator computes flood targets from seen-lists. A flooded message
// carries the addresses that already have it; each hop forwards only to its
// peers missing from that list and extends the list before sending.
//
// No message-id cache is kept: a node that receives a message twice simply
// finds every peer already in the seen-list.
type Propagator struct {
	self Address

	forwarded  atomic.Int64
	suppressed atomic.Int64
}

// NewPropagator creates a propagator for the node at self.
func NewPropagator(self Address) *Propagator {
	return &Propagator{self: self}
}

// Forward returns the peers that have not seen the message, in peer order,
// and the seen-list to attach to the forwarded copies: seen ∪ peers ∪ {self}.
func (p *Propagator) Forward(seen, peers []Address) (next, targets []Address) {
	next = make([]Address, 0, len(seen)+len(peers)+1)
	next = append(next, seen...)

	for _, peer := range peers {
		if ContainsAddress(seen, peer) {
			p.suppressed.Add(1)
			continue
		}
		targets = append(targets, peer)
		next = append(next, peer)
	}
	if !ContainsAddress(next, p.self) {
		next = append(next, p.self)
	}

	p.forwarded.Add(int64(len(targets)))
	return next, targets
}

// Origin returns the seen-list for a message this node starts: its peers
// plus itself.
func (p *Propagator) Origin(peers []Address) []Address {
	seen := make([]Address, 0, len(peers)+1)
	seen = append(seen, peers...)
	if !ContainsAddress(seen, p.self) {
		seen = append(seen, p.self)
	}
	return seen
}

// PropagatorStats contains propagator statistics.
type PropagatorStats struct {
	Forwarded  int64 `json:"forwarded"`
	Suppressed int64 `json:"suppressed"`
}

// GetStats returns propagator statistics.
func (p *Propagator) GetStats() PropagatorStats {
	return PropagatorStats{
		Forwarded:  p.forwarded.Load(),
		Suppressed: p.suppressed.Load(),
	}
}
