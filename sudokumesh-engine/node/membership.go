package node

import (
	"go.uber.org/zap"

	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/network"
)

// dispatcher routes decoded messages to the node. Handlers run on the
// receive loop.
type dispatcher struct {
	n *Node
}

var _ network.Handler = (*dispatcher)(nil)

func (d *dispatcher) HandleJoinRequest(from network.Address, m *network.JoinRequest) error {
	n := d.n
	if n.peers.contains(from) {
		n.logger.Debug("duplicate join", zap.Stringer("peer", from))
		n.send(from, &network.JoinAnswer{Answer: network.AnswerACK, NodesNum: n.peers.nodeCount()})
		return nil
	}

	count := n.peers.incrementCount()
	existing := n.peers.list()
	seen := n.propagator.Origin(existing)
	n.broadcast(existing, func() network.Message {
		return &network.Update{NodesNum: count, NodeSent: seen}
	})

	n.peers.add(from)
	n.send(from, &network.JoinAnswer{Answer: network.AnswerACK, NodesNum: count})
	n.logger.Info("node joined", zap.Stringer("peer", from), zap.Int("count", count))
	return nil
}

func (d *dispatcher) HandleJoinAnswer(from network.Address, m *network.JoinAnswer) error {
	n := d.n
	if m.Answer != network.AnswerACK {
		n.logger.Warn("join refused", zap.Stringer("anchor", from), zap.String("answer", m.Answer))
		return nil
	}

	n.joined.Store(true)
	n.peers.add(from)
	n.peers.setCount(m.NodesNum)
	n.logger.Info("joined overlay", zap.Stringer("anchor", from), zap.Int("count", m.NodesNum))

	if m.NodesNum > 2 {
		n.send(from, &network.NodeRequest{})
	}
	return nil
}

func (d *dispatcher) HandleUpdate(from network.Address, m *network.Update) error {
	n := d.n
	n.peers.setCount(m.NodesNum)

	if m.NodesNum > 2 && n.peers.len() == 1 {
		n.send(from, &network.NodeRequest{})
		return nil
	}

	next, targets := n.propagator.Forward(m.NodeSent, n.peers.list())
	n.broadcast(targets, func() network.Message {
		return &network.Update{NodesNum: m.NodesNum, NodeSent: next}
	})
	return nil
}

func (d *dispatcher) HandleNodeRequest(from network.Address, m *network.NodeRequest) error {
	n := d.n
	if n.peers.add(from) {
		n.logger.Info("peer added from node request", zap.Stringer("peer", from))
	}

	candidate, ok := n.peers.firstOtherThan(from)
	if !ok {
		n.send(from, &network.NodeAnswer{})
		return nil
	}
	n.send(from, &network.NodeAnswer{Address: &candidate})
	return nil
}

func (d *dispatcher) HandleNodeAnswer(from network.Address, m *network.NodeAnswer) error {
	n := d.n
	if m.Address == nil {
		n.logger.Debug("no further nodes offered", zap.Stringer("from", from))
		return nil
	}

	addr := *m.Address
	if !n.peers.add(addr) {
		return nil
	}
	n.logger.Info("peer discovered", zap.Stringer("peer", addr), zap.Stringer("via", from))
	// Announce ourselves so the discovered node adds the reverse edge.
	n.send(addr, &network.Alive{})
	return nil
}

func (d *dispatcher) HandleNodeDown(from network.Address, m *network.NodeDown) error {
	n := d.n
	if n.peers.remove(m.Address) {
		n.logger.Info("peer reported down", zap.Stringer("peer", m.Address), zap.Stringer("reporter", from))
		n.forgetDeparted(m.Address)
	} else {
		// Queries never counted a non-peer; a race it originated may still run here.
		n.cancelAttemptsFrom(m.Address)
	}

	next, targets := n.propagator.Forward(m.NodeSent, n.peers.list())
	n.broadcast(targets, func() network.Message {
		return &network.NodeDown{Address: m.Address, NodeSent: next}
	})
	return nil
}

func (d *dispatcher) HandleAlive(from network.Address, m *network.Alive) error {
	if d.n.peers.add(from) {
		d.n.logger.Info("peer added from keep-alive", zap.Stringer("peer", from))
	}
	return nil
}
