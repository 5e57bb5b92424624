package node

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/network"
)

// recoverer serializes the handling of unreachable peers. While it has work
// queued the node is in disconnect recovery and only membership-critical
// messages may be sent.
type recoverer struct {
	n *Node

	mu     sync.Mutex
	queue  []network.Address
	queued map[network.Address]struct{}
	// done is non-nil while recovering and closed when the queue drains.
	done chan struct{}
	wake chan struct{}
}

func newRecoverer(n *Node) *recoverer {
	return &recoverer{
		n:      n,
		queued: make(map[network.Address]struct{}),
		wake:   make(chan struct{}, 1),
	}
}

func (r *recoverer) start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.run(ctx)
	}()
}

// report queues addr for recovery and closes the send gate.
func (r *recoverer) report(addr network.Address) {
	if addr.IsZero() || addr == r.n.self {
		return
	}

	r.mu.Lock()
	if _, ok := r.queued[addr]; ok {
		r.mu.Unlock()
		return
	}
	r.queued[addr] = struct{}{}
	r.queue = append(r.queue, addr)
	if r.done == nil {
		r.done = make(chan struct{})
		if r.n.metrics != nil {
			r.n.metrics.Recovering.Set(1)
		}
		r.n.logger.Warn("entering disconnect recovery", zap.Stringer("peer", addr))
	}
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// wait blocks until no recovery is in progress.
func (r *recoverer) wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *recoverer) active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done != nil
}

func (r *recoverer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case <-r.wake:
		}

		for {
			addr, ok := r.next()
			if !ok {
				break
			}
			r.n.handleDeparture(addr)
		}
	}
}

// next pops the next address, or opens the gate when the queue is empty.
func (r *recoverer) next() (network.Address, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.queue) == 0 {
		r.openLocked()
		return network.Address{}, false
	}
	addr := r.queue[0]
	r.queue = r.queue[1:]
	delete(r.queued, addr)
	return addr, true
}

func (r *recoverer) drain() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = nil
	r.queued = make(map[network.Address]struct{})
	r.openLocked()
}

func (r *recoverer) openLocked() {
	if r.done == nil {
		return
	}
	close(r.done)
	r.done = nil
	if r.n.metrics != nil {
		r.n.metrics.Recovering.Set(0)
	}
	r.n.logger.Info("disconnect recovery finished")
}

// handleDeparture removes a peer detected as gone, lowers the count estimate
// and tells the rest of the overlay.
func (n *Node) handleDeparture(addr network.Address) {
	removed, count := n.peers.removeAndDecrement(addr)
	if !removed {
		n.logger.Debug("unreachable address is not a peer", zap.Stringer("addr", addr))
		return
	}
	n.forgetDeparted(addr)

	if n.metrics != nil {
		n.metrics.Recoveries.Inc()
		n.metrics.UpdateMembership(n.peers.len(), count)
	}
	n.logger.Warn("peer departed", zap.Stringer("peer", addr), zap.Int("count", count))

	peers := n.peers.list()
	seen := n.propagator.Origin(peers)
	n.broadcast(peers, func() network.Message {
		return &network.NodeDown{Address: addr, NodeSent: seen}
	})
	n.broadcast(peers, func() network.Message {
		return &network.Update{NodesNum: count, NodeSent: seen}
	})
}
