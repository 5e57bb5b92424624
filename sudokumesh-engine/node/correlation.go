package node

import (
	"sync"

	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/network"
)

// pendingRequest collects answers to one network-wide query. It is released
// once answers from expected distinct addresses arrived.
type pendingRequest struct {
	expected int
	answers  map[network.Address]network.Message
	departed map[network.Address]struct{}
	released chan struct{}
	once     sync.Once
}

func (p *pendingRequest) releaseIfCompleteLocked() {
	if len(p.answers) >= p.expected {
		p.once.Do(func() { close(p.released) })
	}
}

// correlator is the pending-request table.
type correlator struct {
	mu       sync.Mutex
	requests map[network.RequestID]*pendingRequest
}

func newCorrelator() *correlator {
	return &correlator{requests: make(map[network.RequestID]*pendingRequest)}
}

// open registers id. A request expecting no answers is released at once.
func (c *correlator) open(id network.RequestID, expected int) *pendingRequest {
	p := &pendingRequest{
		expected: expected,
		answers:  make(map[network.Address]network.Message),
		departed: make(map[network.Address]struct{}),
		released: make(chan struct{}),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[id] = p
	p.releaseIfCompleteLocked()
	return p
}

// deliver records an answer. It reports false for unknown request ids.
// A second answer from the same address is ignored.
func (c *correlator) deliver(id network.RequestID, from network.Address, msg network.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.requests[id]
	if !ok {
		return false
	}
	if _, dup := p.answers[from]; dup {
		return true
	}
	p.answers[from] = msg
	p.releaseIfCompleteLocked()
	return true
}

// forget lowers the expectation of every request that addr has not answered
// yet, once per address.
func (c *correlator) forget(addr network.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range c.requests {
		if _, answered := p.answers[addr]; answered {
			continue
		}
		if _, gone := p.departed[addr]; gone {
			continue
		}
		p.departed[addr] = struct{}{}
		p.expected--
		p.releaseIfCompleteLocked()
	}
}

// close removes id and returns the answers collected so far.
func (c *correlator) close(id network.RequestID) map[network.Address]network.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.requests[id]
	if !ok {
		return nil
	}
	delete(c.requests, id)

	out := make(map[network.Address]network.Message, len(p.answers))
	for k, v := range p.answers {
		out[k] = v
	}
	return out
}

func (c *correlator) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}
