package node

import (
	"sync"
	"time"

	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/network"
)

// peerTable is the peer set plus the node-count estimate. Peers keep their
// insertion order; node_req answers and flood targets depend on it.
type peerTable struct {
	mu       sync.RWMutex
	self     network.Address
	peers    []network.Address
	lastSeen map[network.Address]time.Time
	count    int
	now      func() time.Time
}

func newPeerTable(self network.Address) *peerTable {
	return &peerTable{
		self:     self,
		lastSeen: make(map[network.Address]time.Time),
		count:    1,
		now:      time.Now,
	}
}

func (t *peerTable) indexLocked(addr network.Address) int {
	for i, p := range t.peers {
		if p == addr {
			return i
		}
	}
	return -1
}

// add inserts addr unless it is self, zero or already present.
func (t *peerTable) add(addr network.Address) bool {
	if addr == t.self || addr.IsZero() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.indexLocked(addr) >= 0 {
		return false
	}
	t.peers = append(t.peers, addr)
	t.lastSeen[addr] = t.now()
	return true
}

// remove deletes addr and reports whether it was present.
func (t *peerTable) remove(addr network.Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(addr)
}

func (t *peerTable) removeLocked(addr network.Address) bool {
	i := t.indexLocked(addr)
	if i < 0 {
		return false
	}
	t.peers = append(t.peers[:i], t.peers[i+1:]...)
	delete(t.lastSeen, addr)
	return true
}

// removeAndDecrement deletes addr and, only if it was a peer, lowers the
// count estimate. It returns the resulting estimate.
func (t *peerTable) removeAndDecrement(addr network.Address) (bool, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.removeLocked(addr) {
		return false, t.count
	}
	if t.count > 1 {
		t.count--
	}
	return true, t.count
}

func (t *peerTable) contains(addr network.Address) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.indexLocked(addr) >= 0
}

// list returns a copy of the peers in insertion order.
func (t *peerTable) list() []network.Address {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]network.Address, len(t.peers))
	copy(out, t.peers)
	return out
}

func (t *peerTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

func (t *peerTable) nodeCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}

func (t *peerTable) setCount(n int) {
	t.mu.Lock()
	t.count = n
	t.mu.Unlock()
}

func (t *peerTable) incrementCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
	return t.count
}

// reconcile raises the estimate to len(peers)+1 when it has fallen to or
// below the peer count. It reports whether it changed anything.
func (t *peerTable) reconcile() (bool, int, []network.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.count > len(t.peers) {
		return false, t.count, nil
	}
	t.count = len(t.peers) + 1
	out := make([]network.Address, len(t.peers))
	copy(out, t.peers)
	return true, t.count, out
}

// firstOtherThan returns the first peer that is not addr.
func (t *peerTable) firstOtherThan(addr network.Address) (network.Address, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range t.peers {
		if p != addr {
			return p, true
		}
	}
	return network.Address{}, false
}

// touch records traffic from addr, if it is a peer.
func (t *peerTable) touch(addr network.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.lastSeen[addr]; ok {
		t.lastSeen[addr] = t.now()
	}
}

// stale lists peers silent for longer than timeout.
func (t *peerTable) stale(timeout time.Duration) []network.Address {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cutoff := t.now().Add(-timeout)
	var out []network.Address
	for _, p := range t.peers {
		if t.lastSeen[p].Before(cutoff) {
			out = append(out, p)
		}
	}
	return out
}

// adjacency renders {self: [peers]} with "host:port" strings.
func (t *peerTable) adjacency() map[string][]string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	peers := make([]string, len(t.peers))
	for i, p := range t.peers {
		peers[i] = p.String()
	}
	return map[string][]string{t.self.String(): peers}
}
