package node

import (
	"testing"
	"time"

	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/network"
)

var (
	selfAddr = network.NewAddress("127.0.0.1", 5000)
	peerB    = network.NewAddress("127.0.0.1", 5001)
	peerC    = network.NewAddress("127.0.0.1", 5002)
	peerD    = network.NewAddress("127.0.0.1", 5003)
)

func TestPeerTableAdd(t *testing.T) {
	pt := newPeerTable(selfAddr)

	if pt.add(selfAddr) {
		t.Error("Expected self to be rejected")
	}
	if pt.add(network.Address{}) {
		t.Error("Expected zero address to be rejected")
	}
	if !pt.add(peerB) || !pt.add(peerC) {
		t.Fatal("Expected new peers to be added")
	}
	if pt.add(peerB) {
		t.Error("Expected duplicate to be rejected")
	}

	got := pt.list()
	if len(got) != 2 || got[0] != peerB || got[1] != peerC {
		t.Errorf("Expected [B C] in insertion order, got %v", got)
	}
	if pt.nodeCount() != 1 {
		t.Errorf("Expected initial count 1, got %d", pt.nodeCount())
	}
}

func TestPeerTableRemoveAndDecrement(t *testing.T) {
	pt := newPeerTable(selfAddr)
	pt.add(peerB)
	pt.setCount(3)

	removed, count := pt.removeAndDecrement(peerC)
	if removed || count != 3 {
		t.Errorf("Expected absent address to leave count at 3, got removed=%v count=%d", removed, count)
	}

	removed, count = pt.removeAndDecrement(peerB)
	if !removed || count != 2 {
		t.Errorf("Expected removal to decrement to 2, got removed=%v count=%d", removed, count)
	}
	if pt.len() != 0 {
		t.Errorf("Expected empty peer set, got %v", pt.list())
	}
}

func TestPeerTableCountFloor(t *testing.T) {
	pt := newPeerTable(selfAddr)
	pt.add(peerB)

	if _, count := pt.removeAndDecrement(peerB); count != 1 {
		t.Errorf("Expected count to stay at 1, got %d", count)
	}
}

func TestPeerTableReconcile(t *testing.T) {
	pt := newPeerTable(selfAddr)
	pt.add(peerB)
	pt.add(peerC)

	changed, count, peers := pt.reconcile()
	if !changed || count != 3 || len(peers) != 2 {
		t.Errorf("Expected count raised to 3, got changed=%v count=%d peers=%v", changed, count, peers)
	}

	changed, _, _ = pt.reconcile()
	if changed {
		t.Error("Expected no change once count exceeds peers")
	}
}

func TestPeerTableFirstOtherThan(t *testing.T) {
	pt := newPeerTable(selfAddr)

	if _, ok := pt.firstOtherThan(peerB); ok {
		t.Error("Expected no candidate in an empty table")
	}

	pt.add(peerB)
	if _, ok := pt.firstOtherThan(peerB); ok {
		t.Error("Expected no candidate other than the requester")
	}

	pt.add(peerC)
	pt.add(peerD)
	got, ok := pt.firstOtherThan(peerB)
	if !ok || got != peerC {
		t.Errorf("Expected C, got %v (%v)", got, ok)
	}
}

func TestPeerTableStale(t *testing.T) {
	now := time.Unix(1000, 0)
	pt := newPeerTable(selfAddr)
	pt.now = func() time.Time { return now }

	pt.add(peerB)
	pt.add(peerC)

	now = now.Add(10 * time.Second)
	pt.touch(peerC)
	pt.touch(peerD) // not a peer, ignored

	stale := pt.stale(5 * time.Second)
	if len(stale) != 1 || stale[0] != peerB {
		t.Errorf("Expected only B stale, got %v", stale)
	}
}

func TestPeerTableAdjacency(t *testing.T) {
	pt := newPeerTable(selfAddr)
	pt.add(peerB)

	adj := pt.adjacency()
	peers, ok := adj["127.0.0.1:5000"]
	if !ok || len(peers) != 1 || peers[0] != "127.0.0.1:5001" {
		t.Errorf("Expected {self: [B]}, got %v", adj)
	}
}
