package node

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/network"
	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/sudoku"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

var solvedGrid = sudoku.Grid{
	{1, 6, 3, 8, 9, 2, 7, 5, 4},
	{8, 5, 2, 7, 4, 1, 9, 6, 3},
	{7, 4, 9, 5, 3, 6, 2, 8, 1},
	{9, 8, 7, 2, 5, 4, 3, 1, 6},
	{5, 2, 6, 1, 7, 3, 4, 9, 8},
	{3, 1, 4, 9, 6, 8, 5, 7, 2},
	{6, 9, 1, 4, 2, 5, 8, 3, 7},
	{4, 7, 8, 3, 1, 9, 6, 2, 5},
	{2, 3, 5, 6, 8, 7, 1, 4, 9},
}

func puzzle() sudoku.Grid {
	g := solvedGrid
	g[0][0], g[0][4] = 0, 0
	g[3][2] = 0
	g[8][7], g[8][8] = 0, 0
	return g
}

// neverValid rejects every grid, so attempts run until stopped.
type neverValid struct{}

func (neverValid) Check(ctx context.Context, g sudoku.Grid) bool {
	time.Sleep(time.Millisecond)
	return false
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RecvTimeout = 20 * time.Millisecond
	cfg.KeepAliveInterval = 50 * time.Millisecond
	cfg.StaleTimeout = 3 * time.Second
	cfg.StatsTimeout = 2 * time.Second
	cfg.TopologyTimeout = 2 * time.Second
	cfg.SolverWorkers = 2
	cfg.Handicap = 0
	return cfg
}

type cluster struct {
	t   *testing.T
	net *network.MemoryNetwork
}

func newCluster(t *testing.T) *cluster {
	return &cluster{t: t, net: network.NewMemoryNetwork()}
}

func (c *cluster) start(port int, anchor *Node, opts ...func(*Config, *[]Option)) *Node {
	c.t.Helper()

	tr, err := c.net.Listen(network.NewAddress("127.0.0.1", port))
	require.NoError(c.t, err)

	cfg := testConfig()
	if anchor != nil {
		cfg.Anchor = anchor.Addr()
	}
	options := []Option{WithTransport(tr), WithLogger(zaptest.NewLogger(c.t))}
	for _, o := range opts {
		o(&cfg, &options)
	}

	n, err := New(cfg, options...)
	require.NoError(c.t, err)
	require.NoError(c.t, n.Start())
	c.t.Cleanup(func() { _ = n.Stop() })
	return n
}

func withValidator(v sudoku.Validator) func(*Config, *[]Option) {
	return func(_ *Config, opts *[]Option) { *opts = append(*opts, WithValidator(v)) }
}

func converged(nodes []*Node, count int) func() bool {
	return func() bool {
		for _, n := range nodes {
			if n.NodeCount() != count {
				return false
			}
		}
		return true
	}
}

// startMesh starts A, then B and C joining through A.
func startMesh(t *testing.T, c *cluster, opts ...func(*Config, *[]Option)) (a, b, cc *Node) {
	t.Helper()
	a = c.start(6000, nil, opts...)
	b = c.start(6001, a, opts...)
	require.Eventually(t, converged([]*Node{a, b}, 2), waitFor, tick)
	cc = c.start(6002, a, opts...)

	require.Eventually(t, func() bool {
		for _, n := range []*Node{a, b, cc} {
			if n.NodeCount() != 3 || len(n.Peers()) != 2 {
				return false
			}
		}
		return true
	}, waitFor, tick, "three nodes should form a full mesh")
	return a, b, cc
}

func TestJoinFormsFullMesh(t *testing.T) {
	c := newCluster(t)
	a, b, cc := startMesh(t, c)

	require.ElementsMatch(t, []network.Address{b.Addr(), cc.Addr()}, a.Peers())
	require.ElementsMatch(t, []network.Address{a.Addr(), cc.Addr()}, b.Peers())
	require.ElementsMatch(t, []network.Address{a.Addr(), b.Addr()}, cc.Peers())
}

func TestCountConvergesAfterJoins(t *testing.T) {
	c := newCluster(t)
	a := c.start(6100, nil)
	nodes := []*Node{a}
	for i := 1; i < 5; i++ {
		nodes = append(nodes, c.start(6100+i, a))
		require.Eventually(t, converged(nodes, len(nodes)), waitFor, tick)
	}
}

func TestDuplicateJoinKeepsCount(t *testing.T) {
	c := newCluster(t)
	a := c.start(6200, nil)
	b := c.start(6201, a)
	require.Eventually(t, converged([]*Node{a, b}, 2), waitFor, tick)

	require.NoError(t, a.dispatch.HandleJoinRequest(b.Addr(), &network.JoinRequest{}))
	require.Equal(t, 2, a.NodeCount())
	require.Len(t, a.Peers(), 1)
}

func TestUncleanDepartureConverges(t *testing.T) {
	c := newCluster(t)
	a, b, cc := startMesh(t, c)
	d := c.start(6003, a)
	require.Eventually(t, converged([]*Node{a, b, cc, d}, 4), waitFor, tick)

	require.NoError(t, d.Stop())

	survivors := []*Node{a, b, cc}
	require.Eventually(t, func() bool {
		for _, n := range survivors {
			if n.NodeCount() != 3 {
				return false
			}
			for _, p := range n.Peers() {
				if p == d.Addr() {
					return false
				}
			}
		}
		return true
	}, waitFor, tick, "survivors should drop D and count 3")
}

func TestNodeDownForAbsentAddressIsNoop(t *testing.T) {
	c := newCluster(t)
	a := c.start(6300, nil)
	b := c.start(6301, a)
	require.Eventually(t, converged([]*Node{a, b}, 2), waitFor, tick)

	stranger := network.NewAddress("10.0.0.1", 9)
	err := a.dispatch.HandleNodeDown(b.Addr(), &network.NodeDown{Address: stranger, NodeSent: []network.Address{b.Addr()}})
	require.NoError(t, err)

	require.Equal(t, 2, a.NodeCount())
	require.Equal(t, []network.Address{b.Addr()}, a.Peers())
}

func TestNodeDownForAbsentAddressKeepsQueriesWaiting(t *testing.T) {
	c := newCluster(t)
	a, b, cc := startMesh(t, c)

	id := network.RequestID{Seq: 900, Origin: a.Addr()}
	req := a.pending.open(id, 2)
	defer a.pending.close(id)
	require.True(t, a.pending.deliver(id, b.Addr(), &network.StatsAnswer{ReqID: id}))

	stranger := network.NewAddress("127.0.0.1", 6099)
	for i := 0; i < 2; i++ {
		err := a.dispatch.HandleNodeDown(b.Addr(), &network.NodeDown{Address: stranger, NodeSent: []network.Address{b.Addr()}})
		require.NoError(t, err)
	}

	select {
	case <-req.released:
		t.Fatalf("Expected query to wait for %s, released after one answer", cc.Addr())
	default:
	}
	require.Equal(t, 3, a.NodeCount())

	// the live peer still completes it
	require.True(t, a.pending.deliver(id, cc.Addr(), &network.StatsAnswer{ReqID: id}))
	select {
	case <-req.released:
	default:
		t.Fatal("Expected query released after both answers")
	}
}

func TestJoinRetriesAreBounded(t *testing.T) {
	mn := network.NewMemoryNetwork()
	anchor, err := mn.Listen(network.NewAddress("127.0.0.1", 6950))
	require.NoError(t, err)
	defer anchor.Close()
	tr, err := mn.Listen(network.NewAddress("127.0.0.1", 6951))
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Anchor = anchor.LocalAddr()
	cfg.JoinRetries = 2
	n, err := New(cfg, WithTransport(tr), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	require.NoError(t, n.Start())
	defer n.Stop()

	// the anchor never answers
	joins := 0
	deadline := time.Now().Add(20 * cfg.KeepAliveInterval)
	for time.Now().Before(deadline) {
		payload, _, err := anchor.Recv(cfg.KeepAliveInterval)
		if errors.Is(err, network.ErrTimeout) {
			continue
		}
		require.NoError(t, err)
		msg, err := network.Decode(payload)
		require.NoError(t, err)
		if msg.Command() == network.CmdJoinRequest {
			joins++
		}
	}
	require.Equal(t, 1+cfg.JoinRetries, joins, "initial join plus configured retries")
}

func TestStatsAggregation(t *testing.T) {
	c := newCluster(t)
	a, b, cc := startMesh(t, c)

	a.validations.Store(5)
	b.validations.Store(7)
	b.solved.Store(1)

	report, err := a.Stats(context.Background())
	require.NoError(t, err)

	require.Equal(t, int64(12), report.All.Validations)
	require.Equal(t, int64(1), report.All.Solved)
	require.Len(t, report.Nodes, 2)
	require.Equal(t, a.Addr().String(), report.Nodes[0].Address)
	require.Equal(t, int64(5), report.Nodes[0].Validations)
	require.Equal(t, b.Addr().String(), report.Nodes[1].Address)

	// the merged ledger is flooded to everyone
	require.Eventually(t, func() bool {
		return len(cc.LedgerSnapshot()) == 2 && len(b.LedgerSnapshot()) == 2
	}, waitFor, tick)
}

func TestStatsTimeoutReturnsPartialReport(t *testing.T) {
	c := newCluster(t)
	short := func(cfg *Config, _ *[]Option) { cfg.StatsTimeout = 200 * time.Millisecond }
	a := c.start(6400, nil, short)
	b := c.start(6401, a, short)
	require.Eventually(t, converged([]*Node{a, b}, 2), waitFor, tick)

	b.validations.Store(3)
	a.peers.setCount(5) // expects four answers, only B exists

	start := time.Now()
	report, err := a.Stats(context.Background())
	require.ErrorIs(t, err, ErrQueryTimeout)
	require.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	require.Len(t, report.Nodes, 1)
	require.Equal(t, int64(3), report.All.Validations)
}

func TestNetworkTopology(t *testing.T) {
	c := newCluster(t)
	a, b, cc := startMesh(t, c)

	topo, err := a.Network(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{a.Addr().String(), b.Addr().String(), cc.Addr().String()}, topo.Nodes())
	require.ElementsMatch(t, []string{a.Addr().String(), cc.Addr().String()}, topo[b.Addr().String()])
}

func TestNetworkTimeoutReturnsPartialTopology(t *testing.T) {
	c := newCluster(t)
	short := func(cfg *Config, _ *[]Option) { cfg.TopologyTimeout = 200 * time.Millisecond }
	a, b, cc := startMesh(t, c, short)

	a.peers.setCount(5) // expects four answers, only B and C exist

	start := time.Now()
	topo, err := a.Network(context.Background())
	require.ErrorIs(t, err, ErrQueryTimeout)
	require.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	require.Equal(t, []string{a.Addr().String(), b.Addr().String(), cc.Addr().String()}, topo.Nodes())
}

// startLine wires A - B - C by hand: C is reachable from A only through B.
func startLine(t *testing.T, c *cluster) (a, b, cc *Node) {
	t.Helper()
	a = c.start(6450, nil)
	b = c.start(6451, nil)
	cc = c.start(6452, nil)

	// count first, so reconciliation never fires while edges are added
	for _, n := range []*Node{a, b, cc} {
		n.peers.setCount(3)
	}
	a.peers.add(b.Addr())
	b.peers.add(a.Addr())
	b.peers.add(cc.Addr())
	cc.peers.add(b.Addr())
	return a, b, cc
}

func TestQueriesReachNodesBehindPeers(t *testing.T) {
	c := newCluster(t)
	a, b, cc := startLine(t, c)
	cc.validations.Store(4)

	report, err := a.Stats(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Nodes, 1)
	require.Equal(t, cc.Addr().String(), report.Nodes[0].Address)
	require.Equal(t, int64(4), report.All.Validations)

	// the merged ledger crosses B to reach C
	require.Eventually(t, func() bool {
		_, ok := cc.LedgerSnapshot()[cc.Addr().String()]
		return ok
	}, waitFor, tick)

	topo, err := a.Network(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{b.Addr().String()}, topo[a.Addr().String()])
	require.ElementsMatch(t, []string{a.Addr().String(), cc.Addr().String()}, topo[b.Addr().String()])
	require.Equal(t, []string{b.Addr().String()}, topo[cc.Addr().String()])

	require.Equal(t, []network.Address{b.Addr()}, a.Peers(), "answers from C must not add an edge")
}

func TestNetworkWithoutPeers(t *testing.T) {
	c := newCluster(t)
	a := c.start(6500, nil)

	_, err := a.Network(context.Background())
	require.ErrorIs(t, err, ErrNoPeers)
}

func TestQueriesRequireRunningNode(t *testing.T) {
	c := newCluster(t)
	a := c.start(6550, nil)
	require.NoError(t, a.Stop())

	_, err := a.Stats(context.Background())
	require.ErrorIs(t, err, ErrNodeNotRunning)
	_, err = a.Solve(context.Background(), puzzle())
	require.ErrorIs(t, err, ErrNodeNotRunning)
	require.ErrorIs(t, a.Start(), ErrNodeStopped)
}

func TestSolveRace(t *testing.T) {
	c := newCluster(t)
	a, b, cc := startMesh(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := a.Solve(ctx, puzzle())
	require.NoError(t, err)
	require.True(t, sudoku.IsSolved(res.Grid))
	require.Equal(t, solvedGrid, res.Grid)
	require.Greater(t, res.Elapsed, time.Duration(0))
	require.Contains(t, []network.Address{a.Addr(), b.Addr(), cc.Addr()}, res.Winner)

	total := a.validations.Load() + b.validations.Load() + cc.validations.Load()
	require.GreaterOrEqual(t, total, int64(1))
	require.Equal(t, int64(1), a.solved.Load())

	require.Eventually(t, func() bool {
		return b.races.attemptCount() == 0 && cc.races.attemptCount() == 0
	}, waitFor, tick, "remote attempts should stop")
}

func TestSolveAlone(t *testing.T) {
	c := newCluster(t)
	a := c.start(6600, nil)

	res, err := a.Solve(context.Background(), puzzle())
	require.NoError(t, err)
	require.Equal(t, a.Addr(), res.Winner)
	require.GreaterOrEqual(t, res.Validations, int64(1))
}

func TestSolveRejectsBadGrids(t *testing.T) {
	c := newCluster(t)
	a := c.start(6650, nil)

	bad := puzzle()
	bad[0][1] = 10
	_, err := a.Solve(context.Background(), bad)
	require.ErrorIs(t, err, sudoku.ErrInvalidGrid)

	conflict := puzzle()
	conflict[0][0] = conflict[0][1]
	_, err = a.Solve(context.Background(), conflict)
	require.ErrorIs(t, err, sudoku.ErrUnsolvable)
}

func TestSolveCancelStopsPeers(t *testing.T) {
	c := newCluster(t)
	a, b, cc := startMesh(t, c, withValidator(neverValid{}))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := a.Solve(ctx, puzzle())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, int64(0), a.solved.Load())

	require.Eventually(t, func() bool {
		return b.races.attemptCount() == 0 && cc.races.attemptCount() == 0
	}, waitFor, tick, "solved flood should stop remote attempts")
}

func TestLateSolveRequestIgnored(t *testing.T) {
	c := newCluster(t)
	a := c.start(6700, nil, withValidator(neverValid{}))

	id := network.RequestID{Seq: 42, Origin: peerB}
	require.NoError(t, a.dispatch.HandleSolved(peerB, &network.Solved{NodeSent: []network.Address{peerB}, ReqID: id}))
	require.NoError(t, a.dispatch.HandleSolveRequest(peerB, &network.SolveRequest{
		Sudoku:   puzzle(),
		Address:  peerB,
		NodeSent: []network.Address{peerB},
		ReqID:    id,
	}))
	require.Equal(t, 0, a.races.attemptCount())
}

func TestDepartedOriginCancelsAttempts(t *testing.T) {
	c := newCluster(t)
	a := c.start(6750, nil, withValidator(neverValid{}))

	id := network.RequestID{Seq: 1, Origin: peerB}
	require.NoError(t, a.dispatch.HandleSolveRequest(peerB, &network.SolveRequest{
		Sudoku:   puzzle(),
		Address:  peerB,
		NodeSent: []network.Address{peerB},
		ReqID:    id,
	}))
	// a duplicate delivery starts nothing new
	require.NoError(t, a.dispatch.HandleSolveRequest(peerC, &network.SolveRequest{
		Sudoku:   puzzle(),
		Address:  peerB,
		NodeSent: []network.Address{peerB, peerC},
		ReqID:    id,
	}))
	require.Equal(t, 1, a.races.attemptCount())

	require.NoError(t, a.dispatch.HandleNodeDown(peerC, &network.NodeDown{Address: peerB, NodeSent: []network.Address{peerC}}))
	require.Equal(t, 0, a.races.attemptCount())
}

func TestSolveAnswerMustKeepGivens(t *testing.T) {
	c := newCluster(t)
	a := c.start(6850, nil, withValidator(neverValid{}))

	type outcome struct {
		res SolveResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := a.Solve(context.Background(), puzzle())
		done <- outcome{res, err}
	}()

	var id network.RequestID
	require.Eventually(t, func() bool {
		a.races.mu.Lock()
		defer a.races.mu.Unlock()
		for k := range a.races.origins {
			id = k
			return true
		}
		return false
	}, waitFor, tick)

	// swapping two digits everywhere keeps the grid valid but breaks givens
	forged := solvedGrid
	for r := range forged {
		for col := range forged[r] {
			switch forged[r][col] {
			case 1:
				forged[r][col] = 2
			case 2:
				forged[r][col] = 1
			}
		}
	}
	require.True(t, sudoku.IsSolved(forged))
	require.NoError(t, a.dispatch.HandleSolveAnswer(peerB, &network.SolveAnswer{Sudoku: forged, ReqID: id}))

	select {
	case o := <-done:
		t.Fatalf("Expected race to continue, got %v (%v)", o.res.Grid, o.err)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, a.dispatch.HandleSolveAnswer(peerB, &network.SolveAnswer{Sudoku: solvedGrid, ReqID: id}))
	select {
	case o := <-done:
		require.NoError(t, o.err)
		require.Equal(t, solvedGrid, o.res.Grid)
		require.Equal(t, peerB, o.res.Winner)
	case <-time.After(waitFor):
		t.Fatal("Expected race to finish with the valid answer")
	}
}

func TestRecoveryGateBlocksNonCriticalSends(t *testing.T) {
	mn := network.NewMemoryNetwork()
	tr, err := mn.Listen(network.NewAddress("127.0.0.1", 6800))
	require.NoError(t, err)
	sink, err := mn.Listen(network.NewAddress("127.0.0.1", 6801))
	require.NoError(t, err)
	defer sink.Close()

	n, err := New(testConfig(), WithTransport(tr), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer n.Stop()

	// drive the recoverer by hand instead of Start
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.ctx = ctx

	n.recovery.report(peerD)
	require.True(t, n.recovery.active())

	n.send(sink.LocalAddr(), &network.Alive{})
	payload, _, err := sink.Recv(time.Second)
	require.NoError(t, err)
	msg, err := network.Decode(payload)
	require.NoError(t, err)
	require.Equal(t, network.CmdAlive, msg.Command())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		n.send(sink.LocalAddr(), &network.StatsAnswer{Validation: 1})
	}()

	_, _, err = sink.Recv(100 * time.Millisecond)
	require.True(t, errors.Is(err, network.ErrTimeout), "stats answer must wait for recovery, got %v", err)

	var rwg sync.WaitGroup
	n.recovery.start(ctx, &rwg)
	wg.Wait()

	payload, _, err = sink.Recv(time.Second)
	require.NoError(t, err)
	msg, err = network.Decode(payload)
	require.NoError(t, err)
	require.Equal(t, network.CmdStatsAnswer, msg.Command())
	require.False(t, n.recovery.active())

	cancel()
	rwg.Wait()
}

func TestLedgerPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	mn := network.NewMemoryNetwork()
	addr := network.NewAddress("127.0.0.1", 6900)

	cfg := testConfig()
	cfg.DataDir = dir

	tr, err := mn.Listen(addr)
	require.NoError(t, err)
	n, err := New(cfg, WithTransport(tr))
	require.NoError(t, err)
	require.NoError(t, n.Start())
	n.validations.Store(9)
	_, err = n.Stats(context.Background())
	require.NoError(t, err)
	require.NoError(t, n.Stop())

	tr, err = mn.Listen(addr)
	require.NoError(t, err)
	n, err = New(cfg, WithTransport(tr))
	require.NoError(t, err)
	defer n.Stop()

	entry, ok := n.LedgerSnapshot()[addr.String()]
	require.True(t, ok)
	require.Equal(t, int64(9), entry.Validations)
}
