package node

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/ledger"
	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/network"
)

// StatsTotals sums the ledger.
type StatsTotals struct {
	Solved      int64 `json:"solved"`
	Validations int64 `json:"validations"`
}

// NodeStats is one ledger row.
type NodeStats struct {
	Address     string `json:"address"`
	Validations int64  `json:"validations"`
}

// StatsReport is the result of a stats query.
type StatsReport struct {
	All   StatsTotals `json:"all"`
	Nodes []NodeStats `json:"nodes"`
}

// TopologyReport maps every reached node to its peers, as "host:port".
type TopologyReport map[string][]string

// Stats collects validation and solve counters from every node, merges them
// into the ledger and floods the merged ledger. When the timeout expires
// first the report built from the answers so far is returned with
// ErrQueryTimeout.
func (n *Node) Stats(ctx context.Context) (StatsReport, error) {
	nctx, err := n.context()
	if err != nil {
		return StatsReport{}, err
	}
	start := time.Now()

	if v := n.validations.Load(); v != 0 {
		if err := n.ledger.Set(n.self.String(), ledger.Entry{Validations: v, Solved: n.solved.Load()}); err != nil {
			n.logger.Warn("ledger write failed", zap.Error(err))
		}
	}

	answers, qerr := n.query(ctx, nctx, n.cfg.StatsTimeout, func(id network.RequestID, seen []network.Address) network.Message {
		return &network.StatsRequest{Address: n.self, NodeSent: seen, ReqID: id}
	})
	if qerr != nil && !errors.Is(qerr, ErrQueryTimeout) {
		n.recordQuery("stats", qerr, start)
		return StatsReport{}, qerr
	}

	merged := make(map[string]ledger.Entry, len(answers))
	for from, msg := range answers {
		a, ok := msg.(*network.StatsAnswer)
		if !ok || a.Validation == 0 {
			continue
		}
		merged[from.String()] = ledger.Entry{Validations: a.Validation, Solved: a.Solved}
	}
	if err := n.ledger.Merge(merged); err != nil {
		n.logger.Warn("ledger write failed", zap.Error(err))
	}

	peers := n.peers.list()
	seen := n.propagator.Origin(peers)
	history := n.ledger.History()
	n.broadcast(peers, func() network.Message {
		return &network.StatsHistory{History: history, NodeSent: seen}
	})

	if qerr != nil {
		n.logger.Warn("stats query timed out",
			zap.Int("answers", len(answers)),
			zap.Duration("timeout", n.cfg.StatsTimeout),
		)
	}
	n.recordQuery("stats", qerr, start)
	return n.statsReport(), qerr
}

func (n *Node) statsReport() StatsReport {
	snapshot := n.ledger.Snapshot()
	totals := n.ledger.Totals()

	report := StatsReport{
		All:   StatsTotals{Solved: totals.Solved, Validations: totals.Validations},
		Nodes: make([]NodeStats, 0, len(snapshot)),
	}
	for _, key := range ledger.SortedKeys(snapshot) {
		report.Nodes = append(report.Nodes, NodeStats{Address: key, Validations: snapshot[key].Validations})
	}
	return report
}

// Network collects the adjacency of every reachable node. With no peers it
// returns ErrNoPeers. A timeout yields the partial map and ErrQueryTimeout.
func (n *Node) Network(ctx context.Context) (TopologyReport, error) {
	nctx, err := n.context()
	if err != nil {
		return nil, err
	}
	if n.peers.len() == 0 {
		return nil, ErrNoPeers
	}
	start := time.Now()

	answers, qerr := n.query(ctx, nctx, n.cfg.TopologyTimeout, func(id network.RequestID, seen []network.Address) network.Message {
		return &network.NetworkRequest{Address: n.self, NodeSent: seen, ReqID: id}
	})
	n.recordQuery("network", qerr, start)
	if qerr != nil && !errors.Is(qerr, ErrQueryTimeout) {
		return nil, qerr
	}

	report := TopologyReport(n.peers.adjacency())
	for _, msg := range answers {
		a, ok := msg.(*network.NetworkAnswer)
		if !ok {
			continue
		}
		for node, peers := range a.Network {
			report[node] = peers
		}
	}
	if qerr != nil {
		n.logger.Warn("network query timed out", zap.Int("answers", len(answers)))
	}
	return report, qerr
}

// Nodes returns the report's node names sorted.
func (r TopologyReport) Nodes() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// query floods the request built by build and waits for count-1 distinct
// answers, the timeout, the caller's context or the node stopping.
func (n *Node) query(ctx, nctx context.Context, timeout time.Duration, build func(network.RequestID, []network.Address) network.Message) (map[network.Address]network.Message, error) {
	peers := n.peers.list()
	id := n.nextRequestID()
	req := n.pending.open(id, n.peers.nodeCount()-1)

	seen := n.propagator.Origin(peers)
	for _, p := range peers {
		n.send(p, build(id, seen))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error
	select {
	case <-req.released:
	case <-timer.C:
		err = ErrQueryTimeout
	case <-ctx.Done():
		err = ctx.Err()
	case <-nctx.Done():
		err = ErrNodeStopped
	}
	return n.pending.close(id), err
}

func (n *Node) recordQuery(kind string, err error, start time.Time) {
	if n.metrics != nil {
		n.metrics.RecordQuery(kind, err, time.Since(start))
	}
}

func (d *dispatcher) HandleStatsRequest(from network.Address, m *network.StatsRequest) error {
	n := d.n
	next, targets := n.propagator.Forward(m.NodeSent, n.peers.list())
	n.broadcast(targets, func() network.Message {
		return &network.StatsRequest{Address: m.Address, NodeSent: next, ReqID: m.ReqID}
	})

	if m.Address == n.self {
		return nil
	}
	n.send(m.Address, &network.StatsAnswer{
		Validation: n.validations.Load(),
		Solved:     n.solved.Load(),
		ReqID:      m.ReqID,
	})
	return nil
}

func (d *dispatcher) HandleStatsAnswer(from network.Address, m *network.StatsAnswer) error {
	if !d.n.pending.deliver(m.ReqID, from, m) {
		d.n.logger.Debug("stats answer for unknown request", zap.Stringer("req_id", m.ReqID), zap.Stringer("from", from))
	}
	return nil
}

func (d *dispatcher) HandleStatsHistory(from network.Address, m *network.StatsHistory) error {
	n := d.n
	if err := n.ledger.MergeHistory(m.History); err != nil {
		n.logger.Warn("ledger write failed", zap.Error(err))
	}

	next, targets := n.propagator.Forward(m.NodeSent, n.peers.list())
	n.broadcast(targets, func() network.Message {
		return &network.StatsHistory{History: m.History, NodeSent: next}
	})
	return nil
}

func (d *dispatcher) HandleNetworkRequest(from network.Address, m *network.NetworkRequest) error {
	n := d.n
	next, targets := n.propagator.Forward(m.NodeSent, n.peers.list())
	n.broadcast(targets, func() network.Message {
		return &network.NetworkRequest{Address: m.Address, NodeSent: next, ReqID: m.ReqID}
	})

	if m.Address == n.self {
		return nil
	}
	n.send(m.Address, &network.NetworkAnswer{Network: n.peers.adjacency(), ReqID: m.ReqID})
	return nil
}

func (d *dispatcher) HandleNetworkAnswer(from network.Address, m *network.NetworkAnswer) error {
	if !d.n.pending.deliver(m.ReqID, from, m) {
		d.n.logger.Debug("network answer for unknown request", zap.Stringer("req_id", m.ReqID), zap.Stringer("from", from))
	}
	return nil
}
