package node

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/VanDung-dev/SudokuMesh-Engine/cache"
	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/core"
	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/ledger"
	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/monitoring"
	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/network"
	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/sudoku"
)

// Node errors
var (
	ErrNodeNotRunning = errors.New("node is not running")
	ErrNodeStopped    = errors.New("node stopped")
	ErrQueryTimeout   = errors.New("query timed out")
	ErrNoPeers        = errors.New("no connections available")
)

// Option configures a Node.
type Option func(*Node)

// WithTransport uses t instead of binding a socket from the config.
func WithTransport(t network.Transport) Option {
	return func(n *Node) { n.transport = t }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(n *Node) { n.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(n *Node) { n.metrics = m }
}

// WithLedgerStore persists the stats ledger in s.
func WithLedgerStore(s ledger.Store) Option {
	return func(n *Node) { n.store = s }
}

// WithValidator replaces the handicapped default validator.
func WithValidator(v sudoku.Validator) Option {
	return func(n *Node) { n.validator = v }
}

// Node is one participant of the overlay.
type Node struct {
	cfg       Config
	self      network.Address
	transport network.Transport
	logger    *zap.Logger
	metrics   *monitoring.Metrics
	store     ledger.Store
	validator sudoku.Validator

	peers      *peerTable
	propagator *network.Propagator
	recovery   *recoverer
	pending    *correlator
	races      *raceTable
	finished   *cache.TTLSet[network.RequestID]
	ledger     *ledger.Ledger
	pool       *core.WorkerPool
	dispatch   *dispatcher

	seq         atomic.Uint64
	validations atomic.Int64
	solved      atomic.Int64
	joined      atomic.Bool
	joinTries   atomic.Int32

	mu        sync.Mutex
	running   bool
	stopped   bool
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a node. Unless WithTransport is given it binds the configured
// UDP or ZeroMQ socket immediately, so the address is known before Start.
func New(cfg Config, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid node config: %w", err)
	}

	n := &Node{cfg: cfg}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = zap.NewNop()
	}
	if n.validator == nil {
		n.validator = sudoku.NewChecker(cfg.Handicap)
	}

	if n.transport == nil {
		t, err := bind(cfg)
		if err != nil {
			return nil, err
		}
		n.transport = t
	}

	if n.store == nil && cfg.DataDir != "" {
		s, err := ledger.OpenPebble(filepath.Join(cfg.DataDir, "ledger"))
		if err != nil {
			_ = n.transport.Close()
			return nil, err
		}
		n.store = s
	}
	l, err := ledger.New(n.store)
	if err != nil {
		_ = n.transport.Close()
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	n.ledger = l

	n.self = n.transport.LocalAddr()
	n.logger = n.logger.Named("node").With(
		zap.String("node_id", cfg.NodeID),
		zap.Stringer("addr", n.self),
	)
	n.peers = newPeerTable(n.self)
	n.propagator = network.NewPropagator(n.self)
	n.recovery = newRecoverer(n)
	n.pending = newCorrelator()
	n.races = newRaceTable()
	n.finished = cache.NewTTLSet[network.RequestID](cfg.FinishedTTL)
	n.dispatch = &dispatcher{n: n}
	n.pool = core.NewWorkerPool("solver", cfg.SolverWorkers, core.WithResultHook(n.onAttemptDone))
	return n, nil
}

func bind(cfg Config) (network.Transport, error) {
	switch cfg.Transport {
	case TransportZMQ:
		return network.ListenZmq(cfg.Host, cfg.Port, cfg.AdvertiseHost)
	default:
		return network.ListenUDP(cfg.Host, cfg.Port, cfg.AdvertiseHost)
	}
}

// Addr returns the address peers reach this node on.
func (n *Node) Addr() network.Address {
	return n.self
}

// Start begins receiving, sends the join request to the anchor if one is
// configured and starts the keep-alive loop.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.stopped {
		return ErrNodeStopped
	}
	if n.running {
		return nil
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())
	n.running = true
	n.startedAt = time.Now()

	n.finished.Start()
	n.recovery.start(n.ctx, &n.wg)

	n.wg.Add(2)
	go n.receiveLoop()
	go n.keepAliveLoop()

	if !n.cfg.Anchor.IsZero() {
		n.sendJoin()
	}
	n.logger.Info("node started",
		zap.String("transport", fmt.Sprintf("%T", n.transport)),
		zap.Stringer("anchor", n.cfg.Anchor),
	)
	return nil
}

// Stop shuts the node down. It does not announce the departure; peers detect
// it through unreachable sends or missing keep-alives.
func (n *Node) Stop() error {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return nil
	}
	n.stopped = true
	if n.running {
		n.running = false
		n.cancel()
	}
	n.mu.Unlock()

	err := n.transport.Close()
	n.wg.Wait()
	n.pool.Shutdown()
	n.finished.Stop()
	if cerr := n.ledger.Close(); cerr != nil && err == nil {
		err = cerr
	}
	n.logger.Info("node stopped")
	return err
}

// IsRunning reports whether the node is running.
func (n *Node) IsRunning() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}

func (n *Node) context() (context.Context, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.running {
		return nil, ErrNodeNotRunning
	}
	return n.ctx, nil
}

func (n *Node) receiveLoop() {
	defer n.wg.Done()

	for {
		select {
		case <-n.ctx.Done():
			return
		default:
		}

		n.reconcileCount()

		payload, from, err := n.transport.Recv(n.cfg.RecvTimeout)
		if err != nil {
			switch {
			case errors.Is(err, network.ErrTimeout):
			case errors.Is(err, network.ErrTransportClosed):
				return
			default:
				if addr, ok := network.UnreachableAddr(err); ok {
					n.recovery.report(addr)
				} else {
					n.logger.Warn("receive failed", zap.Error(err))
				}
			}
			continue
		}

		n.peers.touch(from)
		msg, err := network.Decode(payload)
		if err != nil {
			if errors.Is(err, network.ErrUnknownCommand) {
				n.logger.Debug("ignoring unknown command", zap.Stringer("from", from))
				continue
			}
			if n.metrics != nil {
				n.metrics.MessagesMalformed.Inc()
			}
			n.logger.Warn("malformed message", zap.Stringer("from", from), zap.Error(err))
			continue
		}

		if n.metrics != nil {
			n.metrics.RecordReceived(string(msg.Command()))
		}
		n.logger.Debug("received", zap.String("command", string(msg.Command())), zap.Stringer("from", from))
		if err := network.Dispatch(n.dispatch, from, msg); err != nil {
			n.logger.Warn("handler failed",
				zap.String("command", string(msg.Command())),
				zap.Stringer("from", from),
				zap.Error(err),
			)
		}
	}
}

func (n *Node) keepAliveLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.keepAlive()
		}
	}
}

func (n *Node) keepAlive() {
	for _, p := range n.peers.list() {
		n.send(p, &network.Alive{})
	}

	for _, p := range n.peers.stale(n.cfg.StaleTimeout) {
		n.logger.Warn("peer stale", zap.Stringer("peer", p), zap.Duration("timeout", n.cfg.StaleTimeout))
		if n.metrics != nil {
			n.metrics.StalePeers.Inc()
		}
		n.recovery.report(p)
	}

	if !n.cfg.Anchor.IsZero() && !n.joined.Load() && int(n.joinTries.Load()) <= n.cfg.JoinRetries {
		n.sendJoin()
	}

	if n.metrics != nil {
		n.metrics.UpdateMembership(n.peers.len(), n.peers.nodeCount())
		stats := n.pool.GetStats()
		n.metrics.UpdateWorkerPool(stats.Active, stats.Pending)
	}
}

func (n *Node) sendJoin() {
	n.joinTries.Add(1)
	n.logger.Info("joining overlay", zap.Stringer("anchor", n.cfg.Anchor), zap.Int32("attempt", n.joinTries.Load()))
	n.send(n.cfg.Anchor, &network.JoinRequest{})
}

// reconcileCount keeps the estimate above the peer count and announces the
// correction.
func (n *Node) reconcileCount() {
	changed, count, peers := n.peers.reconcile()
	if !changed || len(peers) == 0 {
		return
	}
	n.logger.Info("node count reconciled", zap.Int("count", count), zap.Int("peers", len(peers)))
	seen := n.propagator.Origin(peers)
	for _, p := range peers {
		n.send(p, &network.Update{NodesNum: count, NodeSent: seen})
	}
}

// send encodes and delivers msg. Non-critical messages wait for an ongoing
// disconnect recovery to finish. Send errors are handled here.
func (n *Node) send(to network.Address, msg network.Message) {
	cmd := msg.Command()
	if !network.MembershipCritical(cmd) {
		if err := n.recovery.wait(n.ctx); err != nil {
			return
		}
	}

	payload, err := network.Encode(msg)
	if err != nil {
		n.logger.Error("encode failed", zap.String("command", string(cmd)), zap.Error(err))
		return
	}

	err = n.transport.Send(to, payload)
	if n.metrics != nil {
		n.metrics.RecordSent(string(cmd), err)
	}
	if err == nil {
		n.logger.Debug("sent", zap.String("command", string(cmd)), zap.Stringer("to", to))
		return
	}
	if addr, ok := network.UnreachableAddr(err); ok {
		n.recovery.report(addr)
		return
	}
	if !errors.Is(err, network.ErrTransportClosed) {
		n.logger.Warn("send failed", zap.String("command", string(cmd)), zap.Stringer("to", to), zap.Error(err))
	}
}

// broadcast floods msg built by build to targets.
func (n *Node) broadcast(targets []network.Address, build func() network.Message) {
	for _, p := range targets {
		n.send(p, build())
	}
}

func (n *Node) nextRequestID() network.RequestID {
	return network.RequestID{Seq: n.seq.Add(1), Origin: n.self}
}

func (n *Node) countValidation() {
	n.validations.Add(1)
	if n.metrics != nil {
		n.metrics.Validations.Inc()
	}
}

// forgetDeparted drops state tied to a departed peer: pending queries stop
// waiting for it and attempts it originated are cancelled. Only call it for
// addresses that were actually removed from the peer set.
func (n *Node) forgetDeparted(addr network.Address) {
	n.pending.forget(addr)
	n.cancelAttemptsFrom(addr)
}

func (n *Node) cancelAttemptsFrom(origin network.Address) {
	if c := n.races.cancelByOrigin(origin); c > 0 {
		n.logger.Info("cancelled attempts of departed origin", zap.Stringer("origin", origin), zap.Int("attempts", c))
	}
}

// Status is a point-in-time view of the node.
type Status struct {
	NodeID         string                  `json:"node_id"`
	Address        string                  `json:"address"`
	Running        bool                    `json:"running"`
	Uptime         string                  `json:"uptime"`
	Peers          []string                `json:"peers"`
	NodeCount      int                     `json:"node_count"`
	Recovering     bool                    `json:"recovering"`
	Validations    int64                   `json:"validations"`
	Solved         int64                   `json:"solved"`
	ActiveAttempts int                     `json:"active_attempts"`
	Propagation    network.PropagatorStats `json:"propagation"`
	Pool           core.PoolStats          `json:"pool"`
}

// Status returns the current node status.
func (n *Node) Status() Status {
	n.mu.Lock()
	running, started := n.running, n.startedAt
	n.mu.Unlock()

	peers := n.peers.list()
	names := make([]string, len(peers))
	for i, p := range peers {
		names[i] = p.String()
	}

	var uptime time.Duration
	if running {
		uptime = time.Since(started).Truncate(time.Second)
	}
	return Status{
		NodeID:         n.cfg.NodeID,
		Address:        n.self.String(),
		Running:        running,
		Uptime:         uptime.String(),
		Peers:          names,
		NodeCount:      n.peers.nodeCount(),
		Recovering:     n.recovery.active(),
		Validations:    n.validations.Load(),
		Solved:         n.solved.Load(),
		ActiveAttempts: n.races.attemptCount(),
		Propagation:    n.propagator.GetStats(),
		Pool:           n.pool.GetStats(),
	}
}

// Peers returns the current peer set.
func (n *Node) Peers() []network.Address {
	return n.peers.list()
}

// NodeCount returns the current node-count estimate.
func (n *Node) NodeCount() int {
	return n.peers.nodeCount()
}

// LedgerSnapshot returns a copy of the stats ledger.
func (n *Node) LedgerSnapshot() map[string]ledger.Entry {
	return n.ledger.Snapshot()
}
