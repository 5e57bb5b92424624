package node

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/core"
	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/network"
	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/sudoku"
)

// SolveResult is the outcome of a race started by this node.
type SolveResult struct {
	Grid    sudoku.Grid
	Elapsed time.Duration
	// Validations counts the checks this node's own attempt spent.
	Validations int64
	// Winner is the node whose attempt found the grid.
	Winner network.Address
}

// raceTask is a race this node originated.
type raceTask struct {
	id     network.RequestID
	puzzle sudoku.Grid
	once   sync.Once
	done   chan struct{}

	grid   sudoku.Grid
	winner network.Address
	err    error
}

// finish records the first outcome and reports whether it was first.
func (t *raceTask) finish(g sudoku.Grid, winner network.Address, err error) bool {
	first := false
	t.once.Do(func() {
		t.grid, t.winner, t.err = g, winner, err
		close(t.done)
		first = true
	})
	return first
}

// attempt is a local attempt at someone else's race.
type attempt struct {
	origin network.Address
	cancel context.CancelFunc
}

type raceTable struct {
	mu       sync.Mutex
	origins  map[network.RequestID]*raceTask
	attempts map[network.RequestID]*attempt
}

func newRaceTable() *raceTable {
	return &raceTable{
		origins:  make(map[network.RequestID]*raceTask),
		attempts: make(map[network.RequestID]*attempt),
	}
}

func (r *raceTable) startOrigin(id network.RequestID, puzzle sudoku.Grid) *raceTask {
	t := &raceTask{id: id, puzzle: puzzle, done: make(chan struct{})}
	r.mu.Lock()
	r.origins[id] = t
	r.mu.Unlock()
	return t
}

func (r *raceTable) origin(id network.RequestID) *raceTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.origins[id]
}

func (r *raceTable) finishOrigin(id network.RequestID) {
	r.mu.Lock()
	delete(r.origins, id)
	r.mu.Unlock()
}

// startAttempt registers an attempt unless one is already running for id.
func (r *raceTable) startAttempt(id network.RequestID, origin network.Address, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.attempts[id]; ok {
		return false
	}
	r.attempts[id] = &attempt{origin: origin, cancel: cancel}
	return true
}

// stopAttempt cancels and removes the attempt for id, if any.
func (r *raceTable) stopAttempt(id network.RequestID) bool {
	r.mu.Lock()
	a, ok := r.attempts[id]
	delete(r.attempts, id)
	r.mu.Unlock()

	if ok {
		a.cancel()
	}
	return ok
}

func (r *raceTable) cancelByOrigin(origin network.Address) int {
	r.mu.Lock()
	var cancels []context.CancelFunc
	for id, a := range r.attempts {
		if a.origin == origin {
			cancels = append(cancels, a.cancel)
			delete(r.attempts, id)
		}
	}
	r.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	return len(cancels)
}

func (r *raceTable) attemptCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}

func (n *Node) newRand() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(n.seq.Load())<<32 ^ int64(n.self.Port)))
}

// Solve races every reachable node to complete grid. The first valid grid,
// local or from a peer, wins; the others are told to stop. Cancelling ctx
// stops the race and returns the context error.
func (n *Node) Solve(ctx context.Context, grid sudoku.Grid) (SolveResult, error) {
	nctx, err := n.context()
	if err != nil {
		return SolveResult{}, err
	}
	if err := grid.Validate(); err != nil {
		return SolveResult{}, err
	}
	start := time.Now()

	id := n.nextRequestID()
	task := n.races.startOrigin(id, grid)
	defer n.races.finishOrigin(id)

	peers := n.peers.list()
	seen := n.propagator.Origin(peers)
	n.broadcast(peers, func() network.Message {
		return &network.SolveRequest{Sudoku: grid, Address: n.self, NodeSent: seen, ReqID: id}
	})
	n.logger.Info("solve race started", zap.Stringer("req_id", id), zap.Int("peers", len(peers)))

	local, stopLocal := context.WithCancel(nctx)
	defer stopLocal()
	var validations int64
	localDone := make(chan struct{})
	go func() {
		defer close(localDone)
		g, v, err := sudoku.Search(local, grid, n.validator, n.newRand(), n.countValidation)
		validations = v
		switch {
		case err == nil:
			if task.finish(g, n.self, nil) {
				n.recordAttempt("origin", "solved")
			}
		case errors.Is(err, context.Canceled):
			n.recordAttempt("origin", "stopped")
		default:
			task.finish(sudoku.Grid{}, network.Address{}, err)
			n.recordAttempt("origin", "failed")
		}
	}()

	var result error
	select {
	case <-task.done:
		result = task.err
	case <-ctx.Done():
		result = ctx.Err()
	case <-nctx.Done():
		result = ErrNodeStopped
	}
	stopLocal()
	<-localDone

	n.finished.Add(id)
	peers = n.peers.list()
	seen = n.propagator.Origin(peers)
	n.broadcast(peers, func() network.Message {
		return &network.Solved{NodeSent: seen, ReqID: id}
	})

	elapsed := time.Since(start)
	if result != nil {
		n.logger.Warn("solve race ended without a grid", zap.Stringer("req_id", id), zap.Error(result))
		return SolveResult{Elapsed: elapsed, Validations: validations}, result
	}

	n.solved.Add(1)
	if n.metrics != nil {
		n.metrics.SolveDuration.Observe(elapsed.Seconds())
	}
	n.logger.Info("solve race won",
		zap.Stringer("req_id", id),
		zap.Stringer("winner", task.winner),
		zap.Duration("elapsed", elapsed),
		zap.Int64("validations", validations),
	)
	return SolveResult{Grid: task.grid, Elapsed: elapsed, Validations: validations, Winner: task.winner}, nil
}

func (n *Node) recordAttempt(role, outcome string) {
	if n.metrics != nil {
		n.metrics.RecordAttempt(role, outcome)
	}
}

// onAttemptDone runs on the worker after every remote attempt.
func (n *Node) onAttemptDone(r *core.Result) {
	outcome := "solved"
	switch {
	case r.Success:
	case errors.Is(r.Error, context.DeadlineExceeded):
		outcome = "expired"
	case errors.Is(r.Error, context.Canceled):
		outcome = "stopped"
	default:
		outcome = "failed"
	}
	n.recordAttempt("remote", outcome)
	if n.metrics != nil {
		stats := n.pool.GetStats()
		n.metrics.UpdateWorkerPool(stats.Active, stats.Pending)
	}
}

func (d *dispatcher) HandleSolveRequest(from network.Address, m *network.SolveRequest) error {
	n := d.n
	next, targets := n.propagator.Forward(m.NodeSent, n.peers.list())
	n.broadcast(targets, func() network.Message {
		return &network.SolveRequest{Sudoku: m.Sudoku, Address: m.Address, NodeSent: next, ReqID: m.ReqID}
	})

	if m.Address == n.self || n.finished.Contains(m.ReqID) {
		return nil
	}
	if err := m.Sudoku.Validate(); err != nil {
		return fmt.Errorf("solve request %s: %w", m.ReqID, err)
	}

	ctx, cancel := context.WithTimeout(n.ctx, n.cfg.SolveAttemptTimeout)
	if !n.races.startAttempt(m.ReqID, m.Address, cancel) {
		cancel()
		return nil
	}

	id, origin, grid := m.ReqID, m.Address, m.Sudoku
	task := core.NewTask(ctx, id.String(), func(ctx context.Context) error {
		defer n.finished.Add(id)
		defer n.races.stopAttempt(id)

		g, v, err := sudoku.Search(ctx, grid, n.validator, n.newRand(), n.countValidation)
		if err != nil {
			return err
		}
		n.logger.Info("solved remote race", zap.Stringer("req_id", id), zap.Int64("validations", v))
		n.send(origin, &network.SolveAnswer{Sudoku: g, ReqID: id})
		return nil
	})
	if err := n.pool.Submit(task); err != nil {
		n.races.stopAttempt(id)
		return fmt.Errorf("queue attempt %s: %w", id, err)
	}
	n.logger.Debug("attempt queued", zap.Stringer("req_id", id), zap.Stringer("origin", origin))
	return nil
}

func (d *dispatcher) HandleSolveAnswer(from network.Address, m *network.SolveAnswer) error {
	n := d.n
	task := n.races.origin(m.ReqID)
	if task == nil {
		n.logger.Debug("late solve answer", zap.Stringer("req_id", m.ReqID), zap.Stringer("from", from))
		return nil
	}
	if !sudoku.SolvesPuzzle(task.puzzle, m.Sudoku) {
		n.logger.Warn("rejecting invalid solution", zap.Stringer("req_id", m.ReqID), zap.Stringer("from", from))
		return nil
	}
	task.finish(m.Sudoku, from, nil)
	return nil
}

func (d *dispatcher) HandleSolved(from network.Address, m *network.Solved) error {
	n := d.n
	n.finished.Add(m.ReqID)
	if n.races.stopAttempt(m.ReqID) {
		n.logger.Debug("attempt stopped", zap.Stringer("req_id", m.ReqID))
	}

	next, targets := n.propagator.Forward(m.NodeSent, n.peers.list())
	n.broadcast(targets, func() network.Message {
		return &network.Solved{NodeSent: next, ReqID: m.ReqID}
	})
	return nil
}
