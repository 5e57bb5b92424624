package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Worker pool errors
var (
	ErrPoolClosed = errors.New("worker pool is shut down")
	ErrQueueFull  = errors.New("task queue is full")
	ErrNoRunFunc  = errors.New("no run function defined")
)

// Task is a unit of work for the worker pool. Run receives a context that is
// cancelled when either the task's own context or the pool ends.
type Task struct {
	ID        string
	Ctx       context.Context
	Run       func(ctx context.Context) error
	CreatedAt time.Time

	done chan *Result
}

// NewTask creates a new task bound to ctx.
func NewTask(ctx context.Context, id string, run func(ctx context.Context) error) *Task {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Task{
		ID:        id,
		Ctx:       ctx,
		Run:       run,
		CreatedAt: time.Now(),
	}
}

// Result represents the result of task processing.
type Result struct {
	TaskID   string
	Success  bool
	Error    error
	Duration time.Duration
	WorkerID int
}

// PoolStats contains worker pool statistics.
type PoolStats struct {
	Name        string  `json:"name"`
	Workers     int     `json:"workers"`
	Active      int64   `json:"active"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	Cancelled   int64   `json:"cancelled"`
	Pending     int     `json:"pending"`
	SuccessRate float64 `json:"success_rate"`
}

// PoolOption configures a WorkerPool.
type PoolOption func(*WorkerPool)

// WithResultHook registers fn to be called, on the worker goroutine, with
// the result of every task.
func WithResultHook(fn func(*Result)) PoolOption {
	return func(p *WorkerPool) { p.onResult = fn }
}

// WithQueueSize overrides the task queue capacity (default workers*100).
func WithQueueSize(n int) PoolOption {
	return func(p *WorkerPool) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WorkerPool manages a pool of goroutine workers for parallel processing.
type WorkerPool struct {
	name      string
	workers   int
	queueSize int
	taskChan  chan *Task
	onResult  func(*Result)
	wg        sync.WaitGroup

	// Atomic counters for thread-safe statistics
	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	mu      sync.RWMutex
}

// NewWorkerPool creates a new worker pool with the specified number of workers.
func NewWorkerPool(name string, workers int, opts ...PoolOption) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &WorkerPool{
		name:      name,
		workers:   workers,
		queueSize: workers * 100,
		ctx:       ctx,
		cancel:    cancel,
		running:   true,
	}
	for _, opt := range opts {
		opt(pool)
	}
	pool.taskChan = make(chan *Task, pool.queueSize)

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	return pool
}

// worker is the goroutine that processes tasks.
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskChan:
			if !ok {
				return
			}
			p.processTask(id, task)
		}
	}
}

// processTask executes a single task and reports its result.
func (p *WorkerPool) processTask(workerID int, task *Task) {
	p.active.Add(1)
	defer p.active.Add(-1)

	start := time.Now()
	result := &Result{
		TaskID:   task.ID,
		WorkerID: workerID,
	}
	defer func() { p.finish(task, result) }()

	// Panic recovery to prevent one task from crashing the entire pool
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = errors.New("panic in task processing: " + panicToString(r))
			result.Duration = time.Since(start)
		}
	}()

	ctx, cancel := context.WithCancel(task.Ctx)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	if err := ctx.Err(); err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		return
	}

	if task.Run != nil {
		result.Error = task.Run(ctx)
		result.Success = result.Error == nil
	} else {
		result.Error = ErrNoRunFunc
	}
	result.Duration = time.Since(start)
}

func (p *WorkerPool) finish(task *Task, result *Result) {
	switch {
	case result.Success:
		p.completed.Add(1)
	case errors.Is(result.Error, context.Canceled) || errors.Is(result.Error, context.DeadlineExceeded):
		p.cancelled.Add(1)
	default:
		p.failed.Add(1)
	}

	if p.onResult != nil {
		p.onResult(result)
	}
	if task.done != nil {
		task.done <- result
	}
}

// panicToString converts a recovered panic value to a string.
func panicToString(r interface{}) string {
	switch v := r.(type) {
	case string:
		return v
	case error:
		return v.Error()
	default:
		return "unknown panic"
	}
}

// Submit adds a task to the worker pool for processing.
func (p *WorkerPool) Submit(task *Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running {
		return ErrPoolClosed
	}
	if task.Ctx == nil {
		task.Ctx = context.Background()
	}

	select {
	case p.taskChan <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitAndWait submits a task and waits for its result.
func (p *WorkerPool) SubmitAndWait(task *Task, timeout time.Duration) (*Result, error) {
	task.done = make(chan *Result, 1)
	if err := p.Submit(task); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-task.done:
		return result, nil
	case <-timer.C:
		return nil, context.DeadlineExceeded
	}
}

// GetStats returns current worker pool statistics.
func (p *WorkerPool) GetStats() PoolStats {
	completed := p.completed.Load()
	failed := p.failed.Load()
	cancelled := p.cancelled.Load()
	total := completed + failed + cancelled

	var successRate float64
	if total > 0 {
		successRate = float64(completed) / float64(total) * 100
	}

	return PoolStats{
		Name:        p.name,
		Workers:     p.workers,
		Active:      p.active.Load(),
		Completed:   completed,
		Failed:      failed,
		Cancelled:   cancelled,
		Pending:     len(p.taskChan),
		SuccessRate: successRate,
	}
}

// Shutdown cancels running tasks and waits for the workers to exit. Queued
// tasks that never started are discarded.
func (p *WorkerPool) Shutdown() {
	if !p.stop() {
		return
	}
	p.wg.Wait()
}

// ShutdownWithTimeout shuts down with a timeout.
func (p *WorkerPool) ShutdownWithTimeout(timeout time.Duration) error {
	if !p.stop() {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("shutdown timeout")
	}
}

func (p *WorkerPool) stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return false
	}
	p.running = false
	p.cancel()
	close(p.taskChan)
	return true
}

// IsRunning returns true if the pool is still accepting tasks.
func (p *WorkerPool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}
