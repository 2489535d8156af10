package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrPoolShutdown is returned by Submit after Shutdown.
	ErrPoolShutdown = errors.New("worker pool is shut down")
	// ErrQueueFull is returned by Submit when the task buffer is full.
	ErrQueueFull = errors.New("task queue is full")
)

// Task represents a processing task for the worker pool.
type Task struct {
	ID        string
	Run       func(ctx context.Context) (any, error)
	CreatedAt time.Time
	Ctx       context.Context
}

// NewTask creates a new task bound to ctx.
func NewTask(ctx context.Context, id string, fn func(ctx context.Context) (any, error)) *Task {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Task{
		ID:        id,
		Run:       fn,
		CreatedAt: time.Now(),
		Ctx:       ctx,
	}
}

// Result represents the result of task processing.
type Result struct {
	TaskID   string
	Success  bool
	Data     any
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
	Pending     int     `json:"pending"`
	SuccessRate float64 `json:"success_rate"`
}

// StatsHook receives the active and pending counts whenever they change.
type StatsHook func(active, pending int)

// PoolOption customizes a WorkerPool.
type PoolOption func(*WorkerPool)

// WithQueueSize sets the task and result buffer capacity.
func WithQueueSize(n int) PoolOption {
	return func(p *WorkerPool) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithStatsHook reports pool activity to hook.
func WithStatsHook(hook StatsHook) PoolOption {
	return func(p *WorkerPool) { p.hook = hook }
}

// WorkerPool manages a pool of goroutine workers for parallel processing.
type WorkerPool struct {
	name       string
	workers    int
	queueSize  int
	taskChan   chan *Task
	resultChan chan *Result
	wg         sync.WaitGroup
	hook       StatsHook

	// Atomic counters for thread-safe statistics
	active    int64
	completed int64
	failed    int64

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
	pool.resultChan = make(chan *Result, pool.queueSize)

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

// processTask executes a single task and sends the result.
func (p *WorkerPool) processTask(workerID int, task *Task) {
	atomic.AddInt64(&p.active, 1)
	p.report()
	defer func() {
		atomic.AddInt64(&p.active, -1)
		p.report()
	}()

	start := time.Now()

	result := &Result{
		TaskID:   task.ID,
		WorkerID: workerID,
	}

	// Panic recovery to prevent one task from crashing the entire pool
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = errors.Errorf("panic in task processing: %s", panicToString(r))
			result.Duration = time.Since(start)
			atomic.AddInt64(&p.failed, 1)
			p.sendResult(result)
		}
	}()

	if err := task.Ctx.Err(); err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		atomic.AddInt64(&p.failed, 1)
		p.sendResult(result)
		return
	}

	if task.Run != nil {
		data, err := task.Run(task.Ctx)
		result.Data = data
		result.Error = err
		result.Success = err == nil
	} else {
		result.Error = errors.New("no process function defined")
	}

	result.Duration = time.Since(start)

	if result.Success {
		atomic.AddInt64(&p.completed, 1)
	} else {
		atomic.AddInt64(&p.failed, 1)
	}

	p.sendResult(result)
}

// panicToString converts a recovered panic value to a string.
func panicToString(r any) string {
	switch v := r.(type) {
	case string:
		return v
	case error:
		return v.Error()
	default:
		return fmt.Sprint(v)
	}
}

func (p *WorkerPool) report() {
	if p.hook != nil {
		p.hook(int(atomic.LoadInt64(&p.active)), len(p.taskChan))
	}
}

// sendResult delivers a result, waiting for the consumer unless the pool
// is being torn down.
func (p *WorkerPool) sendResult(result *Result) {
	select {
	case p.resultChan <- result:
	case <-p.ctx.Done():
	}
}

// Submit adds a task to the worker pool for processing.
func (p *WorkerPool) Submit(task *Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running {
		return ErrPoolShutdown
	}
	if task.Ctx == nil {
		task.Ctx = context.Background()
	}

	select {
	case p.taskChan <- task:
		p.report()
		return nil
	default:
		return ErrQueueFull
	}
}

// Results returns the result channel for consuming results.
func (p *WorkerPool) Results() <-chan *Result {
	return p.resultChan
}

// GetStats returns current worker pool statistics.
func (p *WorkerPool) GetStats() PoolStats {
	completed := atomic.LoadInt64(&p.completed)
	failed := atomic.LoadInt64(&p.failed)
	total := completed + failed

	var successRate float64
	if total > 0 {
		successRate = float64(completed) / float64(total) * 100
	}

	return PoolStats{
		Name:        p.name,
		Workers:     p.workers,
		Active:      atomic.LoadInt64(&p.active),
		Completed:   completed,
		Failed:      failed,
		Pending:     len(p.taskChan),
		SuccessRate: successRate,
	}
}

// Close stops accepting tasks and lets workers finish the queued ones.
// Results stay readable until every worker has exited, then the result
// channel is closed.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.taskChan)
	p.mu.Unlock()

	go func() {
		p.wg.Wait()
		close(p.resultChan)
	}()
}

// Shutdown stops the workers without waiting for queued tasks.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	wasRunning := p.running
	if wasRunning {
		p.running = false
		close(p.taskChan)
	}
	p.mu.Unlock()

	p.cancel()
	if wasRunning {
		p.wg.Wait()
		close(p.resultChan)
	}
}

// IsRunning returns true if the pool is still accepting tasks.
func (p *WorkerPool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}
