package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolShutdown = errors.New("worker pool is shut down")
	ErrQueueFull    = errors.New("task queue is full")
)

// Task is a unit of work for the worker pool.
type Task struct {
	ID        string
	Run       func(ctx context.Context) (interface{}, error)
	Ctx       context.Context
	CreatedAt time.Time

	// Done, when set, receives this task's result instead of the shared
	// results channel. It should be buffered.
	Done chan<- *Result
}

// NewTask creates a task bound to ctx.
func NewTask(ctx context.Context, id string, run func(ctx context.Context) (interface{}, error)) *Task {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Task{
		ID:        id,
		Run:       run,
		Ctx:       ctx,
		CreatedAt: time.Now(),
	}
}

// Result is the outcome of one task.
type Result struct {
	TaskID   string
	Success  bool
	Data     interface{}
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

// WorkerPool runs CPU-bound pipeline work on a fixed set of goroutines.
type WorkerPool struct {
	name       string
	workers    int
	taskChan   chan *Task
	resultChan chan *Result
	wg         sync.WaitGroup

	active    int64
	completed int64
	failed    int64

	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	mu      sync.RWMutex
}

// NewWorkerPool creates a pool with the given number of workers.
func NewWorkerPool(name string, workers int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &WorkerPool{
		name:       name,
		workers:    workers,
		taskChan:   make(chan *Task, workers*100),
		resultChan: make(chan *Result, workers*100),
		ctx:        ctx,
		cancel:     cancel,
		running:    true,
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	return pool
}

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

func (p *WorkerPool) processTask(workerID int, task *Task) {
	atomic.AddInt64(&p.active, 1)
	defer atomic.AddInt64(&p.active, -1)

	start := time.Now()
	result := &Result{
		TaskID:   task.ID,
		WorkerID: workerID,
	}

	// One panicking task must not take the pool down.
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Errorf("panic in task %s: %v", task.ID, r)
			result.Duration = time.Since(start)
			atomic.AddInt64(&p.failed, 1)
			p.deliver(task, result)
		}
	}()

	ctx := task.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		atomic.AddInt64(&p.failed, 1)
		p.deliver(task, result)
		return
	}

	if task.Run != nil {
		data, err := task.Run(ctx)
		result.Data = data
		result.Error = err
		result.Success = err == nil
	} else {
		result.Error = errors.New("no run function defined")
	}

	result.Duration = time.Since(start)
	if result.Success {
		atomic.AddInt64(&p.completed, 1)
	} else {
		atomic.AddInt64(&p.failed, 1)
	}

	p.deliver(task, result)
}

func (p *WorkerPool) deliver(task *Task, result *Result) {
	if task.Done != nil {
		task.Done <- result
		return
	}
	select {
	case p.resultChan <- result:
	default:
		// Shared channel full, result dropped.
	}
}

// Submit queues a task without blocking.
func (p *WorkerPool) Submit(task *Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running {
		return ErrPoolShutdown
	}

	select {
	case p.taskChan <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitAndWait submits a task and waits for its own result.
func (p *WorkerPool) SubmitAndWait(ctx context.Context, task *Task) (*Result, error) {
	done := make(chan *Result, 1)
	task.Done = done
	if err := p.Submit(task); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-done:
		return result, nil
	}
}

// Results returns the shared result channel for tasks without a Done channel.
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

// Shutdown stops accepting tasks and waits for the workers to exit.
// Queued tasks that were not started complete with ErrPoolShutdown.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.cancel()
	close(p.taskChan)
	p.failQueued()
	p.wg.Wait()
	close(p.resultChan)
}

// failQueued delivers ErrPoolShutdown for every task still in the closed
// queue, so waiters on a task's Done channel are released.
func (p *WorkerPool) failQueued() {
	for task := range p.taskChan {
		atomic.AddInt64(&p.failed, 1)
		p.deliver(task, &Result{TaskID: task.ID, Error: ErrPoolShutdown})
	}
}

// ShutdownWithTimeout is Shutdown bounded by timeout.
func (p *WorkerPool) ShutdownWithTimeout(timeout time.Duration) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.cancel()
	close(p.taskChan)
	p.failQueued()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(p.resultChan)
		return nil
	case <-time.After(timeout):
		return errors.New("shutdown timeout")
	}
}

// IsRunning returns true if the pool is still accepting tasks.
func (p *WorkerPool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}
