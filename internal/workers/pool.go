// Package workers provides a bounded goroutine pool for parallel signal
// evaluation across symbols.
package workers

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of work.
type Task interface {
	Execute() error
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func() error

func (f TaskFunc) Execute() error { return f() }

// PoolConfig configures the worker pool.
type PoolConfig struct {
	Name            string
	NumWorkers      int
	QueueSize       int
	TaskTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultPoolConfig returns defaults sized for CPU-bound evaluation work.
func DefaultPoolConfig(name string) *PoolConfig {
	return &PoolConfig{
		Name:            name,
		NumWorkers:      runtime.NumCPU(),
		QueueSize:       4096,
		TaskTimeout:     10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Recovered int64 `json:"recovered"`
}

// Pool manages a fixed set of worker goroutines draining a shared queue.
type Pool struct {
	logger *zap.Logger
	config *PoolConfig

	taskQueue chan Task
	wg        sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	recovered atomic.Int64
}

// NewPool creates a pool; call Start before submitting.
func NewPool(logger *zap.Logger, config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig("default")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger:    logger.Named("workers"),
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the worker goroutines. Idempotent.
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}
	p.logger.Info("starting worker pool",
		zap.String("name", p.config.Name),
		zap.Int("workers", p.config.NumWorkers))

	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker_id", id))

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.execute(logger, task)
		}
	}
}

// execute runs one task with panic recovery. A panicking task counts as
// failed; it never takes the worker down.
func (p *Pool) execute(logger *zap.Logger, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.recovered.Add(1)
			p.failed.Add(1)
			logger.Error("worker recovered from panic", zap.Any("panic", r))
		}
	}()

	if err := task.Execute(); err != nil {
		p.failed.Add(1)
		logger.Debug("task failed", zap.Error(err))
		return
	}
	p.completed.Add(1)
}

// Submit enqueues a task, returning ErrQueueFull rather than blocking.
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}
	select {
	case p.taskQueue <- task:
		p.submitted.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitFunc submits a bare function as a task.
func (p *Pool) SubmitFunc(fn func() error) error {
	return p.Submit(TaskFunc(fn))
}

// Stop drains nothing: in-flight tasks finish, queued tasks are abandoned.
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped", zap.String("name", p.config.Name))
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out", zap.String("name", p.config.Name))
		return ErrShutdownTimeout
	}
}

// IsRunning reports whether the pool accepts work.
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}

// QueueLength returns the number of queued tasks.
func (p *Pool) QueueLength() int {
	return len(p.taskQueue)
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Recovered: p.recovered.Load(),
	}
}

// Errors
var (
	ErrPoolStopped     = &PoolError{Message: "pool is stopped"}
	ErrQueueFull       = &PoolError{Message: "task queue is full"}
	ErrShutdownTimeout = &PoolError{Message: "shutdown timed out"}
)

// PoolError represents a pool error.
type PoolError struct {
	Message string
}

func (e *PoolError) Error() string { return e.Message }
