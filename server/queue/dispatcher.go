// Package queue runs fire-and-forget work off the request path.
//
// A Dispatcher holds submitted tasks in a bounded FIFO and runs them on a
// fixed number of worker goroutines. Submit never blocks: when the queue is
// full or the dispatcher is shutting down the task is refused with an error.
package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	fifo "github.com/eapache/queue/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teilomillet/relay/config"
	"github.com/teilomillet/relay/server/metrics"
)

var (
	// ErrQueueFull is returned by Submit when max_size tasks are already waiting.
	ErrQueueFull = errors.New("dispatcher queue is full")

	// ErrClosed is returned by Submit after Shutdown has been called.
	ErrClosed = errors.New("dispatcher is shut down")
)

// Task is one unit of background work. ctx is not tied to any HTTP request
// and is never cancelled by the dispatcher.
type Task func(ctx context.Context)

// Dispatcher is a bounded worker pool fed by a FIFO queue.
type Dispatcher struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   *fifo.Queue[Task]
	maxSize int
	closed  bool

	inFlight atomic.Int64
	group    errgroup.Group
	done     chan struct{}

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewDispatcher starts cfg.Workers workers and returns the dispatcher.
// m may be nil.
func NewDispatcher(cfg config.QueueConfig, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	d := &Dispatcher{
		tasks:   fifo.New[Task](),
		maxSize: cfg.MaxSize,
		done:    make(chan struct{}),
		logger:  logger,
		metrics: m,
	}
	d.cond = sync.NewCond(&d.mu)

	for i := 0; i < workers; i++ {
		id := i
		d.group.Go(func() error {
			d.work(id)
			return nil
		})
	}
	go func() {
		_ = d.group.Wait()
		close(d.done)
	}()

	logger.Info("dispatcher started",
		zap.Int("workers", workers),
		zap.Int("max_size", cfg.MaxSize),
	)
	return d
}

// Submit enqueues t without blocking.
func (d *Dispatcher) Submit(t Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if d.maxSize > 0 && d.tasks.Length() >= d.maxSize {
		if d.metrics != nil {
			d.metrics.ErrorsTotal.WithLabelValues("queue_full").Inc()
		}
		return ErrQueueFull
	}

	d.tasks.Add(t)
	d.setDepth()
	d.cond.Signal()
	return nil
}

func (d *Dispatcher) work(id int) {
	for {
		d.mu.Lock()
		for d.tasks.Length() == 0 && !d.closed {
			d.cond.Wait()
		}
		if d.tasks.Length() == 0 {
			// closed and drained
			d.mu.Unlock()
			return
		}
		t := d.tasks.Remove()
		d.setDepth()
		d.mu.Unlock()

		d.run(id, t)
	}
}

func (d *Dispatcher) run(worker int, t Task) {
	d.inFlight.Add(1)
	if d.metrics != nil {
		d.metrics.TasksInFlight.Inc()
	}
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("task panicked",
				zap.Int("worker", worker),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			if d.metrics != nil {
				d.metrics.ErrorsTotal.WithLabelValues("task_panic").Inc()
			}
		}
		d.inFlight.Add(-1)
		if d.metrics != nil {
			d.metrics.TasksInFlight.Dec()
		}
	}()

	t(context.Background())
}

// setDepth must be called with d.mu held.
func (d *Dispatcher) setDepth() {
	if d.metrics != nil {
		d.metrics.QueueDepth.Set(float64(d.tasks.Length()))
	}
}

// Len returns the number of tasks waiting for a worker.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tasks.Length()
}

// InFlight returns the number of tasks currently running.
func (d *Dispatcher) InFlight() int {
	return int(d.inFlight.Load())
}

// Shutdown stops accepting tasks and waits for queued and running tasks to
// finish. If ctx expires first the remaining tasks are abandoned to the
// workers and ctx's error is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	pending := d.tasks.Length()
	d.cond.Broadcast()
	d.mu.Unlock()

	d.logger.Info("dispatcher draining",
		zap.Int("queued", pending),
		zap.Int("in_flight", d.InFlight()),
	)

	start := time.Now()
	select {
	case <-d.done:
		d.logger.Info("dispatcher drained", zap.Duration("duration", time.Since(start)))
		return nil
	case <-ctx.Done():
		if d.metrics != nil {
			d.metrics.ErrorsTotal.WithLabelValues("queue_shutdown_timeout").Inc()
		}
		return fmt.Errorf("drain dispatcher (%d queued, %d running): %w", d.Len(), d.InFlight(), ctx.Err())
	}
}
