package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/rmax-ai/elementd/pkg/executor"
	"github.com/rmax-ai/elementd/pkg/graph"
	"github.com/rmax-ai/elementd/pkg/store"
)

const (
	// DefaultWorkers is the size of the dispatch worker pool.
	DefaultWorkers = 4
	// DefaultQueueSize bounds the number of accepted-but-unstarted runs.
	DefaultQueueSize = 64
)

var (
	// ErrAlreadyDispatched is returned when a run id is enqueued while an
	// execution for it is still registered.
	ErrAlreadyDispatched = errors.New("run is already dispatched")

	// ErrQueueFull is returned when the dispatch queue cannot accept
	// another run.
	ErrQueueFull = errors.New("dispatch queue is full")

	// ErrDispatcherStopped is returned after Stop.
	ErrDispatcherStopped = errors.New("dispatcher is stopped")
)

type job struct {
	run       *graph.Run
	graph     *graph.Graph
	overrides graph.Overrides
}

// Dispatcher drives queued runs to a terminal state. Enqueue hands a
// run to a bounded queue consumed by a fixed worker pool, so handler
// latency never blocks the accepting path. In-flight run ids are
// tracked in a guarded map and removed on completion regardless of
// outcome; a second Enqueue for a registered run id is rejected, which
// is the at-most-one-dispatch-per-run-id guarantee.
type Dispatcher struct {
	repo store.Repository
	exec *executor.Executor

	queue chan job
	wg    sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
	stopped  bool
}

// NewDispatcher creates a dispatcher with the given pool geometry.
// Zero or negative values fall back to the defaults.
func NewDispatcher(repo store.Repository, exec *executor.Executor, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	d := &Dispatcher{
		repo:     repo,
		exec:     exec,
		queue:    make(chan job, queueSize),
		inflight: make(map[string]struct{}),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

// Enqueue schedules a queued run for background execution. The caller
// receives an error only when the run cannot be scheduled at all;
// execution failures are recorded on the run, never returned here.
func (d *Dispatcher) Enqueue(run *graph.Run, g *graph.Graph, overrides graph.Overrides) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrDispatcherStopped
	}
	if _, ok := d.inflight[run.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyDispatched, run.ID)
	}

	// The send happens under the lock: Stop flips stopped under the
	// same lock before closing the queue, so the channel cannot close
	// between the check above and this send. The send is non-blocking,
	// so holding the lock here cannot deadlock against release().
	select {
	case d.queue <- job{run: run, graph: g, overrides: overrides}:
		d.inflight[run.ID] = struct{}{}
		ElementdRunsInflight.Inc()
		ElementdQueueDepth.Set(float64(len(d.queue)))
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, run.ID)
	}
}

// Inflight reports whether a run id is currently registered.
func (d *Dispatcher) Inflight(runID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[runID]
	return ok
}

// Stop refuses further enqueues, drains the queue and waits for the
// workers to finish their current runs.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()
	close(d.queue)
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		ElementdQueueDepth.Set(float64(len(d.queue)))
		d.executeRun(j)
	}
}

// executeRun drives one run through its state machine. Errors are
// swallowed here: the caller already received an accepted response, so
// failures surface only through the run's status and error fields.
func (d *Dispatcher) executeRun(j job) {
	defer d.release(j.run.ID)
	ctx := context.Background()

	if _, err := d.repo.UpdateRun(ctx, j.run.ID, graph.RunRunning, nil, ""); err != nil {
		log.Printf("run %s: failed to mark running: %v", j.run.ID, err)
		return
	}

	result, err := d.safeExecute(j.graph, j.overrides)
	if err != nil {
		log.Printf("run %s: execution failed: %v", j.run.ID, err)
		if _, uerr := d.repo.UpdateRun(ctx, j.run.ID, graph.RunFailed, nil, err.Error()); uerr != nil {
			log.Printf("run %s: failed to persist failure: %v", j.run.ID, uerr)
		}
		ElementdRunsTotal.WithLabelValues(string(graph.RunFailed)).Inc()
		return
	}

	for _, entry := range result.Trace {
		ElementdNodeExecutionsTotal.WithLabelValues(entry.Type).Inc()
	}
	if _, err := d.repo.UpdateRun(ctx, j.run.ID, graph.RunSucceeded, result, ""); err != nil {
		log.Printf("run %s: failed to persist success: %v", j.run.ID, err)
		return
	}
	ElementdRunsTotal.WithLabelValues(string(graph.RunSucceeded)).Inc()
}

// safeExecute shields the worker from panicking handlers.
func (d *Dispatcher) safeExecute(g *graph.Graph, overrides graph.Overrides) (result *graph.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return d.exec.Execute(g, overrides)
}

func (d *Dispatcher) release(runID string) {
	d.mu.Lock()
	delete(d.inflight, runID)
	d.mu.Unlock()
	ElementdRunsInflight.Dec()
}
