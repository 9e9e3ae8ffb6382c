package emoji

import (
	"context"
	"sync"

	"github.com/packsmith/backend/internal/core"
	"github.com/packsmith/backend/internal/logging"
	"github.com/packsmith/backend/internal/metrics"
)

// Future is the pending outcome of a submitted job. Settled exactly once by
// a worker; any number of goroutines may wait on it.
type Future struct {
	done    chan struct{}
	outcome *core.JobOutcome
	err     error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(outcome *core.JobOutcome) {
	f.outcome = outcome
	close(f.done)
}

func (f *Future) fail(err error) {
	f.err = err
	close(f.done)
}

// Done is closed once the future is settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future settles or the context is cancelled.
func (f *Future) Wait(ctx context.Context) (*core.JobOutcome, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.done:
		return f.outcome, f.err
	}
}

// Processor runs one job to completion.
type Processor interface {
	Process(ctx context.Context, req core.PackRequest) (*core.JobOutcome, error)
}

type queueItem struct {
	req    core.PackRequest
	future *Future
}

// Queue is a fixed worker pool over an unbounded FIFO of submissions. A nil
// item is the poison value that stops one worker.
type Queue struct {
	workers int
	proc    Processor
	logger  *logging.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	items   []*queueItem
	running bool
	wg      sync.WaitGroup
}

// NewQueue builds a stopped queue with the given worker count.
func NewQueue(workers int, proc Processor, logger *logging.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = logging.New("[QUEUE] ", logging.LevelInfo)
	}
	q := &Queue{workers: workers, proc: proc, logger: logger}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start launches the workers. Calling Start on a running queue is a no-op.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.running = true
	q.wg.Add(q.workers)
	for i := 0; i < q.workers; i++ {
		go q.worker(i)
	}
	q.logger.Infof("started %d workers", q.workers)
}

// Stop sends one poison value per worker and waits for all of them to
// drain. Idempotent.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	for i := 0; i < q.workers; i++ {
		q.items = append(q.items, nil)
	}
	q.cond.Broadcast()
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Infof("all workers drained")
}

// Submit enqueues a request and returns its future. Submissions to a
// stopped queue settle immediately with a failure.
func (q *Queue) Submit(req core.PackRequest) *Future {
	future := newFuture()
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		future.fail(core.NewError(core.Fatal, "job queue is stopped"))
		return future
	}
	q.items = append(q.items, &queueItem{req: req, future: future})
	// Bump the gauge before releasing the lock: a fast worker could
	// otherwise Dec first and drive it negative.
	metrics.JobsSubmitted.Inc()
	metrics.QueueDepth.Inc()
	q.cond.Signal()
	q.mu.Unlock()
	return future
}

// Depth returns the number of waiting submissions.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, item := range q.items {
		if item != nil {
			n++
		}
	}
	return n
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.items) == 0 {
			q.cond.Wait()
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		if item == nil {
			q.logger.Debugf("worker %d stopping", id)
			return
		}
		metrics.QueueDepth.Dec()

		outcome, err := q.proc.Process(context.Background(), item.req)
		if err != nil {
			kind := "unknown"
			if k, ok := core.KindOf(err); ok {
				kind = k.String()
			}
			metrics.JobsCompleted.WithLabelValues(kind).Inc()
			q.logger.Warnf("worker %d: job for user %d failed: %v", id, item.req.UserID, err)
			item.future.fail(err)
			continue
		}
		metrics.JobsCompleted.WithLabelValues("success").Inc()
		q.logger.Infof("worker %d: job for user %d done: %s", id, item.req.UserID, outcome.Result.ShortName)
		item.future.resolve(outcome)
	}
}
