package clypsalot

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

type poolJob func()

// poolMarkerKey tags a context as originating from inside a worker job,
// so a nested Call recognizes it would otherwise deadlock waiting on
// itself and runs the closure inline instead of posting it.
type poolMarkerKey struct{}

func inWorker(ctx context.Context) bool {
	v, _ := ctx.Value(poolMarkerKey{}).(bool)
	return v
}

// WorkerPool runs short jobs across a fixed number of worker goroutines.
// Post enqueues without blocking the caller; Call posts a job and blocks
// until it completes, re-entering inline if the caller is itself
// running inside a worker. The queue is an unbounded FIFO guarded by a
// mutex and condition variable rather than a buffered channel, so Post
// never blocks regardless of how deep the backlog gets; the single-
// flight discipline of the message processor and object lifecycle is
// what keeps the backlog bounded in practice.
type WorkerPool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []poolJob
	draining bool
	workers  int
	wg       conc.WaitGroup
	clock    clockz.Clock
	metrics  *metricz.Registry
	tracer   *tracez.Tracer
	hooks    *hookz.Hooks[PoolEvent]
}

// NewWorkerPool starts a pool with n worker goroutines. n<=0 picks
// runtime.GOMAXPROCS(0).
func NewWorkerPool(n int) *WorkerPool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}

	metrics := metricz.New()
	metrics.Counter(MetricPoolJobsPosted)
	metrics.Counter(MetricPoolJobsRun)
	metrics.Counter(MetricPoolJobsFailed)
	metrics.Gauge(MetricPoolQueueDepth)
	metrics.Gauge(MetricPoolJobDuration)

	p := &WorkerPool{
		clock:   clockz.RealClock,
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[PoolEvent](),
	}
	p.cond = sync.NewCond(&p.mu)
	p.spawn(n)

	return p
}

func (p *WorkerPool) spawn(n int) {
	p.workers = n
	for i := 0; i < n; i++ {
		p.wg.Go(p.worker)
	}
	_ = p.hooks.Emit(context.Background(), HookPoolWorkerSpawned, PoolEvent{Workers: n})
}

func (p *WorkerPool) worker() {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.draining {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.draining {
			p.mu.Unlock()
			return
		}
		job := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.run(job)
	}
}

func (p *WorkerPool) run(job poolJob) {
	_, span := p.tracer.StartSpan(context.Background(), SpanPoolJob)
	defer span.Finish()

	start := p.getClock().Now()

	func() {
		defer func() {
			if r := recover(); r != nil {
				p.metrics.Counter(MetricPoolJobsFailed).Inc()
				span.SetTag(TagErr, fmt.Sprint(r))
				logError("pool", "job panicked: ", r)
			}
		}()
		job()
	}()

	elapsed := p.getClock().Now().Sub(start)
	span.SetTag(TagPoolJobDuration, elapsed.String())
	p.metrics.Gauge(MetricPoolJobDuration).Set(float64(elapsed.Milliseconds()))
	p.metrics.Counter(MetricPoolJobsRun).Inc()
}

// getClock returns the pool's clock, real by default; WithClock swaps it
// for a clockz.FakeClock so tests can assert job duration measurements
// without depending on wall-clock timing.
func (p *WorkerPool) getClock() clockz.Clock {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clock
}

// WithClock swaps the pool's clock, for tests that need deterministic
// control over job-duration measurements. It returns p for chaining and
// must be called before the pool starts running jobs a test depends on.
func (p *WorkerPool) WithClock(clock clockz.Clock) *WorkerPool {
	p.mu.Lock()
	p.clock = clock
	p.mu.Unlock()
	return p
}

// Post enqueues job and wakes one worker. It never blocks the caller.
// A job posted after Shutdown is discarded and logged.
func (p *WorkerPool) Post(job func()) {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		logWarn("pool", "job posted after shutdown, discarding")
		return
	}
	p.queue = append(p.queue, job)
	depth := len(p.queue)
	workers := p.workers
	p.mu.Unlock()

	p.metrics.Counter(MetricPoolJobsPosted).Inc()
	p.metrics.Gauge(MetricPoolQueueDepth).Set(float64(depth))
	if depth > workers {
		_ = p.hooks.Emit(context.Background(), HookPoolSaturated, PoolEvent{Workers: workers, Queued: depth})
	}

	p.cond.Signal()
}

// Call posts fn and blocks the caller until it completes, returning its
// result. If ctx already carries the worker marker that Call puts on the
// context it hands to fn (meaning Call is being invoked from inside a
// Call job, of this pool or of any other), fn runs inline instead of
// being posted, which is what makes re-entrant Call safe: it cannot
// queue behind a pool whose workers are all blocked on this very call.
func Call[T any](ctx context.Context, p *WorkerPool, fn func(context.Context) (T, error)) (T, error) {
	workerCtx := context.WithValue(ctx, poolMarkerKey{}, true)

	if inWorker(ctx) {
		return fn(workerCtx)
	}

	type result struct {
		value T
		err   error
	}
	resultCh := make(chan result, 1)

	p.Post(func() {
		value, err := fn(workerCtx)
		resultCh <- result{value: value, err: err}
	})

	select {
	case r := <-resultCh:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Resize joins the current set of workers, after draining whatever is
// already queued, then respawns with n workers. Jobs posted during the
// resize are queued normally and picked up once the new workers start.
func (p *WorkerPool) Resize(n int) {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}

	p.mu.Lock()
	p.draining = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()

	p.mu.Lock()
	p.draining = false
	p.mu.Unlock()

	p.wg = conc.WaitGroup{}
	p.spawn(n)
}

// Shutdown stops accepting new work, drains whatever is already
// queued, and joins every worker goroutine before returning.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	p.draining = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()

	if p.tracer != nil {
		p.tracer.Close()
	}
	p.hooks.Close()
}
