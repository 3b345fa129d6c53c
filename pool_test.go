package clypsalot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

func TestWorkerPoolPostRunsJob(t *testing.T) {
	p := NewWorkerPool(2)
	defer p.Shutdown()

	done := make(chan struct{})
	p.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("posted job never ran")
	}
}

func TestWorkerPoolFIFOSubmissionOrder(t *testing.T) {
	p := NewWorkerPool(1)
	defer p.Shutdown()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		i := i
		p.Post(func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	wg.Wait()

	for i, v := range order {
		if v != i {
			t.Fatalf("expected FIFO submission order, got %v", order)
		}
	}
}

func TestWorkerPoolCallBlocksAndReturnsResult(t *testing.T) {
	p := NewWorkerPool(2)
	defer p.Shutdown()

	got, err := Call(context.Background(), p, func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
}

func TestWorkerPoolCallIsReentrant(t *testing.T) {
	p := NewWorkerPool(1)
	defer p.Shutdown()

	outer, err := Call(context.Background(), p, func(ctx context.Context) (int, error) {
		inner, innerErr := Call(ctx, p, func(context.Context) (int, error) {
			return 7, nil
		})
		if innerErr != nil {
			return 0, innerErr
		}
		return inner + 1, nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outer != 8 {
		t.Errorf("expected re-entrant call to complete and propagate, got %d", outer)
	}
}

func TestWorkerPoolShutdownDrainsThenJoins(t *testing.T) {
	p := NewWorkerPool(2)

	ran := make(chan struct{}, 1)
	p.Post(func() { ran <- struct{}{} })
	p.Shutdown()

	select {
	case <-ran:
	default:
		t.Fatal("expected queued job to run before shutdown joined")
	}

	var called bool
	p.Post(func() { called = true })
	time.Sleep(10 * time.Millisecond)
	if called {
		t.Error("expected job posted after shutdown to be discarded")
	}
}

func TestWorkerPoolWithClockDrivesJobDuration(t *testing.T) {
	p := NewWorkerPool(1)
	defer p.Shutdown()

	clock := clockz.NewFakeClock()
	p.WithClock(clock)

	started := make(chan struct{})
	release := make(chan struct{})
	p.Post(func() {
		close(started)
		<-release
	})

	<-started
	clock.Advance(5 * time.Second)
	close(release)

	// The follow-up job holds the single worker until the gauge has been
	// read, so its own zero-length duration cannot overwrite the reading.
	done := make(chan struct{})
	hold := make(chan struct{})
	defer close(hold)
	p.Post(func() {
		close(done)
		<-hold
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool stalled after timed job")
	}

	got := p.metrics.Gauge(MetricPoolJobDuration).Value()
	if got != 5000 {
		t.Errorf("expected MetricPoolJobDuration to reflect the 5s fake-clock advance as 5000ms, got %v", got)
	}
}

func TestWorkerPoolJobPanicIsContained(t *testing.T) {
	p := NewWorkerPool(1)
	defer p.Shutdown()

	p.Post(func() { panic("boom") })

	got, err := Call(context.Background(), p, func(context.Context) (int, error) {
		return 1, nil
	})
	if err != nil || got != 1 {
		t.Fatalf("expected pool to keep serving jobs after a panic, got %d, %v", got, err)
	}
}
