package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gavel/internal/judge/queue"
)

func TestPoolRejectsZeroCapacity(t *testing.T) {
	if _, err := queue.NewPool(0); err == nil {
		t.Fatal("expected error for zero capacity")
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	const capacity = 3
	p, err := queue.NewPool(capacity)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	p.Start()
	defer p.Shutdown()

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		job := queue.Job{
			ID: "job",
			Execute: func(ctx context.Context) error {
				defer wg.Done()
				n := atomic.AddInt32(&active, 1)
				for {
					old := atomic.LoadInt32(&peak)
					if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			},
		}
		if err := p.Enqueue(job); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	wg.Wait()

	if got := atomic.LoadInt32(&peak); got > capacity {
		t.Fatalf("observed %d concurrent jobs, capacity is %d", got, capacity)
	}
}

func TestPoolRunsInOrder(t *testing.T) {
	p, err := queue.NewPool(1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		p.Enqueue(queue.Job{
			Execute: func(ctx context.Context) error {
				defer wg.Done()
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			},
		})
	}
	p.Start()
	wg.Wait()
	p.Shutdown()

	for i, v := range order {
		if v != i {
			t.Fatalf("jobs ran out of order: %v", order)
		}
	}
}

func TestPoolPanicIsolation(t *testing.T) {
	p, err := queue.NewPool(1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	p.Start()
	defer p.Shutdown()

	failed := make(chan error, 1)
	done := make(chan struct{})

	p.Enqueue(queue.Job{
		ID:      "boom",
		Execute: func(ctx context.Context) error { panic("bad submission") },
		Fail:    func(ctx context.Context, err error) { failed <- err },
	})
	p.Enqueue(queue.Job{
		Execute: func(ctx context.Context) error {
			close(done)
			return nil
		},
	})

	select {
	case err := <-failed:
		if err == nil {
			t.Fatal("expected non-nil panic error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fail callback never invoked")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive the panic")
	}
}

func TestPoolFailOnError(t *testing.T) {
	p, err := queue.NewPool(1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	p.Start()
	defer p.Shutdown()

	wantErr := errors.New("infra down")
	failed := make(chan error, 1)
	p.Enqueue(queue.Job{
		Execute: func(ctx context.Context) error { return wantErr },
		Fail:    func(ctx context.Context, err error) { failed <- err },
	})

	select {
	case err := <-failed:
		if !errors.Is(err, wantErr) {
			t.Fatalf("expected %v, got %v", wantErr, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fail callback never invoked")
	}
}

func TestPoolStatus(t *testing.T) {
	p, err := queue.NewPool(2)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	st := p.Status()
	if st.Capacity != 2 || st.Active != 0 || st.Queued != 0 {
		t.Fatalf("unexpected idle status: %+v", st)
	}

	// Workers not started yet, so jobs stay queued.
	for i := 0; i < 3; i++ {
		p.Enqueue(queue.Job{Execute: func(ctx context.Context) error { return nil }})
	}
	if st := p.Status(); st.Queued != 3 {
		t.Fatalf("expected 3 queued, got %+v", st)
	}

	p.Start()
	p.Shutdown()
}

func TestPoolEnqueueAfterShutdown(t *testing.T) {
	p, err := queue.NewPool(1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	p.Start()
	p.Shutdown()
	if err := p.Enqueue(queue.Job{Execute: func(ctx context.Context) error { return nil }}); err == nil {
		t.Fatal("expected enqueue to fail after shutdown")
	}
}

func TestComputeBackoff(t *testing.T) {
	base := 500 * time.Millisecond
	max := 5 * time.Second
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tc := range cases {
		if got := queue.ComputeBackoff(tc.attempt, base, max); got != tc.want {
			t.Fatalf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}
