package serializer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestTasksRunInSubmissionOrder(t *testing.T) {
	s := New()
	ctx := context.Background()

	firstStarted := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.Do(ctx, "thread-1", func(context.Context) error {
			close(firstStarted)
			<-release
			mu.Lock()
			order = append(order, 1)
			mu.Unlock()
			return nil
		})
	}()

	<-firstStarted
	go func() {
		defer wg.Done()
		// The second task's precondition is the first task's postcondition.
		s.Do(ctx, "thread-1", func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			if len(order) != 1 || order[0] != 1 {
				t.Error("second task ran before first task completed")
			}
			order = append(order, 2)
			return nil
		})
	}()

	// Give the second caller time to enqueue, then let the first task finish.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("unexpected execution order: %v", order)
	}
}

func TestDifferentThreadsDoNotBlockEachOther(t *testing.T) {
	s := New()
	ctx := context.Background()

	blocked := make(chan struct{})
	unblock := make(chan struct{})
	go s.Do(ctx, "thread-a", func(context.Context) error {
		close(blocked)
		<-unblock
		return nil
	})
	<-blocked

	done := make(chan struct{})
	go func() {
		s.Do(ctx, "thread-b", func(context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task on an unrelated thread was blocked")
	}
	close(unblock)
}

func TestFailingTaskDoesNotPoisonQueue(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	if err := s.Do(ctx, "thread-1", func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected task error returned to caller, got %v", err)
	}

	ran := false
	if err := s.Do(ctx, "thread-1", func(context.Context) error { ran = true; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Error("subsequent task did not run after a failure")
	}
}

func TestEmptyQueueRunsImmediately(t *testing.T) {
	s := New()
	ran := false
	if err := s.Do(context.Background(), "thread-1", func(context.Context) error { ran = true; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Error("task did not run")
	}
}

func TestAbandonedWaiterReleasesSlot(t *testing.T) {
	s := New()

	blocked := make(chan struct{})
	unblock := make(chan struct{})
	go s.Do(context.Background(), "thread-1", func(context.Context) error {
		close(blocked)
		<-unblock
		return nil
	})
	<-blocked

	waiterCtx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Do(waiterCtx, "thread-1", func(context.Context) error {
		t.Error("abandoned task must not run")
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(unblock)

	// The abandoned waiter must not stall the queue for later tasks.
	done := make(chan struct{})
	go func() {
		s.Do(context.Background(), "thread-1", func(context.Context) error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue stalled after an abandoned waiter")
	}
}
