// Package serializer enforces at most one in-flight assistant request per
// conversation thread.
//
// The external assistant's per-thread context is not safe for concurrent
// mutation, so turns for one thread must run strictly one after another. Turns
// for different threads share nothing and run fully concurrently, keeping
// throughput scaled by conversation count.
package serializer

import (
	"context"
	"log/slog"
	"sync"
)

// Task is one unit of work bound to a thread handle.
type Task func(ctx context.Context) error

// Serializer maintains one logical FIFO queue per thread handle. Queues are
// created on first use and discarded when idle or when the thread handle is
// invalidated, so the arena does not grow with dead conversations.
type Serializer struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

// New creates an empty serializer.
func New() *Serializer {
	return &Serializer{tails: make(map[string]chan struct{})}
}

// Do runs task after every previously submitted task for the same handle has
// completed, then returns the task's own result to the caller. A failing task
// does not poison the queue: successors still run. If the queue is empty the
// task runs immediately.
//
// Cancelling ctx while waiting for the slot abandons the wait and returns
// ctx.Err(); a task that has already started is never retracted and runs to
// completion so stored state stays consistent.
func (s *Serializer) Do(ctx context.Context, handle string, task Task) error {
	done := make(chan struct{})

	s.mu.Lock()
	prev := s.tails[handle]
	s.tails[handle] = done
	s.mu.Unlock()

	finish := func() {
		close(done)
		s.mu.Lock()
		if s.tails[handle] == done {
			delete(s.tails, handle)
		}
		s.mu.Unlock()
	}

	if prev != nil {
		slog.Debug("Serializer Do waiting for prior task", "handle", handle)
		select {
		case <-prev:
		case <-ctx.Done():
			// Successors must not observe a permanently open slot: release it
			// once the predecessor finishes.
			go func() {
				<-prev
				finish()
			}()
			slog.Debug("Serializer Do abandoned while queued", "handle", handle, "error", ctx.Err())
			return ctx.Err()
		}
	}

	defer finish()
	return task(ctx)
}

// Forget drops the queue for a handle. Called when the thread handle is
// invalidated on conversation reset. Tasks already waiting keep their ordering;
// tasks submitted afterwards start a fresh queue.
func (s *Serializer) Forget(handle string) {
	s.mu.Lock()
	delete(s.tails, handle)
	s.mu.Unlock()
	slog.Debug("Serializer Forget", "handle", handle)
}
