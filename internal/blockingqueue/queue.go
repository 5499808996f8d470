//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

// Package blockingqueue implements the task queue capability the
// worker pool depends on: offer, timed poll, take, identity-based
// remove, drainTo, isEmpty, and size, all guarded by one mutex and a
// condition variable. Timed waits use context.AfterFunc (Go 1.21) in
// place of the thread-interrupt the source relies on to abort a
// blocked poll/take early.
package blockingqueue

import (
	"context"
	"sync"
	"time"
)

// Task is the unit of work the queue carries. The worker pool submits
// *Task values (not bare func()) so Remove can identify a specific
// submission by pointer even though func values are not themselves
// comparable in Go.
type Task struct {
	Run func()
}

// Queue is a FIFO blocking queue with optional bounded capacity. The
// zero value is not usable; construct with New.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	items    []*Task
	capacity int // 0 means unbounded
}

// New creates a Queue. A capacity of 0 means unbounded.
func New(capacity int) *Queue {
	q := &Queue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Offer appends t if there is room, reporting whether it did.
func (q *Queue) Offer(t *Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.capacity > 0 && len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, t)
	q.notEmpty.Signal()
	return true
}

func (q *Queue) popFrontLocked() *Task {
	t := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return t
}

// Take blocks until a task is available or ctx is done, returning nil
// in the latter case. A nil ctx blocks indefinitely.
func (q *Queue) Take(ctx context.Context) *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if ctx != nil {
		stop := context.AfterFunc(ctx, func() {
			q.mu.Lock()
			q.notEmpty.Broadcast()
			q.mu.Unlock()
		})
		defer stop()
	}
	for len(q.items) == 0 {
		if ctx != nil && ctx.Err() != nil {
			return nil
		}
		q.notEmpty.Wait()
	}
	return q.popFrontLocked()
}

// Poll blocks until a task is available, timeout elapses, or ctx is
// done, returning nil on timeout or cancellation.
func (q *Queue) Poll(ctx context.Context, timeout time.Duration) *Task {
	deadlineCtx, cancel := context.WithTimeout(orBackground(ctx), timeout)
	defer cancel()
	return q.Take(deadlineCtx)
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// Remove deletes t by pointer identity, reporting whether it was
// present. Used to retract a just-submitted task when the pool's
// state flips to shut-down between enqueue and the caller's recheck.
func (q *Queue) Remove(t *Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if item == t {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// DrainTo removes and returns every queued task, in FIFO order. Used
// by shutdownNow to report the tasks that never started.
func (q *Queue) DrainTo() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// IsEmpty reports whether the queue currently holds no tasks.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// Size reports the current number of queued tasks.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
