// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package workerpool

import "github.com/nio-go/epollpool/internal/blockingqueue"

// RejectionPolicy decides what happens to a task Submit could not hand
// to a worker or the queue. Chosen at construction and immutable
// thereafter.
type RejectionPolicy interface {
	// Reject is invoked with the task that could not be accepted and
	// the pool that tried to accept it.
	Reject(task *blockingqueue.Task, pool *Pool) error
}

// AbortPolicy fails the submit: ErrPoolClosed once the pool has left
// the running state, ErrRejectedExecution if it is still running but
// saturated.
type AbortPolicy struct{}

// Reject implements RejectionPolicy.
func (AbortPolicy) Reject(_ *blockingqueue.Task, pool *Pool) error {
	if !isRunning(pool.ctl.load()) {
		return ErrPoolClosed
	}
	return ErrRejectedExecution
}

// CallerRunsPolicy executes the task on the submitting goroutine,
// unless the pool is no longer running, in which case it behaves like
// a silent discard.
type CallerRunsPolicy struct{}

// Reject implements RejectionPolicy.
func (CallerRunsPolicy) Reject(t *blockingqueue.Task, pool *Pool) error {
	if !isRunning(pool.ctl.load()) {
		return nil
	}
	t.Run()
	return nil
}

// DiscardPolicy silently drops the task.
type DiscardPolicy struct{}

// Reject implements RejectionPolicy.
func (DiscardPolicy) Reject(*blockingqueue.Task, *Pool) error { return nil }

// DiscardOldestPolicy drops the queue head (if any) and retries the
// submit once, unless the pool has already shut down.
type DiscardOldestPolicy struct{}

// Reject implements RejectionPolicy.
func (DiscardOldestPolicy) Reject(t *blockingqueue.Task, pool *Pool) error {
	if !isRunning(pool.ctl.load()) {
		return nil
	}
	pool.queue.Poll(nil, 0)
	return pool.submit(t)
}
