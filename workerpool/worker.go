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

package workerpool

import (
	"context"
	"runtime"
	"sync/atomic"

	"github.com/nio-go/epollpool/internal/blockingqueue"
)

const (
	lockPreStart int32 = -1
	lockIdle     int32 = 0
	lockBusy     int32 = 1
)

// workerLock is the per-worker non-reentrant lock from §3/§4.4: -1
// before the worker has started servicing tasks (so an interrupt
// issued before the worker loop begins is not lost), 0 while idle and
// interruptible, 1 while a task is executing and therefore not
// interruptible by shutdown. Unlike internal/locker.Locker it is not
// limited to two states, so it is its own small CAS type rather than
// a reuse of that primitive.
type workerLock struct {
	state int32
}

func newWorkerLock() *workerLock {
	w := &workerLock{}
	atomic.StoreInt32(&w.state, lockPreStart)
	return w
}

// start transitions out of the pre-start state once, enabling the
// worker to be treated as idle/interruptible.
func (w *workerLock) start() {
	atomic.CompareAndSwapInt32(&w.state, lockPreStart, lockIdle)
}

// tryLock attempts idle -> busy without blocking. Any goroutine may
// call this, not only the owning worker: shutdown uses a successful
// tryLock from the caller's own goroutine as the definition of "this
// worker is currently idle".
func (w *workerLock) tryLock() bool {
	return atomic.CompareAndSwapInt32(&w.state, lockIdle, lockBusy)
}

// lock spins until it acquires idle -> busy. Only the worker's own
// goroutine calls this (to start running a task); shutdown's
// interruptIdleWorkersLocked uses the non-blocking tryLock instead, so the
// two never deadlock against each other.
func (w *workerLock) lock() {
	for !w.tryLock() {
		runtime.Gosched()
	}
}

// unlock releases busy -> idle.
func (w *workerLock) unlock() {
	atomic.StoreInt32(&w.state, lockIdle)
}

// isBusy reports whether a task is currently executing.
func (w *workerLock) isBusy() bool {
	return atomic.LoadInt32(&w.state) == lockBusy
}

// worker is bound to exactly one goroutine for its lifetime, carrying
// an optional first task (supplied by the submit that created it),
// a completed-task counter, and the non-reentrant execution lock.
type worker struct {
	id             int64
	pool           *Pool
	firstTask      *blockingqueue.Task
	completedTasks atomic.Int64
	lock           *workerLock
	cancel         context.CancelFunc
}

func newWorker(id int64, pool *Pool, firstTask *blockingqueue.Task) *worker {
	return &worker{id: id, pool: pool, firstTask: firstTask, lock: newWorkerLock()}
}
