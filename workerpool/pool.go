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
	"fmt"
	"sync"
	"time"

	"github.com/nio-go/epollpool/internal/blockingqueue"
	"github.com/nio-go/epollpool/log"
	"github.com/nio-go/epollpool/metrics"
)

// BeforeExecute, if set, runs immediately before a worker executes a
// task, on the worker's own goroutine.
type BeforeExecute func(task *blockingqueue.Task)

// AfterExecute, if set, runs immediately after a worker executes a
// task (err is non-nil iff the task panicked), on the worker's own
// goroutine.
type AfterExecute func(task *blockingqueue.Task, err error)

// TerminatedHook, if set, runs once while the pool transitions
// tidying -> terminated, on whichever goroutine drove that
// transition.
type TerminatedHook func()

// Pool is a bounded worker pool: up to core workers are kept alive
// indefinitely, overflow workers up to max are spun up once the queue
// is full, and a RejectionPolicy decides the fate of a task that fits
// nowhere.
type Pool struct {
	ctl ctl

	mu          sync.Mutex
	termination *sync.Cond
	workers     map[*worker]struct{}

	completedTaskCount int64
	largestPoolSize    int32
	nextWorkerID       int64

	queue            *blockingqueue.Queue
	core             int32
	max              int32
	keepAlive        time.Duration
	allowCoreTimeout bool
	rejection        RejectionPolicy
	threadFactory    func(run func()) bool

	beforeExecute  BeforeExecute
	afterExecute   AfterExecute
	terminatedHook TerminatedHook
}

// New constructs a Pool. By default core=1, max=1; use WithCoreSize
// and WithMaxSize to size the pool, subject to 0 <= core <= max.
func New(opts ...Option) (*Pool, error) {
	cfg := config{}
	cfg.setDefault()
	for _, opt := range opts {
		opt.f(&cfg)
	}
	if cfg.core < 0 || cfg.max <= 0 || cfg.core > cfg.max {
		return nil, fmt.Errorf("workerpool: invalid core/max sizes (core=%d, max=%d)", cfg.core, cfg.max)
	}
	p := &Pool{
		workers:          make(map[*worker]struct{}),
		queue:            blockingqueue.New(cfg.queueCapacity),
		core:             cfg.core,
		max:              cfg.max,
		keepAlive:        cfg.keepAlive,
		allowCoreTimeout: cfg.allowCoreTimeout,
		rejection:        cfg.rejection,
		threadFactory:    cfg.threadFactory,
	}
	p.termination = sync.NewCond(&p.mu)
	p.ctl.init()
	return p, nil
}

// SetBeforeExecute, SetAfterExecute and SetTerminatedHook are not functional Options
// because they bind to the constructed Pool, not its config; set them
// right after New returns, before the first Submit.
func (p *Pool) SetBeforeExecute(f BeforeExecute)   { p.beforeExecute = f }
func (p *Pool) SetAfterExecute(f AfterExecute)     { p.afterExecute = f }
func (p *Pool) SetTerminatedHook(f TerminatedHook) { p.terminatedHook = f }

// Submit hands fn to the pool per the core/queue/max algorithm. When
// the task cannot be accepted it returns whatever the rejection policy
// returns: with AbortPolicy, ErrPoolClosed once the pool has left the
// running state and ErrRejectedExecution otherwise.
func (p *Pool) Submit(fn func()) error {
	metrics.Add(metrics.TasksSubmitted, 1)
	return p.submit(&blockingqueue.Task{Run: fn})
}

func (p *Pool) submit(t *blockingqueue.Task) error {
	c := p.ctl.load()

	if workerCountOf(c) < p.core {
		if p.addWorker(t, true) {
			return nil
		}
		c = p.ctl.load()
	}

	if isRunning(c) && p.queue.Offer(t) {
		c2 := p.ctl.load()
		if !isRunning(c2) && p.queue.Remove(t) {
			metrics.Add(metrics.TasksRejected, 1)
			return p.rejection.Reject(t, p)
		} else if workerCountOf(c2) == 0 {
			p.addWorker(nil, false)
		}
		return nil
	}

	if !p.addWorker(t, false) {
		metrics.Add(metrics.TasksRejected, 1)
		return p.rejection.Reject(t, p)
	}
	return nil
}

// addWorker attempts to add a worker (core or overflow) carrying an
// optional first task. It returns false without side effects if the
// pool's state/count makes that impossible.
func (p *Pool) addWorker(firstTask *blockingqueue.Task, isCore bool) bool {
retry:
	for {
		c := p.ctl.load()
		rs := runStateOf(c)

		if rs >= shuttingDown && !(rs == shuttingDown && firstTask == nil && !p.queue.IsEmpty()) {
			return false
		}

		for {
			wc := workerCountOf(c)
			limit := p.max
			if isCore {
				limit = p.core
			}
			if wc >= maxWorkerCount || wc >= limit {
				return false
			}
			if p.ctl.compareAndIncrementWorkerCount(c) {
				break retry
			}
			c = p.ctl.load()
			if runStateOf(c) != rs {
				continue retry
			}
		}
	}

	p.mu.Lock()
	c := p.ctl.load()
	rs := runStateOf(c)
	if rs >= shuttingDown && !(rs == shuttingDown && firstTask == nil) {
		p.mu.Unlock()
		p.ctl.decrementWorkerCount()
		p.tryTerminate()
		return false
	}

	p.nextWorkerID++
	w := newWorker(p.nextWorkerID, p, firstTask)
	p.workers[w] = struct{}{}
	if n := int32(len(p.workers)); n > p.largestPoolSize {
		p.largestPoolSize = n
	}
	p.mu.Unlock()

	if !p.threadFactory(func() { p.runWorker(w) }) {
		p.mu.Lock()
		delete(p.workers, w)
		p.mu.Unlock()
		p.ctl.decrementWorkerCount()
		p.tryTerminate()
		return false
	}

	metrics.Add(metrics.WorkersCreated, 1)
	return true
}

// runWorker is a worker's entire goroutine body.
func (p *Pool) runWorker(w *worker) {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.lock.start()

	task := w.firstTask
	w.firstTask = nil
	completedAbruptly := true

	defer func() { p.processWorkerExit(w, completedAbruptly) }()

	for {
		if task == nil {
			task = p.getTask(ctx, w)
			if task == nil {
				completedAbruptly = false
				return
			}
		}
		t := task
		task = nil

		if p.runTask(w, t) {
			completedAbruptly = true
			return
		}
		w.completedTasks.Add(1)
		metrics.Add(metrics.TasksCompleted, 1)
	}
}

// runTask executes one task under the worker's lock, recovering a
// panic rather than letting it take down the whole pool. It reports
// whether the worker should exit (a panic occurred).
func (p *Pool) runTask(w *worker, t *blockingqueue.Task) (abort bool) {
	w.lock.lock()
	defer w.lock.unlock()
	defer func() {
		if r := recover(); r != nil {
			abort = true
			if p.afterExecute != nil {
				p.afterExecute(t, fmt.Errorf("workerpool: task panicked: %v", r))
			}
			log.Errorf("workerpool: worker %d recovered from task panic: %v", w.id, r)
		} else if p.afterExecute != nil {
			p.afterExecute(t, nil)
		}
	}()
	if p.beforeExecute != nil {
		p.beforeExecute(t)
	}
	t.Run()
	return false
}

// getTask fetches the worker's next task, or nil if the worker should
// exit. timedOut tracks across loop iterations whether the previous
// poll timed out, mirroring the JDK algorithm's loop-local state.
func (p *Pool) getTask(ctx context.Context, w *worker) *blockingqueue.Task {
	timedOut := false
	for {
		c := p.ctl.load()
		rs := runStateOf(c)

		if rs >= shuttingDown && (rs >= stopped || p.queue.IsEmpty()) {
			p.ctl.decrementWorkerCount()
			return nil
		}

		wc := workerCountOf(c)
		timed := p.allowCoreTimeout || wc > p.core

		if (wc > p.max || (timed && timedOut)) && (wc > 1 || p.queue.IsEmpty()) {
			if p.ctl.compareAndDecrementWorkerCount(c) {
				return nil
			}
			continue
		}

		var t *blockingqueue.Task
		if timed {
			t = p.queue.Poll(ctx, p.keepAlive)
		} else {
			t = p.queue.Take(ctx)
		}
		if t != nil {
			return t
		}
		if ctx.Err() != nil {
			timedOut = false
		} else {
			timedOut = true
		}
	}
}

// processWorkerExit removes w from the pool, folds its completed-task
// count into the pool total, decrements workerCount on an abrupt exit,
// attempts termination, and replaces w if the pool still needs a
// minimum worker count.
func (p *Pool) processWorkerExit(w *worker, completedAbruptly bool) {
	metrics.Add(metrics.WorkersExited, 1)
	if completedAbruptly {
		metrics.Add(metrics.WorkersExitedAbruptly, 1)
		p.ctl.decrementWorkerCount()
	}

	p.mu.Lock()
	p.completedTaskCount += w.completedTasks.Load()
	delete(p.workers, w)
	p.mu.Unlock()

	p.tryTerminate()

	c := p.ctl.load()
	if runStateOf(c) < stopped {
		if !completedAbruptly {
			min := int32(0)
			if !p.allowCoreTimeout {
				min = p.core
			}
			if min == 0 && !p.queue.IsEmpty() {
				min = 1
			}
			if workerCountOf(p.ctl.load()) >= min {
				return
			}
		}
		p.addWorker(nil, false)
	}
}

// Shutdown advances the pool to the shutting-down state: no new tasks
// are accepted, queued tasks still run, idle workers are woken so they
// can observe the new state and exit once the queue drains.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.ctl.advanceRunStateTo(shuttingDown)
	p.interruptIdleWorkersLocked()
	p.mu.Unlock()
	p.tryTerminate()
}

// ShutdownNow advances the pool to stopped, wakes every worker
// (idle or busy), and returns the tasks that were still queued.
func (p *Pool) ShutdownNow() []*blockingqueue.Task {
	p.mu.Lock()
	p.ctl.advanceRunStateTo(stopped)
	for w := range p.workers {
		if w.cancel != nil {
			w.cancel()
		}
	}
	drained := p.queue.DrainTo()
	p.mu.Unlock()
	p.tryTerminate()
	return drained
}

// interruptIdleWorkersLocked wakes every worker that is not currently
// executing a task. Callers must hold p.mu.
func (p *Pool) interruptIdleWorkersLocked() {
	for w := range p.workers {
		if w.lock.tryLock() {
			if w.cancel != nil {
				w.cancel()
			}
			w.lock.unlock()
		}
	}
}

// tryTerminate advances runState to tidying/terminated once the
// shutdown/stop criteria in the state table are met, running the
// terminated hook exactly once on the transition into terminated.
func (p *Pool) tryTerminate() {
	for {
		c := p.ctl.load()
		rs := runStateOf(c)
		if rs == running || rs >= tidying {
			return
		}
		if rs == shuttingDown && !p.queue.IsEmpty() {
			return
		}
		if workerCountOf(c) != 0 {
			p.mu.Lock()
			p.interruptIdleWorkersLocked()
			p.mu.Unlock()
			return
		}

		p.mu.Lock()
		if runStateOf(p.ctl.load()) != rs {
			p.mu.Unlock()
			continue
		}
		p.ctl.advanceRunStateTo(tidying)
		if p.terminatedHook != nil {
			p.terminatedHook()
		}
		p.ctl.advanceRunStateTo(terminated)
		p.termination.Broadcast()
		p.mu.Unlock()
		return
	}
}

// AwaitTermination blocks until the pool reaches terminated or ctx is
// done, returning false in the latter case.
func (p *Pool) AwaitTermination(ctx context.Context) bool {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.termination.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	go func() {
		p.mu.Lock()
		for runStateOf(p.ctl.load()) != terminated && ctx.Err() == nil {
			p.termination.Wait()
		}
		p.mu.Unlock()
		close(done)
	}()

	<-done
	return runStateOf(p.ctl.load()) == terminated
}

// ActiveCount reports the number of workers currently executing a
// task (best-effort: momentarily stale under concurrent execution).
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for w := range p.workers {
		if w.lock.isBusy() {
			n++
		}
	}
	return n
}

// PoolSize reports the current number of workers.
func (p *Pool) PoolSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// LargestPoolSize reports the largest worker count ever observed.
func (p *Pool) LargestPoolSize() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.largestPoolSize
}

// CompletedTaskCount reports an approximate count of tasks that have
// finished running.
func (p *Pool) CompletedTaskCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := p.completedTaskCount
	for w := range p.workers {
		total += w.completedTasks.Load()
	}
	return total
}

// QueueSize reports the number of tasks currently queued.
func (p *Pool) QueueSize() int { return p.queue.Size() }

// IsShutdown reports whether Shutdown or ShutdownNow has been called.
func (p *Pool) IsShutdown() bool { return runStateOf(p.ctl.load()) >= shuttingDown }

// IsTerminated reports whether the pool has fully wound down.
func (p *Pool) IsTerminated() bool { return runStateOf(p.ctl.load()) == terminated }
