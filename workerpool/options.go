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

import "time"

// Option configures a Pool at construction time.
type Option struct {
	f func(*config)
}

type config struct {
	core             int32
	max              int32
	queueCapacity    int
	keepAlive        time.Duration
	allowCoreTimeout bool
	rejection        RejectionPolicy
	threadFactory    func(run func()) bool
}

func (c *config) setDefault() {
	c.core = 1
	c.max = 1
	c.queueCapacity = 0
	c.keepAlive = 60 * time.Second
	c.rejection = AbortPolicy{}
	c.threadFactory = func(run func()) bool { go run(); return true }
}

// WithCoreSize sets the number of workers kept alive even when idle
// (unless WithAllowCoreThreadTimeout is also set). Default 1.
func WithCoreSize(n int32) Option {
	return Option{func(c *config) { c.core = n }}
}

// WithMaxSize sets the upper bound on total worker count. Default 1.
func WithMaxSize(n int32) Option {
	return Option{func(c *config) { c.max = n }}
}

// WithQueueCapacity sets the task queue's capacity. A capacity of 0
// (the default) means unbounded: Submit can always enqueue once the
// core workers are saturated. Use a positive capacity to make Submit
// start overflow workers, and eventually reject, once the queue fills.
func WithQueueCapacity(n int) Option {
	return Option{func(c *config) { c.queueCapacity = n }}
}

// WithKeepAlive sets how long an idle non-core worker (or, with
// WithAllowCoreThreadTimeout, any idle worker) waits for a task before
// exiting. Default 60s.
func WithKeepAlive(d time.Duration) Option {
	return Option{func(c *config) { c.keepAlive = d }}
}

// WithAllowCoreThreadTimeout lets core workers, not only overflow
// workers, exit after sitting idle for the keep-alive duration.
func WithAllowCoreThreadTimeout(allow bool) Option {
	return Option{func(c *config) { c.allowCoreTimeout = allow }}
}

// WithRejectionPolicy sets the policy applied when a submitted task
// cannot be queued and no new worker can be started. Default
// AbortPolicy.
func WithRejectionPolicy(p RejectionPolicy) Option {
	return Option{func(c *config) { c.rejection = p }}
}

// WithThreadFactory overrides how a worker's backing goroutine is
// spawned. factory reports whether it actually started run; returning
// false tells addWorker the underlying execution resource is
// exhausted, so it rolls back the reservation it made for this worker
// and returns false itself, same as any other addWorker failure. Exists
// so tests can simulate that exhaustion path; production callers
// should leave this unset.
func WithThreadFactory(factory func(run func()) bool) Option {
	return Option{func(c *config) { c.threadFactory = factory }}
}
