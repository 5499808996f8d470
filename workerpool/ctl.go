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

// Package workerpool implements a bounded worker pool with
// ThreadPoolExecutor-style semantics: a single packed atomic word
// carrying both run state and worker count, CAS-driven lifecycle
// transitions, a pluggable rejection policy, and graceful/forced
// shutdown.
package workerpool

import "go.uber.org/atomic"

// runState is the pool's lifecycle state, packed into the high bits of
// ctl. Values are deliberately small and ascending so that ordinary
// unsigned integer comparison expresses the lattice running <
// shutdown < stop < tidying < terminated — the one property the ctl
// word exists to make atomic.
type runState int32

const (
	running runState = iota
	shuttingDown
	stopped
	tidying
	terminated
)

const (
	// countBits is the width of the worker-count field packed into the
	// low bits of ctl.
	countBits = 29
	// maxWorkerCount is the largest worker count the packed word can
	// represent (2^29 - 1).
	maxWorkerCount = 1<<countBits - 1
)

// ctl packs runState and workerCount into one atomic int32 so a single
// compare-and-swap can enforce an invariant between the two, exactly
// as a split pair of fields cannot.
type ctl struct {
	word atomic.Int32
}

func packCtl(rs runState, workerCount int32) int32 {
	return int32(rs)<<countBits | workerCount
}

func runStateOf(c int32) runState { return runState(uint32(c) >> countBits) }

func workerCountOf(c int32) int32 { return c & maxWorkerCount }

func (c *ctl) load() int32 { return c.word.Load() }

func (c *ctl) init() { c.word.Store(packCtl(running, 0)) }

// compareAndIncrementWorkerCount attempts a single +1 CAS against the
// observed value expect; returns false if ctl had already changed.
func (c *ctl) compareAndIncrementWorkerCount(expect int32) bool {
	return c.word.CompareAndSwap(expect, expect+1)
}

// compareAndDecrementWorkerCount attempts a single -1 CAS against the
// observed value expect; returns false if ctl had already changed.
func (c *ctl) compareAndDecrementWorkerCount(expect int32) bool {
	return c.word.CompareAndSwap(expect, expect-1)
}

// decrementWorkerCount retries the -1 CAS until it succeeds, used on
// paths where the caller cannot usefully react to losing the race
// (e.g. a worker exiting abruptly).
func (c *ctl) decrementWorkerCount() {
	for {
		cur := c.word.Load()
		if c.word.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// advanceRunStateTo CASes runState forward to target, leaving
// workerCount untouched, retrying until either the CAS lands or
// another goroutine has already advanced state at or past target.
func (c *ctl) advanceRunStateTo(target runState) {
	for {
		cur := c.word.Load()
		if runStateOf(cur) >= target {
			return
		}
		next := packCtl(target, workerCountOf(cur))
		if c.word.CompareAndSwap(cur, next) {
			return
		}
	}
}

func isRunning(c int32) bool { return runStateOf(c) == running }
