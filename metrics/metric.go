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

// Package metrics provides runtime monitoring counters for the selector
// and worker pool cores, useful for performance tuning.
package metrics

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
)

// All metrics definitions.
const (
	// Demux / epoll metrics.
	EpollWait = iota
	EpollNoWait
	EpollEvents
	EpollCtlAdd
	EpollCtlMod
	EpollCtlDel
	InterruptWrites
	InterruptCoalesced

	// Selector metrics.
	SelectCalls
	KeysCancelled
	KeysChanged

	// Worker pool metrics.
	TasksSubmitted
	TasksRejected
	TasksCompleted
	WorkersCreated
	WorkersExited
	WorkersExitedAbruptly

	Max
)

var metrics [Max]atomic.Uint64

// Add adds delta to the named counter.
func Add(name int, delta uint64) {
	if name >= Max {
		return
	}
	metrics[name].Add(delta)
}

// Get returns one metric counter.
func Get(name int) uint64 {
	if name >= Max {
		return 0
	}
	return metrics[name].Load()
}

// GetAll returns all metrics.
func GetAll() [Max]uint64 {
	var m [Max]uint64
	for i := range metrics {
		m[i] = metrics[i].Load()
	}
	return m
}

// ShowMetricsOfPeriod shows metric info of duration d from now on.
// It blocks for d, then prints the delta.
func ShowMetricsOfPeriod(d time.Duration) {
	old := GetAll()
	<-time.After(d)
	latest := GetAll()
	var m [Max]uint64
	for i := range metrics {
		m[i] = latest[i] - old[i]
	}
	showAll(m)
}

// ShowMetrics prints the current metrics to the console.
func ShowMetrics() {
	showAll(GetAll())
}

func showAll(m [Max]uint64) {
	fmt.Println("######### epollpool metrics (", time.Now().Format("2006-01-02 15:04:05"), ") ###########")
	showDemuxMetrics(m)
	showSelectorMetrics(m)
	showPoolMetrics(m)
	fmt.Printf("\n")
}

func showDemuxMetrics(m [Max]uint64) {
	fmt.Printf("%-59s: %d\n", "# DEMUX - number of epoll_wait returns", m[EpollWait])
	fmt.Printf("%-59s: %d\n", "# DEMUX - number of epoll_wait called with msec=0", m[EpollNoWait])
	fmt.Printf("%-59s: %d\n", "# DEMUX - number of total ready events", m[EpollEvents])
	fmt.Printf("%-59s: %d\n", "# DEMUX - number of EPOLL_CTL_ADD calls", m[EpollCtlAdd])
	fmt.Printf("%-59s: %d\n", "# DEMUX - number of EPOLL_CTL_MOD calls", m[EpollCtlMod])
	fmt.Printf("%-59s: %d\n", "# DEMUX - number of EPOLL_CTL_DEL calls", m[EpollCtlDel])
	fmt.Printf("%-59s: %d\n", "# DEMUX - number of interrupt pipe writes", m[InterruptWrites])
	fmt.Printf("%-59s: %d\n", "# DEMUX - number of wakeups coalesced within one cycle", m[InterruptCoalesced])
	if m[EpollWait] > 0 {
		fmt.Printf("%-59s: %.2f\n", "# DEMUX - average events per epoll_wait",
			float32(m[EpollEvents])/float32(m[EpollWait]))
	}
}

func showSelectorMetrics(m [Max]uint64) {
	fmt.Printf("%-59s: %d\n", "# SELECTOR - number of select() calls", m[SelectCalls])
	fmt.Printf("%-59s: %d\n", "# SELECTOR - number of keys cancelled", m[KeysCancelled])
	fmt.Printf("%-59s: %d\n", "# SELECTOR - number of keys whose ready bits changed", m[KeysChanged])
}

func showPoolMetrics(m [Max]uint64) {
	fmt.Printf("%-59s: %d\n", "# POOL - number of tasks submitted", m[TasksSubmitted])
	fmt.Printf("%-59s: %d\n", "# POOL - number of tasks rejected", m[TasksRejected])
	fmt.Printf("%-59s: %d\n", "# POOL - number of tasks completed", m[TasksCompleted])
	fmt.Printf("%-59s: %d\n", "# POOL - number of workers created", m[WorkersCreated])
	fmt.Printf("%-59s: %d\n", "# POOL - number of workers exited", m[WorkersExited])
	fmt.Printf("%-59s: %d\n", "# POOL - number of workers that exited abruptly", m[WorkersExitedAbruptly])
}
