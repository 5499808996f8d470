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

//go:build linux
// +build linux

package selector

import "sync"

// Direction distinguishes the read and write blocking paths a channel
// exposes. The interruption protocol tracks at most one in-flight
// guard per channel per direction, mirroring the invariant (§3 of the
// channel model) that a channel never has two concurrent blocking
// calls in the same direction.
type Direction int

const (
	// DirRead guards a channel's blocking read/accept path.
	DirRead Direction = iota
	// DirWrite guards a channel's blocking write/connect path.
	DirWrite
)

// guard stands in for the source's thread-local interrupt-hook slot.
// Go has no handle that lets one goroutine reach into another and
// raise a flag on it, so instead of addressing "the thread currently
// blocked here", a guard is addressed by "the channel and direction
// currently blocked" — which the channel model already guarantees is
// at most one call. Whoever wants to abort that call invokes trip
// through Base.Interrupt instead of an OS-level
// interrupt.
type guard struct {
	mu      sync.Mutex
	present bool
	tripped bool
}

// begin installs the guard, reporting false if one is already present
// for this direction — a caller violating the at-most-one-blocker
// invariant.
func (g *guard) begin() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.present {
		return false
	}
	g.present = true
	g.tripped = false
	return true
}

// trip marks the installed guard as interrupted, reporting whether one
// was present to receive it. A guard with nothing installed means the
// channel is not currently blocked in this direction, so tripping it
// has nothing useful to do beyond the close that the caller performs
// regardless.
func (g *guard) trip() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.present {
		return false
	}
	g.tripped = true
	return true
}

// end uninstalls the guard and reports whether it was tripped while
// installed.
func (g *guard) end() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	tripped := g.tripped
	g.present = false
	g.tripped = false
	return tripped
}
