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

import (
	"sync"

	"go.uber.org/atomic"
)

// Channel is the capability interface the selector consumes. Concrete
// variants (pipe, TCP connection, TCP listener, UDP socket) live in the
// channel package and each supply their own interest/ready translation
// table in place of the source's per-subclass method override.
type Channel interface {
	// FD returns the channel's native file descriptor.
	FD() int

	// ValidOps returns the subset of Op this channel can ever be
	// registered for.
	ValidOps() Op

	// TranslateInterest converts an interest set into the kernel event
	// mask the demux should watch for.
	TranslateInterest(interest Op) uint32

	// TranslateReady decodes the kernel's returned event bits into the
	// subset of interest that is now ready, applying the
	// POLLERR/POLLHUP/POLLIN/POLLOUT rules from the selector's event
	// translation contract. valid is false for POLLNVAL, meaning the
	// channel was pre-closed during this cycle and the event should be
	// dropped entirely rather than merged into any key's ready set.
	TranslateReady(kernelEvents uint32, interest Op) (ready Op, valid bool)

	// Kill releases the channel's fd. Safe to call more than once.
	Kill() error
}

// Base is embedded by every concrete Channel implementation. It
// supplies the blocking-mode flag, the per-selector key list, the
// close/kill bookkeeping, and the begin/end guard pair every blocking
// operation wraps.
type Base struct {
	fd int

	blocking atomic.Bool
	closed   atomic.Bool

	mu   sync.Mutex
	keys []*Key

	readGuard  guard
	writeGuard guard
}

// NewBase wraps fd for use by a concrete channel variant.
func NewBase(fd int) *Base {
	return &Base{fd: fd}
}

// FD returns the native file descriptor.
func (b *Base) FD() int { return b.fd }

// isBaseChannel marks any type embedding Base as having been built
// through this package's channel construction path. Register rejects
// a Channel value that does not embed Base with ErrIllegalSelector,
// the Go-idiomatic stand-in for "channel and selector belong to
// different providers": a hand-rolled Channel implementation that
// skips Base was never handed out by this selector's provider.
func (b *Base) isBaseChannel() {}

// IsBlocking reports whether the channel is in blocking mode. A
// blocking-mode channel cannot be registered with a Selector.
func (b *Base) IsBlocking() bool { return b.blocking.Load() }

// SetBlocking toggles blocking mode. Concrete variants call this from
// their constructor or an explicit SetBlocking method; it does not by
// itself touch the fd's O_NONBLOCK flag, which is the variant's job.
func (b *Base) SetBlocking(v bool) { b.blocking.Store(v) }

// IsClosed reports whether Close has been called.
func (b *Base) IsClosed() bool { return b.closed.Load() }

// addKey records that the channel now has key registered with some
// selector.
func (b *Base) addKey(k *Key) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys = append(b.keys, k)
}

// removeKey drops key from the channel's key list and reports whether
// the channel has no remaining registrations.
func (b *Base) removeKey(k *Key) (noneLeft bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, existing := range b.keys {
		if existing == k {
			b.keys = append(b.keys[:i], b.keys[i+1:]...)
			break
		}
	}
	return len(b.keys) == 0
}

// keyFor returns the key this channel already holds for sel, if any.
func (b *Base) keyFor(sel *Selector) *Key {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range b.keys {
		if k.sel == sel {
			return k
		}
	}
	return nil
}

// Close marks the channel closed. It does not trip any in-flight
// guard — a goroutine blocked in Begin/End observes this as
// AsynchronousClose rather than ClosedByInterrupt, distinguishing "I
// was closed out from under" from "I was specifically interrupted".
// The first Close cancels every key the channel holds; each selector
// then kills the channel once its last key is deregistered. It reports
// whether this call was the one that closed the channel.
func (b *Base) Close() bool {
	if !b.closed.CompareAndSwap(false, true) {
		return false
	}
	b.mu.Lock()
	keys := append([]*Key(nil), b.keys...)
	b.mu.Unlock()
	for _, k := range keys {
		k.Cancel()
	}
	return true
}

// Interrupt aborts whichever blocking call is currently installed on
// direction dir, if any, and closes the channel. The caller (typically
// a context-cancellation watcher wrapping a blocking operation) gets
// ClosedByInterrupt out of the matching End call instead of
// AsynchronousClose.
func (b *Base) Interrupt(dir Direction) {
	b.guardFor(dir).trip()
	b.Close()
}

func (b *Base) guardFor(dir Direction) *guard {
	if dir == DirRead {
		return &b.readGuard
	}
	return &b.writeGuard
}

// Begin installs the guard for dir. Callers must pair every Begin with
// exactly one End, even on an error return from the wrapped syscall
// loop.
func (b *Base) Begin(dir Direction) error {
	if !b.guardFor(dir).begin() {
		return ErrIllegalBlockingMode
	}
	return nil
}

// End uninstalls the guard for dir and translates its outcome per the
// begin/end contract: a guard tripped while installed means the
// channel was closed specifically to abort this call
// (ClosedByInterrupt); otherwise, if the operation did not complete
// and the channel is now closed, it was an ordinary concurrent close
// (AsynchronousClose).
func (b *Base) End(dir Direction, completed bool) error {
	tripped := b.guardFor(dir).end()
	if tripped {
		return ErrClosedByInterrupt
	}
	if !completed && b.IsClosed() {
		return ErrAsynchronousClose
	}
	return nil
}
