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

// Package demux wraps a single Linux epoll instance: a fixed native
// event array, a staged pending-interest table flushed in batch before
// each wait, and a self-pipe that lets any goroutine force a blocked
// wait to return.
package demux

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/nio-go/epollpool/metrics"
)

// Killed marks a pending-update slot as "ignore; the fd was removed".
// It does not collide with any mask this package ever stages, since
// those are built exclusively from the low-order epoll bits in the
// channel package's translate.go.
const Killed uint32 = 1 << 30

const (
	// denseThreshold is the fd value below which the pending-event table
	// uses a flat slice (one write per update) instead of a map.
	denseThreshold = 1024

	// DefaultCapacity is the default size of the native event array
	// for a single demux instance. It is a fixed 8192; the process's
	// fd limit is not consulted.
	DefaultCapacity = 8192
)

// Demux owns one epoll instance and the bookkeeping needed to batch
// interest-set changes into epoll_ctl calls.
type Demux struct {
	epfd   int
	events []unix.EpollEvent

	mu      sync.Mutex
	pending pendingTable
	dirty   []int
	queued  map[int]struct{}
	known   map[int]struct{}

	pipe *interruptPipe

	interruptReceived bool
	interruptIndex    int
}

// New creates a Demux with a native event array of the given capacity.
// The demux's own interrupt pipe read end is registered with the
// kernel immediately (not staged), since nothing can observe an
// interrupt before the demux exists to report it.
func New(capacity int) (*Demux, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(os.NewSyscallError("epoll_create1", err), "demux: create")
	}
	pipe, err := newInterruptPipe()
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	d := &Demux{
		epfd:    epfd,
		events:  make([]unix.EpollEvent, capacity),
		pending: newPendingTable(denseThreshold),
		queued:  make(map[int]struct{}),
		known:   make(map[int]struct{}),
		pipe:    pipe,
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, pipe.readFD(), &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(pipe.readFD()),
	}); err != nil {
		pipe.close()
		unix.Close(epfd)
		return nil, errors.Wrap(os.NewSyscallError("epoll_ctl", err), "demux: register interrupt pipe")
	}
	d.known[pipe.readFD()] = struct{}{}
	return d, nil
}

// InterruptFD returns the read end of the interrupt pipe, so callers
// (the Selector) can recognize and skip it when translating events.
func (d *Demux) InterruptFD() int {
	return d.pipe.readFD()
}

// Add registers fd with the demux's bookkeeping without staging any
// kernel call. It exists to clear a stale Killed sentinel so a reused
// fd value does not inherit a dead peer's pending removal.
func (d *Demux) Add(fd int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.known[fd]; ok {
		return errors.Errorf("demux: fd %d is already registered with the kernel", fd)
	}
	d.pending.set(fd, 0)
	return nil
}

// Remove stages fd for removal and, if it is currently known to the
// kernel, deletes it immediately rather than waiting for the next
// flush. Idempotent.
func (d *Demux) Remove(fd int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending.set(fd, Killed)
	if _, ok := d.known[fd]; !ok {
		return nil
	}
	if err := unix.EpollCtl(d.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT {
		return errors.Wrap(os.NewSyscallError("epoll_ctl", err), "demux: remove")
	}
	metrics.Add(metrics.EpollCtlDel, 1)
	delete(d.known, fd)
	return nil
}

// SetInterest stages an interest-mask update for fd, applied on the
// next Wait. Calling it repeatedly before a Wait coalesces to the last
// write, by fd.
func (d *Demux) SetInterest(fd int, mask uint32) error {
	if mask&Killed != 0 {
		return errors.Errorf("demux: mask %#x collides with the killed sentinel", mask)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending.set(fd, mask)
	if _, ok := d.queued[fd]; !ok {
		d.queued[fd] = struct{}{}
		d.dirty = append(d.dirty, fd)
	}
	return nil
}

// ClearInterrupt clears the interrupt-received flag and drains the
// pipe's pending bytes.
func (d *Demux) ClearInterrupt() {
	d.mu.Lock()
	d.interruptReceived = false
	d.mu.Unlock()
	d.pipe.drain()
}

// Interrupted reports whether the most recent Wait observed the
// interrupt pipe becoming readable.
func (d *Demux) Interrupted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.interruptReceived
}

// Interrupt writes one byte to the interrupt pipe, forcing a thread
// blocked in Wait to return. Coalesces multiple calls between two
// drains into a single byte.
func (d *Demux) Interrupt() error {
	wrote, err := d.pipe.notify()
	if wrote {
		metrics.Add(metrics.InterruptWrites, 1)
	} else {
		metrics.Add(metrics.InterruptCoalesced, 1)
	}
	return err
}

// flush applies every staged update to the kernel, in FIFO order,
// skipping any fd whose latest staged mask is the Killed sentinel.
func (d *Demux) flush() error {
	d.mu.Lock()
	dirty := d.dirty
	d.dirty = nil
	d.mu.Unlock()

	for _, fd := range dirty {
		d.mu.Lock()
		mask := d.pending.get(fd)
		delete(d.queued, fd)
		_, isKnown := d.known[fd]
		d.mu.Unlock()

		if mask == Killed {
			continue
		}
		op, changesKnown := resolveOp(isKnown, mask)
		if op < 0 {
			continue
		}
		if err := d.applyCtl(op, fd, mask); err != nil {
			return err
		}
		if changesKnown {
			d.mu.Lock()
			if op == unix.EPOLL_CTL_ADD {
				d.known[fd] = struct{}{}
			} else if op == unix.EPOLL_CTL_DEL {
				delete(d.known, fd)
			}
			d.mu.Unlock()
		}
	}
	return nil
}

// resolveOp implements the flush algorithm's opcode table from
// registered/events, returning the concrete epoll_ctl op to issue (or
// a negative value for a no-op) and whether it changes kernel-known
// membership.
func resolveOp(registered bool, events uint32) (int, bool) {
	switch {
	case registered && events != 0:
		return unix.EPOLL_CTL_MOD, false
	case registered && events == 0:
		return unix.EPOLL_CTL_DEL, true
	case !registered && events != 0:
		return unix.EPOLL_CTL_ADD, true
	default:
		return -1, false
	}
}

func (d *Demux) applyCtl(op int, fd int, mask uint32) error {
	ev := &unix.EpollEvent{Events: mask, Fd: int32(fd)}
	if op == unix.EPOLL_CTL_DEL {
		ev = nil
	}
	if err := unix.EpollCtl(d.epfd, op, fd, ev); err != nil {
		return errors.Wrapf(os.NewSyscallError("epoll_ctl", err), "demux: op=%d fd=%d", op, fd)
	}
	switch op {
	case unix.EPOLL_CTL_ADD:
		metrics.Add(metrics.EpollCtlAdd, 1)
	case unix.EPOLL_CTL_MOD:
		metrics.Add(metrics.EpollCtlMod, 1)
	case unix.EPOLL_CTL_DEL:
		metrics.Add(metrics.EpollCtlDel, 1)
	}
	return nil
}

// Wait flushes pending updates, then blocks in epoll_wait for at most
// timeoutMs milliseconds (negative means indefinite, matching the
// kernel's own convention). It returns the ready native events; the
// caller must not retain the returned slice past the next Wait call.
func (d *Demux) Wait(timeoutMs int) ([]unix.EpollEvent, error) {
	if err := d.flush(); err != nil {
		return nil, err
	}
	if timeoutMs == 0 {
		metrics.Add(metrics.EpollNoWait, 1)
	}
	n, err := unix.EpollWait(d.epfd, d.events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, errors.Wrap(os.NewSyscallError("epoll_wait", err), "demux: wait")
	}
	metrics.Add(metrics.EpollWait, 1)
	metrics.Add(metrics.EpollEvents, uint64(n))

	ready := d.events[:n]
	d.mu.Lock()
	for i := range ready {
		if int(ready[i].Fd) == d.pipe.readFD() {
			d.interruptReceived = true
			d.interruptIndex = i
			break
		}
	}
	d.mu.Unlock()
	return ready, nil
}

// Close releases the kernel handle and the interrupt pipe. It is not
// safe to call Wait concurrently with Close.
func (d *Demux) Close() error {
	if err := unix.Close(d.epfd); err != nil {
		return os.NewSyscallError("close", err)
	}
	return d.pipe.close()
}
