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

package demux

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/nio-go/epollpool/internal/locker"
)

// interruptPipe is an anonymous pipe whose read end is registered
// with a Demux's epoll instance. Writing a single byte to it forces a
// blocked epoll_wait to return; the write is guarded so that several
// wakeup calls within one select cycle coalesce into at most one byte.
type interruptPipe struct {
	fds [2]int

	mu      locker.Locker
	pending bool
}

func newInterruptPipe() (*interruptPipe, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, errors.Wrap(os.NewSyscallError("pipe2", err), "demux: create interrupt pipe")
	}
	return &interruptPipe{fds: fds}, nil
}

func (p *interruptPipe) readFD() int {
	return p.fds[0]
}

// notify writes one byte if no write is already outstanding for this
// cycle. Returns whether it actually wrote.
func (p *interruptPipe) notify() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending {
		return false, nil
	}
	buf := [1]byte{1}
	for {
		_, err := unix.Write(p.fds[1], buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil && err != unix.EAGAIN {
			return false, os.NewSyscallError("write", err)
		}
		break
	}
	p.pending = true
	return true, nil
}

// drain reads every byte currently buffered in the pipe and resets the
// pending flag so the next notify call writes again.
func (p *interruptPipe) drain() {
	p.mu.Lock()
	defer p.mu.Unlock()
	var buf [64]byte
	for {
		n, err := unix.Read(p.fds[0], buf[:])
		if n <= 0 || err != nil {
			break
		}
	}
	p.pending = false
}

func (p *interruptPipe) close() error {
	err0 := unix.Close(p.fds[0])
	err1 := unix.Close(p.fds[1])
	if err0 != nil {
		return os.NewSyscallError("close", err0)
	}
	if err1 != nil {
		return os.NewSyscallError("close", err1)
	}
	return nil
}
