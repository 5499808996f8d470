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

package channel

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/nio-go/epollpool/selector"
)

// PipeSource is the read end of an anonymous pipe, selectable for
// OpRead. Mirrors java.nio.channels.Pipe.SourceChannel.
type PipeSource struct {
	*selector.Base
	k *killer
}

// PipeSink is the write end of an anonymous pipe, selectable for
// OpWrite. Mirrors java.nio.channels.Pipe.SinkChannel.
type PipeSink struct {
	*selector.Base
	k *killer
}

// NewPipe creates a non-blocking, close-on-exec anonymous pipe and
// wraps each end as a selectable channel.
func NewPipe() (*PipeSource, *PipeSink, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, nil, errors.Wrap(os.NewSyscallError("pipe2", err), "channel: new pipe")
	}
	src := &PipeSource{Base: selector.NewBase(fds[0]), k: &killer{fd: fds[0]}}
	sink := &PipeSink{Base: selector.NewBase(fds[1]), k: &killer{fd: fds[1]}}
	return src, sink, nil
}

// ValidOps reports that a pipe source can only ever be registered for
// reading.
func (p *PipeSource) ValidOps() selector.Op { return selector.OpRead }

// TranslateInterest converts an interest set into the epoll mask.
func (p *PipeSource) TranslateInterest(interest selector.Op) uint32 {
	return translateInterest(interest)
}

// TranslateReady decodes kernel events into ready bits.
func (p *PipeSource) TranslateReady(kernelEvents uint32, interest selector.Op) (selector.Op, bool) {
	return translateReady(kernelEvents, interest)
}

// Kill releases the read end's fd. Safe to call more than once.
func (p *PipeSource) Kill() error { return p.k.kill() }

// Read performs one non-blocking read, wrapped in the begin/end guard
// so a concurrent Interrupt or Close aborts it cleanly.
func (p *PipeSource) Read(buf []byte) (int, error) {
	if err := p.Begin(selector.DirRead); err != nil {
		return 0, err
	}
	var n int
	var rerr error
	for {
		n, rerr = unix.Read(p.FD(), buf)
		if rerr == unix.EINTR && !p.IsClosed() {
			continue
		}
		break
	}
	if err := p.End(selector.DirRead, n > 0); err != nil {
		return n, err
	}
	if rerr != nil && rerr != unix.EAGAIN {
		return n, os.NewSyscallError("read", rerr)
	}
	return n, rerr
}

// ValidOps reports that a pipe sink can only ever be registered for
// writing.
func (s *PipeSink) ValidOps() selector.Op { return selector.OpWrite }

// TranslateInterest converts an interest set into the epoll mask.
func (s *PipeSink) TranslateInterest(interest selector.Op) uint32 {
	return translateInterest(interest)
}

// TranslateReady decodes kernel events into ready bits.
func (s *PipeSink) TranslateReady(kernelEvents uint32, interest selector.Op) (selector.Op, bool) {
	return translateReady(kernelEvents, interest)
}

// Kill releases the write end's fd. Safe to call more than once.
func (s *PipeSink) Kill() error { return s.k.kill() }

// Write performs one non-blocking write, wrapped in the begin/end
// guard so a concurrent Interrupt or Close aborts it cleanly.
func (s *PipeSink) Write(buf []byte) (int, error) {
	if err := s.Begin(selector.DirWrite); err != nil {
		return 0, err
	}
	var n int
	var werr error
	for {
		n, werr = unix.Write(s.FD(), buf)
		if werr == unix.EINTR && !s.IsClosed() {
			continue
		}
		break
	}
	if err := s.End(selector.DirWrite, n > 0); err != nil {
		return n, err
	}
	if werr != nil && werr != unix.EAGAIN {
		return n, os.NewSyscallError("write", werr)
	}
	return n, werr
}
