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
	"net"
	"os"

	goreuseport "github.com/kavu/go_reuseport"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/nio-go/epollpool/internal/netutil"
	"github.com/nio-go/epollpool/selector"
)

// ServerChannel is a listening stream socket. Mirrors
// java.nio.channels.ServerSocketChannel: valid only for ACCEPT.
type ServerChannel struct {
	*selector.Base
	k     *killer
	laddr net.Addr
}

// ListenTCP opens a listening socket on addr. When reuseport is true,
// SO_REUSEPORT is set via go_reuseport so multiple processes (or
// multiple pollers in one process) can share the same port.
func ListenTCP(network, addr string, reuseport bool) (*ServerChannel, error) {
	var ln net.Listener
	var err error
	if reuseport {
		ln, err = goreuseport.Listen(network, addr)
	} else {
		ln, err = net.Listen(network, addr)
	}
	if err != nil {
		return nil, errors.Wrap(err, "channel: listen tcp")
	}
	// DupFD hands the ServerChannel its own fd so closing ln (which we
	// must do to stop its finalizer from closing the original fd under
	// us) does not race the selector's use of the duplicate.
	fd, err := netutil.DupFD(ln)
	laddr := ln.Addr()
	ln.Close()
	if err != nil {
		return nil, errors.Wrap(err, "channel: listen tcp")
	}
	return &ServerChannel{Base: selector.NewBase(fd), k: &killer{fd: fd}, laddr: laddr}, nil
}

// ValidOps reports ACCEPT only.
func (s *ServerChannel) ValidOps() selector.Op { return selector.OpAccept }

// TranslateInterest converts an interest set into the epoll mask.
func (s *ServerChannel) TranslateInterest(interest selector.Op) uint32 {
	return translateInterest(interest)
}

// TranslateReady decodes kernel events into ready bits.
func (s *ServerChannel) TranslateReady(kernelEvents uint32, interest selector.Op) (selector.Op, bool) {
	return translateReady(kernelEvents, interest)
}

// Kill releases the listening socket's fd. Safe to call more than once.
func (s *ServerChannel) Kill() error { return s.k.kill() }

// Addr returns the listening address.
func (s *ServerChannel) Addr() net.Addr { return s.laddr }

// Accept accepts one pending connection, wrapped in the begin/end
// guard on the ACCEPT (read) direction. Returns (nil, nil) if no
// connection was actually pending despite ACCEPT readiness (a benign
// race also seen by the kernel's own accept queue).
func (s *ServerChannel) Accept() (*TCPChannel, error) {
	if err := s.Begin(selector.DirRead); err != nil {
		return nil, err
	}
	nfd, sa, aerr := netutil.Accept(s.FD())
	completed := aerr == nil
	if endErr := s.End(selector.DirRead, completed); endErr != nil {
		if completed {
			unix.Close(nfd)
		}
		return nil, endErr
	}
	if aerr != nil {
		if aerr == unix.EAGAIN {
			return nil, nil
		}
		return nil, os.NewSyscallError("accept4", aerr)
	}
	return NewTCPChannel(nfd, s.laddr, addrFromSockaddr(sa)), nil
}
