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

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/nio-go/epollpool/internal/netutil"
	"github.com/nio-go/epollpool/selector"
)

// TCPChannel is a connected (or connecting) stream socket. Mirrors
// java.nio.channels.SocketChannel: valid for READ, WRITE, and CONNECT
// while a non-blocking connect is outstanding.
type TCPChannel struct {
	*selector.Base
	k *killer

	laddr, raddr net.Addr
}

// NewTCPChannel wraps an already-connected, non-blocking fd, typically
// one just returned by ServerChannel.Accept.
func NewTCPChannel(fd int, laddr, raddr net.Addr) *TCPChannel {
	return &TCPChannel{Base: selector.NewBase(fd), k: &killer{fd: fd}, laddr: laddr, raddr: raddr}
}

// DialTCP creates a non-blocking socket and issues a connect that may
// not have completed by the time this call returns; register the
// returned channel for OpConnect and call FinishConnect once ready.
func DialTCP(raddr *net.TCPAddr) (*TCPChannel, error) {
	domain := unix.AF_INET
	sa := &unix.SockaddrInet4{Port: raddr.Port}
	if ip4 := raddr.IP.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	} else {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, errors.Wrap(os.NewSyscallError("socket", err), "channel: dial tcp")
	}
	var connErr error
	if domain == unix.AF_INET {
		connErr = unix.Connect(fd, sa)
	} else {
		sa6 := &unix.SockaddrInet6{Port: raddr.Port}
		copy(sa6.Addr[:], raddr.IP.To16())
		connErr = unix.Connect(fd, sa6)
	}
	if connErr != nil && connErr != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, errors.Wrap(os.NewSyscallError("connect", connErr), "channel: dial tcp")
	}
	return NewTCPChannel(fd, nil, raddr), nil
}

// FinishConnect completes a non-blocking connect once the channel has
// reported OpConnect readiness. Returns nil once the connection is
// established; a non-nil error (including the socket's pending error)
// otherwise.
func (c *TCPChannel) FinishConnect() error {
	errno, err := unix.GetsockoptInt(c.FD(), unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return errors.Wrap(os.NewSyscallError("getsockopt", err), "channel: finish connect")
	}
	if errno != 0 {
		return errors.Wrap(os.NewSyscallError("connect", unix.Errno(errno)), "channel: finish connect")
	}
	return nil
}

// ValidOps reports READ, WRITE, and CONNECT.
func (c *TCPChannel) ValidOps() selector.Op {
	return selector.OpRead | selector.OpWrite | selector.OpConnect
}

// TranslateInterest converts an interest set into the epoll mask.
func (c *TCPChannel) TranslateInterest(interest selector.Op) uint32 {
	return translateInterest(interest)
}

// TranslateReady decodes kernel events into ready bits.
func (c *TCPChannel) TranslateReady(kernelEvents uint32, interest selector.Op) (selector.Op, bool) {
	return translateReady(kernelEvents, interest)
}

// Kill releases the connection's fd. Safe to call more than once.
func (c *TCPChannel) Kill() error { return c.k.kill() }

// LocalAddr returns the local endpoint, if known.
func (c *TCPChannel) LocalAddr() net.Addr { return c.laddr }

// RemoteAddr returns the remote endpoint, if known.
func (c *TCPChannel) RemoteAddr() net.Addr { return c.raddr }

// Read performs one non-blocking read, wrapped in the begin/end guard.
func (c *TCPChannel) Read(buf []byte) (int, error) {
	if err := c.Begin(selector.DirRead); err != nil {
		return 0, err
	}
	var n int
	var rerr error
	for {
		n, rerr = unix.Read(c.FD(), buf)
		if rerr == unix.EINTR && !c.IsClosed() {
			continue
		}
		break
	}
	if err := c.End(selector.DirRead, n > 0); err != nil {
		return n, err
	}
	if rerr != nil && rerr != unix.EAGAIN {
		return n, os.NewSyscallError("read", rerr)
	}
	return n, rerr
}

// Write performs one non-blocking write, wrapped in the begin/end
// guard.
func (c *TCPChannel) Write(buf []byte) (int, error) {
	if err := c.Begin(selector.DirWrite); err != nil {
		return 0, err
	}
	var n int
	var werr error
	for {
		n, werr = unix.Write(c.FD(), buf)
		if werr == unix.EINTR && !c.IsClosed() {
			continue
		}
		break
	}
	if err := c.End(selector.DirWrite, n > 0); err != nil {
		return n, err
	}
	if werr != nil && werr != unix.EAGAIN {
		return n, os.NewSyscallError("write", werr)
	}
	return n, werr
}

// SetKeepAlive turns on TCP keep-alive on the connection and sets its
// probe interval, delegating to the platform-specific socket option
// table in internal/netutil.
func (c *TCPChannel) SetKeepAlive(intervalSecs int) error {
	return netutil.SetKeepAlive(c.FD(), intervalSecs)
}

// addrFromSockaddr is a small adapter over netutil's translation table,
// used by ServerChannel.Accept to label the accepted peer address.
func addrFromSockaddr(sa unix.Sockaddr) net.Addr {
	return netutil.SockaddrToTCPOrUnixAddr(sa)
}
