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
	"github.com/nio-go/epollpool/internal/reuseport"
	"github.com/nio-go/epollpool/selector"
)

// UDPChannel is a packet socket. Mirrors java.nio.channels.DatagramChannel:
// valid for READ and WRITE, never ACCEPT or CONNECT.
type UDPChannel struct {
	*selector.Base
	k     *killer
	laddr net.Addr
}

// ListenUDP opens a packet socket on addr. When reuseport is true, the
// from-scratch SO_REUSEPORT listener in internal/reuseport is used
// instead of the standard library's, so several pollers in one process
// can share a port the same way the TCP path uses go_reuseport.
func ListenUDP(network, addr string, reusePort bool) (*UDPChannel, error) {
	var pc net.PacketConn
	var err error
	if reusePort {
		pc, err = reuseport.ListenPacket(network, addr)
	} else {
		pc, err = net.ListenPacket(network, addr)
	}
	if err != nil {
		return nil, errors.Wrap(err, "channel: listen udp")
	}
	fd, err := netutil.DupFD(pc)
	laddr := pc.LocalAddr()
	pc.Close()
	if err != nil {
		return nil, errors.Wrap(err, "channel: listen udp")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(os.NewSyscallError("setnonblock", err), "channel: listen udp")
	}
	return &UDPChannel{Base: selector.NewBase(fd), k: &killer{fd: fd}, laddr: laddr}, nil
}

// ValidOps reports READ and WRITE.
func (u *UDPChannel) ValidOps() selector.Op { return selector.OpRead | selector.OpWrite }

// TranslateInterest converts an interest set into the epoll mask.
func (u *UDPChannel) TranslateInterest(interest selector.Op) uint32 {
	return translateInterest(interest)
}

// TranslateReady decodes kernel events into ready bits.
func (u *UDPChannel) TranslateReady(kernelEvents uint32, interest selector.Op) (selector.Op, bool) {
	return translateReady(kernelEvents, interest)
}

// Kill releases the socket's fd. Safe to call more than once.
func (u *UDPChannel) Kill() error { return u.k.kill() }

// LocalAddr returns the bound local address.
func (u *UDPChannel) LocalAddr() net.Addr { return u.laddr }

// ReadFrom performs one non-blocking recvfrom, wrapped in the
// begin/end guard.
func (u *UDPChannel) ReadFrom(buf []byte) (int, net.Addr, error) {
	if err := u.Begin(selector.DirRead); err != nil {
		return 0, nil, err
	}
	var n int
	var from unix.Sockaddr
	var rerr error
	for {
		n, from, rerr = unix.Recvfrom(u.FD(), buf, 0)
		if rerr == unix.EINTR && !u.IsClosed() {
			continue
		}
		break
	}
	if err := u.End(selector.DirRead, rerr == nil); err != nil {
		return n, nil, err
	}
	if rerr != nil && rerr != unix.EAGAIN {
		return n, nil, os.NewSyscallError("recvfrom", rerr)
	}
	var addr net.Addr
	if from != nil {
		addr = netutil.SockaddrToUDPAddr(from)
	}
	return n, addr, rerr
}

// WriteTo performs one non-blocking sendto, wrapped in the begin/end
// guard.
func (u *UDPChannel) WriteTo(buf []byte, to unix.Sockaddr) (int, error) {
	if err := u.Begin(selector.DirWrite); err != nil {
		return 0, err
	}
	var werr error
	for {
		werr = unix.Sendto(u.FD(), buf, 0, to)
		if werr == unix.EINTR && !u.IsClosed() {
			continue
		}
		break
	}
	n := len(buf)
	if werr != nil {
		n = 0
	}
	if err := u.End(selector.DirWrite, werr == nil); err != nil {
		return n, err
	}
	if werr != nil && werr != unix.EAGAIN {
		return n, os.NewSyscallError("sendto", werr)
	}
	return n, werr
}
