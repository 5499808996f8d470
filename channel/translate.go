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

// Package channel supplies the concrete SelectableChannel variants the
// selector package's capability interface leaves abstract: a pipe
// (source/sink), a TCP connection, a TCP listener, and a UDP socket.
// Each variant is a thin translation table over selector.Op; the data
// plumbing itself (buffering, framing) is out of scope, matching the
// core's own boundary.
package channel

import (
	"golang.org/x/sys/unix"

	"github.com/nio-go/epollpool/selector"
)

// translateInterest is shared by every stream-shaped variant (TCP
// connection, TCP listener, UDP socket): READ and ACCEPT both watch
// for EPOLLIN, WRITE and CONNECT both watch for EPOLLOUT.
func translateInterest(interest selector.Op) uint32 {
	var mask uint32
	if interest&(selector.OpRead|selector.OpAccept) != 0 {
		mask |= unix.EPOLLIN
	}
	if interest&(selector.OpWrite|selector.OpConnect) != 0 {
		mask |= unix.EPOLLOUT
	}
	return mask
}

// translateReady implements the selector's event translation rules
// (§4.2): POLLNVAL drops the event, POLLERR/POLLHUP conservatively
// mark the whole interest set ready, otherwise POLLIN/POLLOUT are
// mapped through whichever of ACCEPT/READ or CONNECT/WRITE the key
// actually asked for.
func translateReady(kernelEvents uint32, interest selector.Op) (selector.Op, bool) {
	if kernelEvents&unix.EPOLLNVAL != 0 {
		return 0, false
	}
	if kernelEvents&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		return interest, true
	}
	var ready selector.Op
	if kernelEvents&unix.EPOLLIN != 0 {
		if interest&selector.OpAccept != 0 {
			ready |= selector.OpAccept
		}
		if interest&selector.OpRead != 0 {
			ready |= selector.OpRead
		}
	}
	if kernelEvents&unix.EPOLLOUT != 0 {
		if interest&selector.OpConnect != 0 {
			ready |= selector.OpConnect
		}
		if interest&selector.OpWrite != 0 {
			ready |= selector.OpWrite
		}
	}
	return ready, true
}
