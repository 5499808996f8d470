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

package channel_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nio-go/epollpool/channel"
	"github.com/nio-go/epollpool/selector"
)

func TestPipeRoundTripThroughSelector(t *testing.T) {
	sel, err := selector.Open()
	require.NoError(t, err)
	defer sel.Close()

	src, sink, err := channel.NewPipe()
	require.NoError(t, err)
	defer src.Kill()
	defer sink.Kill()

	key, err := sel.Register(src, selector.OpRead, nil)
	require.NoError(t, err)

	n, err := sink.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	num, err := sel.Select(1000)
	require.NoError(t, err)
	assert.Equal(t, 1, num)
	assert.NotZero(t, key.Ready()&selector.OpRead)

	buf := make([]byte, 16)
	n, err = src.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestTCPAcceptConnectReadWrite(t *testing.T) {
	sel, err := selector.Open()
	require.NoError(t, err)
	defer sel.Close()

	srv, err := channel.ListenTCP("tcp", "127.0.0.1:0", false)
	require.NoError(t, err)
	defer srv.Kill()

	_, err = sel.Register(srv, selector.OpAccept, nil)
	require.NoError(t, err)

	clientConn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer clientConn.Close()

	var accepted *channel.TCPChannel
	require.Eventually(t, func() bool {
		if _, err := sel.Select(200); err != nil {
			return false
		}
		accepted, err = srv.Accept()
		return accepted != nil
	}, 2*time.Second, 10*time.Millisecond)
	require.NotNil(t, accepted)
	defer accepted.Kill()

	serverKey, err := sel.Register(accepted, selector.OpRead, nil)
	require.NoError(t, err)
	assert.NoError(t, accepted.SetKeepAlive(30))

	_, err = clientConn.Write([]byte("ping"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := sel.Select(200)
		return err == nil && serverKey.Ready()&selector.OpRead != 0
	}, 2*time.Second, 10*time.Millisecond)

	buf := make([]byte, 16)
	n, err := accepted.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
}

func TestUDPReadFromWriteTo(t *testing.T) {
	a, err := channel.ListenUDP("udp", "127.0.0.1:0", false)
	require.NoError(t, err)
	defer a.Kill()

	peer, err := net.Dial("udp", a.LocalAddr().String())
	require.NoError(t, err)
	defer peer.Close()

	_, err = peer.Write([]byte("datagram"))
	require.NoError(t, err)

	buf := make([]byte, 32)
	require.Eventually(t, func() bool {
		n, _, rerr := a.ReadFrom(buf)
		if rerr == nil && n > 0 {
			assert.Equal(t, "datagram", string(buf[:n]))
			return true
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}
