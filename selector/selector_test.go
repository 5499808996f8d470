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

package selector_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/nio-go/epollpool/selector"
)

// pipeEnd is a minimal selector.Channel built directly on an eventfd,
// exercising exactly the read direction, used to test the selector
// core without depending on the channel package's concrete variants.
type pipeEnd struct {
	*selector.Base
}

func newPipeEnd(t *testing.T) *pipeEnd {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fd) })
	return &pipeEnd{Base: selector.NewBase(fd)}
}

func (p *pipeEnd) ValidOps() selector.Op { return selector.OpRead }

func (p *pipeEnd) TranslateInterest(interest selector.Op) uint32 {
	var mask uint32
	if interest&selector.OpRead != 0 {
		mask |= unix.EPOLLIN
	}
	return mask
}

func (p *pipeEnd) TranslateReady(kernelEvents uint32, interest selector.Op) (selector.Op, bool) {
	if kernelEvents&unix.EPOLLNVAL != 0 {
		return 0, false
	}
	if kernelEvents&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		return interest, true
	}
	var ready selector.Op
	if kernelEvents&unix.EPOLLIN != 0 && interest&selector.OpRead != 0 {
		ready |= selector.OpRead
	}
	return ready, true
}

func (p *pipeEnd) Kill() error { return nil }

func signal(t *testing.T, fd int) {
	buf := []byte{1, 0, 0, 0, 0, 0, 0, 0}
	_, err := unix.Write(fd, buf)
	require.NoError(t, err)
}

func TestRegisterAndSelectReportsReadiness(t *testing.T) {
	sel, err := selector.Open()
	require.NoError(t, err)
	defer sel.Close()

	ch := newPipeEnd(t)
	key, err := sel.Register(ch, selector.OpRead, "attachment")
	require.NoError(t, err)
	assert.Equal(t, "attachment", key.Attachment())
	assert.Equal(t, 1, sel.Keys().Len())

	signal(t, ch.FD())

	n, err := sel.Select(1000)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, sel.SelectedKeys().Len())
	assert.NotZero(t, key.Ready()&selector.OpRead)

	assert.True(t, sel.SelectedKeys().Remove(key))
	assert.Equal(t, 0, sel.SelectedKeys().Len())
	assert.Zero(t, key.Ready())
}

func TestRegisterRejectsBlockingChannel(t *testing.T) {
	sel, err := selector.Open()
	require.NoError(t, err)
	defer sel.Close()

	ch := newPipeEnd(t)
	ch.SetBlocking(true)
	_, err = sel.Register(ch, selector.OpRead, nil)
	assert.ErrorIs(t, err, selector.ErrIllegalBlockingMode)
}

func TestRegisterRejectsInvalidOps(t *testing.T) {
	sel, err := selector.Open()
	require.NoError(t, err)
	defer sel.Close()

	ch := newPipeEnd(t)
	_, err = sel.Register(ch, selector.OpWrite, nil)
	assert.Error(t, err)
}

func TestWakeupReturnsSelectPromptly(t *testing.T) {
	sel, err := selector.Open()
	require.NoError(t, err)
	defer sel.Close()

	done := make(chan struct{})
	go func() {
		n, err := sel.Select(10000)
		assert.NoError(t, err)
		assert.Equal(t, 0, n)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, sel.Wakeup())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("select did not return after wakeup")
	}
}

func TestCancelDeregistersKeyNextCycle(t *testing.T) {
	sel, err := selector.Open()
	require.NoError(t, err)
	defer sel.Close()

	ch := newPipeEnd(t)
	key, err := sel.Register(ch, selector.OpRead, nil)
	require.NoError(t, err)

	key.Cancel()
	assert.False(t, key.IsValid())

	_, err = sel.SelectNow()
	require.NoError(t, err)
	assert.Equal(t, 0, sel.Keys().Len())
}

func TestCloseDeregistersEverything(t *testing.T) {
	sel, err := selector.Open()
	require.NoError(t, err)

	ch := newPipeEnd(t)
	_, err = sel.Register(ch, selector.OpRead, nil)
	require.NoError(t, err)

	require.NoError(t, sel.Close())
	assert.Equal(t, 0, sel.Keys().Len())

	_, err = sel.Register(ch, selector.OpRead, nil)
	assert.ErrorIs(t, err, selector.ErrSelectorClosed)
}
