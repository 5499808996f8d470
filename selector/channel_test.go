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

	"github.com/nio-go/epollpool/selector"
)

func TestBeginEndCompletesNormally(t *testing.T) {
	b := selector.NewBase(1)
	require.NoError(t, b.Begin(selector.DirRead))
	err := b.End(selector.DirRead, true)
	assert.NoError(t, err)
}

func TestBeginRejectsConcurrentGuardSameDirection(t *testing.T) {
	b := selector.NewBase(1)
	require.NoError(t, b.Begin(selector.DirRead))
	err := b.Begin(selector.DirRead)
	assert.Error(t, err)
	require.NoError(t, b.End(selector.DirRead, true))
}

func TestInterruptDuringBeginEndYieldsClosedByInterrupt(t *testing.T) {
	b := selector.NewBase(1)
	require.NoError(t, b.Begin(selector.DirRead))

	done := make(chan error, 1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		done <- b.End(selector.DirRead, false)
	}()
	b.Interrupt(selector.DirRead)

	err := <-done
	assert.ErrorIs(t, err, selector.ErrClosedByInterrupt)
	assert.True(t, b.IsClosed())
}

func TestPlainCloseDuringBeginEndYieldsAsynchronousClose(t *testing.T) {
	b := selector.NewBase(1)
	require.NoError(t, b.Begin(selector.DirRead))
	b.Close()
	err := b.End(selector.DirRead, false)
	assert.ErrorIs(t, err, selector.ErrAsynchronousClose)
}

func TestEndAfterCompletionIgnoresPriorClose(t *testing.T) {
	b := selector.NewBase(1)
	require.NoError(t, b.Begin(selector.DirRead))
	b.Close()
	err := b.End(selector.DirRead, true)
	assert.NoError(t, err)
}

// notAChannel never embeds selector.Base, modeling a Channel built
// outside this package's provider.
type notAChannel struct{}

func (notAChannel) FD() int                                                 { return -1 }
func (notAChannel) ValidOps() selector.Op                                   { return selector.OpRead }
func (notAChannel) TranslateInterest(selector.Op) uint32                    { return 0 }
func (notAChannel) TranslateReady(uint32, selector.Op) (selector.Op, bool) { return 0, true }
func (notAChannel) Kill() error                                             { return nil }

func TestRegisterRejectsChannelFromAnotherProvider(t *testing.T) {
	sel, err := selector.Open()
	require.NoError(t, err)
	defer sel.Close()

	_, err = sel.Register(notAChannel{}, selector.OpRead, nil)
	assert.ErrorIs(t, err, selector.ErrIllegalSelector)
}
