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

package selector

import "errors"

// Sentinel errors surfaced by the selector and channel packages. Callers
// compare against these with errors.Is; wrapping elsewhere in the stack
// uses github.com/pkg/errors so the underlying syscall stays attached.
var (
	// ErrSelectorClosed is returned by any operation on a closed Selector.
	ErrSelectorClosed = errors.New("selector: closed")

	// ErrChannelClosed is returned by any operation on a closed channel.
	ErrChannelClosed = errors.New("selector: channel closed")

	// ErrCancelledKey is returned when an operation targets a key whose
	// selector has already cancelled it.
	ErrCancelledKey = errors.New("selector: key cancelled")

	// ErrIllegalBlockingMode is returned by register when the channel is
	// in blocking mode, and by Base.Begin when a guard is already
	// installed for that direction.
	ErrIllegalBlockingMode = errors.New("selector: channel is in blocking mode")

	// ErrIllegalSelector is returned by register when the channel and
	// selector were not created by the same provider.
	ErrIllegalSelector = errors.New("selector: channel belongs to a different provider")

	// ErrClosedByInterrupt is returned by a blocking channel operation
	// that was aborted because the calling goroutine's guard observed
	// an interrupt.
	ErrClosedByInterrupt = errors.New("selector: closed by interrupt")

	// ErrAsynchronousClose is returned by a blocking channel operation
	// that was aborted because another goroutine closed the channel.
	ErrAsynchronousClose = errors.New("selector: asynchronous close")
)
