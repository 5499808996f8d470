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

import (
	"sync"

	"go.uber.org/atomic"
)

// Op is an interest or ready bitmask. Only the low four bits are ever
// set; the rest are reserved.
type Op uint32

const (
	// OpRead marks readiness/interest in reading from the channel.
	OpRead Op = 1 << iota
	// OpWrite marks readiness/interest in writing to the channel.
	OpWrite
	// OpConnect marks readiness/interest in completing a connect.
	OpConnect
	// OpAccept marks readiness/interest in accepting a connection.
	OpAccept
)

// allOps is the mask of every bit this package ever sets.
const allOps = OpRead | OpWrite | OpConnect | OpAccept

// String renders the set bits for logging.
func (o Op) String() string {
	if o == 0 {
		return "none"
	}
	s := ""
	for _, pair := range [...]struct {
		bit  Op
		name string
	}{{OpRead, "R"}, {OpWrite, "W"}, {OpConnect, "C"}, {OpAccept, "A"}} {
		if o&pair.bit != 0 {
			s += pair.name
		}
	}
	return s
}

// Key is the binding record between one Channel and one Selector. It is
// created by Selector.Register and remains valid until cancelled, the
// channel closes, or the selector closes.
type Key struct {
	channel Channel
	sel     *Selector

	interest atomic.Uint32
	ready    atomic.Uint32
	valid    atomic.Bool

	mu         sync.Mutex
	attachment interface{}
}

func newKey(ch Channel, sel *Selector, interest Op, attachment interface{}) *Key {
	k := &Key{channel: ch, sel: sel, attachment: attachment}
	k.interest.Store(uint32(interest))
	k.valid.Store(true)
	return k
}

// Channel returns the channel this key is bound to.
func (k *Key) Channel() Channel { return k.channel }

// Selector returns the selector this key is bound to.
func (k *Key) Selector() *Selector { return k.sel }

// Interest returns the current interest set.
func (k *Key) Interest() Op { return Op(k.interest.Load()) }

// SetInterest replaces the interest set and stages the change with the
// selector's demux. Returns ErrCancelledKey if the key is no longer valid.
func (k *Key) SetInterest(ops Op) error {
	if !k.IsValid() {
		return ErrCancelledKey
	}
	k.interest.Store(uint32(ops & allOps))
	return k.sel.stageInterest(k)
}

// Ready returns the ready set accumulated since the key last left the
// selected-keys view.
func (k *Key) Ready() Op { return Op(k.ready.Load()) }

// Attachment returns the opaque value associated with this key.
func (k *Key) Attachment() interface{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.attachment
}

// SetAttachment replaces the opaque value, returning the previous one.
func (k *Key) SetAttachment(v interface{}) interface{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	old := k.attachment
	k.attachment = v
	return old
}

// IsValid reports whether the key is still registered.
func (k *Key) IsValid() bool { return k.valid.Load() }

// Cancel requests that this key be deregistered at the start of the
// next select cycle. Idempotent.
func (k *Key) Cancel() {
	if k.valid.CompareAndSwap(true, false) {
		k.sel.cancel(k)
	}
}

// mergeReady ORs newReady into the key's ready set, returning whether any
// new bit appeared that was not already present.
func (k *Key) mergeReady(newReady Op) bool {
	for {
		old := Op(k.ready.Load())
		merged := old | newReady
		if merged == old {
			return false
		}
		if k.ready.CompareAndSwap(uint32(old), uint32(merged)) {
			return true
		}
	}
}

// setReady overwrites the ready set outright, used when a key first
// enters the selected-keys view.
func (k *Key) setReady(v Op) { k.ready.Store(uint32(v)) }

// clearReady resets a key's ready bits. SelectedKeys.Remove calls it
// when it drops the key from the ready set.
func (k *Key) clearReady() { k.ready.Store(0) }
