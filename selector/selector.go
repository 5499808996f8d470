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

// Package selector implements a readiness-based I/O multiplexer on top
// of the internal/demux epoll wrapper: channel registration, the
// select/wakeup cycle, and the begin/end interrupt-guard protocol that
// lets a blocking channel operation abort cleanly.
package selector

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/nio-go/epollpool/internal/demux"
	"github.com/nio-go/epollpool/internal/keyset"
	"github.com/nio-go/epollpool/log"
	"github.com/nio-go/epollpool/metrics"
)

// registerable is the superset of Channel that Register actually needs:
// the public capability interface plus the unexported bookkeeping Base
// supplies. A Channel value that does not embed *Base cannot satisfy
// this interface, which is how Register tells "a channel this
// package's provider built" from "something else entirely" (see
// Base.isBaseChannel).
type registerable interface {
	Channel
	isBaseChannel()
	IsBlocking() bool
	IsClosed() bool
	addKey(*Key)
	removeKey(*Key) bool
	keyFor(*Selector) *Key
}

// Selector owns one demux instance and the three key sets describing
// registration, readiness, and pending cancellation.
type Selector struct {
	dx *demux.Demux

	mu      sync.Mutex
	closed  bool
	fdToKey map[int]*Key

	registered *keyset.Set[*Key]
	ready      *keyset.Set[*Key]
	cancelled  *keyset.Set[*Key]
}

// Option configures a Selector at construction.
type Option func(*config)

type config struct {
	capacity int
}

// WithCapacity sets the native event array capacity (default
// demux.DefaultCapacity).
func WithCapacity(n int) Option {
	return func(c *config) { c.capacity = n }
}

// Open creates a Selector backed by a fresh epoll instance.
func Open(opts ...Option) (*Selector, error) {
	cfg := config{capacity: demux.DefaultCapacity}
	for _, opt := range opts {
		opt(&cfg)
	}
	dx, err := demux.New(cfg.capacity)
	if err != nil {
		return nil, errors.Wrap(err, "selector: open")
	}
	return &Selector{
		dx:         dx,
		fdToKey:    make(map[int]*Key),
		registered: keyset.New[*Key](),
		ready:      keyset.New[*Key](),
		cancelled:  keyset.New[*Key](),
	}, nil
}

func (s *Selector) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Register binds ch to this selector with the given interest set and
// attachment. If ch already holds a key with this selector, that key's
// interest and attachment are updated in place and returned instead of
// a new one.
func (s *Selector) Register(ch Channel, interest Op, attachment interface{}) (*Key, error) {
	if s.isClosed() {
		return nil, ErrSelectorClosed
	}
	rc, ok := ch.(registerable)
	if !ok {
		return nil, ErrIllegalSelector
	}
	if rc.IsClosed() {
		return nil, ErrChannelClosed
	}
	if rc.IsBlocking() {
		return nil, ErrIllegalBlockingMode
	}
	if interest&^rc.ValidOps() != 0 {
		return nil, errors.Errorf("selector: interest %s is not valid for this channel (valid=%s)", interest, rc.ValidOps())
	}

	if existing := rc.keyFor(s); existing != nil {
		existing.interest.Store(uint32(interest))
		existing.SetAttachment(attachment)
		if err := s.stageInterest(existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	key := newKey(ch, s, interest, attachment)
	s.mu.Lock()
	s.fdToKey[ch.FD()] = key
	s.mu.Unlock()
	s.registered.Add(key)
	rc.addKey(key)
	if err := s.stageInterest(key); err != nil {
		return key, err
	}
	return key, nil
}

// Keys returns an immutable view over the registered-key set.
func (s *Selector) Keys() *KeyView {
	return &KeyView{set: s.registered}
}

// SelectedKeys returns the removal-permitted, insertion-forbidden view
// over the ready-key set.
func (s *Selector) SelectedKeys() *SelectedKeys {
	return &SelectedKeys{set: s.ready}
}

// stageInterest pushes key's current interest set to the demux as a
// pending update, translated through the channel's capability
// interface.
func (s *Selector) stageInterest(key *Key) error {
	mask := key.channel.TranslateInterest(key.Interest())
	if err := s.dx.SetInterest(key.channel.FD(), mask); err != nil {
		return errors.Wrap(err, "selector: stage interest")
	}
	metrics.Add(metrics.KeysChanged, 1)
	return nil
}

// cancel stages key for deregistration at the start of the next cycle.
func (s *Selector) cancel(key *Key) {
	s.cancelled.Add(key)
	metrics.Add(metrics.KeysCancelled, 1)
}

// Select runs one select cycle: process pending cancellations, block in
// the demux wait, translate ready events, process cancellations again,
// then clear any observed interrupt. It returns the number of keys
// whose ready bits actually changed this cycle. A timeoutMs of 0 blocks
// indefinitely, matching the convention of the blocking selector this
// mirrors; use SelectNow to poll without blocking.
func (s *Selector) Select(timeoutMs int) (int, error) {
	if timeoutMs == 0 {
		timeoutMs = -1
	}
	return s.selectWith(timeoutMs)
}

// SelectNow polls without blocking: it always passes 0 to the demux
// wait, regardless of Select's timeoutMs==0-means-indefinite mapping.
func (s *Selector) SelectNow() (int, error) {
	return s.selectWith(0)
}

func (s *Selector) selectWith(timeoutMs int) (int, error) {
	if s.isClosed() {
		return 0, ErrSelectorClosed
	}
	metrics.Add(metrics.SelectCalls, 1)

	s.processCancelled()

	events, err := s.dx.Wait(timeoutMs)
	if err != nil {
		return 0, errors.Wrap(err, "selector: select")
	}

	changed := s.translateEvents(events)

	s.processCancelled()

	if s.dx.Interrupted() {
		s.dx.ClearInterrupt()
	}
	return changed, nil
}

func (s *Selector) translateEvents(events []unix.EpollEvent) int {
	interruptFD := s.dx.InterruptFD()
	changed := 0
	for _, ev := range events {
		fd := int(ev.Fd)
		if fd == interruptFD {
			continue
		}
		s.mu.Lock()
		key := s.fdToKey[fd]
		s.mu.Unlock()
		if key == nil || !key.IsValid() {
			continue
		}
		readyBits, valid := key.channel.TranslateReady(ev.Events, key.Interest())
		if !valid {
			continue
		}
		if s.ready.Contains(key) {
			if key.mergeReady(readyBits) {
				changed++
			}
			continue
		}
		key.setReady(readyBits & key.Interest())
		if readyBits&key.Interest() != 0 {
			s.ready.Add(key)
			changed++
		}
	}
	return changed
}

// processCancelled deregisters every key currently in the cancelled
// set: it stages an fd removal on the demux, drops the key from every
// selector-side set, and kills the channel if it is closed and no
// longer registered with any selector.
func (s *Selector) processCancelled() {
	for _, key := range s.cancelled.DrainTo() {
		s.registered.Remove(key)
		s.ready.Remove(key)

		s.mu.Lock()
		delete(s.fdToKey, key.channel.FD())
		s.mu.Unlock()

		if err := s.dx.Remove(key.channel.FD()); err != nil {
			log.Errorf("selector: deregister fd %d: %v", key.channel.FD(), err)
		}

		rc, ok := key.channel.(registerable)
		if !ok {
			continue
		}
		noneLeft := rc.removeKey(key)
		if noneLeft && rc.IsClosed() {
			if err := key.channel.Kill(); err != nil {
				log.Errorf("selector: kill channel fd %d: %v", key.channel.FD(), err)
			}
		}
	}
}

// Wakeup forces the next (or currently blocked) Select to return
// promptly. Idempotent within one select cycle: multiple calls before
// the cycle's interrupt is cleared coalesce to a single pipe write.
func (s *Selector) Wakeup() error {
	if err := s.dx.Interrupt(); err != nil {
		return errors.Wrap(err, "selector: wakeup")
	}
	return nil
}

// Close deregisters every key, releases the demux, and kills any
// closed channel left with no other registrations.
func (s *Selector) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.Wakeup()

	for _, key := range s.registered.DrainTo() {
		key.valid.Store(false)
		s.ready.Remove(key)
		s.mu.Lock()
		delete(s.fdToKey, key.channel.FD())
		s.mu.Unlock()

		rc, ok := key.channel.(registerable)
		if !ok {
			continue
		}
		noneLeft := rc.removeKey(key)
		if noneLeft && rc.IsClosed() {
			if err := key.channel.Kill(); err != nil {
				log.Errorf("selector: kill channel fd %d: %v", key.channel.FD(), err)
			}
		}
	}
	s.cancelled.Clear()

	return s.dx.Close()
}

// KeyView is an immutable snapshot-backed view over a key set: no
// insertion or removal, matching the selector's registered-key set
// contract.
type KeyView struct {
	set *keyset.Set[*Key]
}

// Len reports the number of registered keys.
func (v *KeyView) Len() int { return v.set.Len() }

// Snapshot returns a point-in-time copy of the registered keys.
func (v *KeyView) Snapshot() []*Key { return v.set.Snapshot() }

// Contains reports whether k is currently registered.
func (v *KeyView) Contains(k *Key) bool { return v.set.Contains(k) }

// SelectedKeys is the ready-key set's view: removal is permitted
// (Remove both clears the key's ready bits and drops it from the set,
// matching the usual drain-as-you-go usage pattern), insertion is not.
type SelectedKeys struct {
	set *keyset.Set[*Key]
}

// Len reports the number of ready keys.
func (v *SelectedKeys) Len() int { return v.set.Len() }

// Snapshot returns a point-in-time copy of the ready keys.
func (v *SelectedKeys) Snapshot() []*Key { return v.set.Snapshot() }

// Contains reports whether k is currently in the ready set.
func (v *SelectedKeys) Contains(k *Key) bool { return v.set.Contains(k) }

// Remove drops k from the ready set and clears its ready bits, as the
// application does after handling a key's readiness.
func (v *SelectedKeys) Remove(k *Key) bool {
	k.clearReady()
	return v.set.Remove(k)
}
