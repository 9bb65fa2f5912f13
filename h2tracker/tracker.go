/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package h2tracker counts open HTTP/2 streams on one connection and
// turns stream-lifecycle and idle-timer events into a close decision,
// the rendering of dgrr/http2's serverConn.go open-stream accounting
// (openStreams++/-- around stream creation/destruction, writeGoAway on
// idle) generalized into a standalone state machine any HTTP/2 codec
// integration (here, golang.org/x/net/http2) can drive.
package h2tracker

import (
	"sync"

	"go.opentelemetry.io/otel/trace"
)

// state is the sealed Active | Quiescing | Closing union.
type state interface{ isTrackerState() }

type activeState struct{ open int }

func (activeState) isTrackerState() {}

type quiescingState struct{ open int }

func (quiescingState) isTrackerState() {}

type closingState struct{}

func (closingState) isTrackerState() {}

// Tracker is the HTTP2StreamTracker. It is safe for concurrent use since
// golang.org/x/net/http2 invokes its connection-level callbacks from its
// own internal goroutine, separate from any per-stream goroutine.
type Tracker struct {
	mu      sync.Mutex
	state   state
	onClose func()

	Tracer trace.Tracer
}

// New returns a Tracker in the Active(0) state. onClose is invoked at
// most once, the instant the tracker transitions into Closing.
func New(onClose func()) *Tracker {
	return &Tracker{state: activeState{}, onClose: onClose}
}

// StreamCreated increments the open-stream count.
func (t *Tracker) StreamCreated() {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch st := t.state.(type) {
	case activeState:
		t.state = activeState{open: st.open + 1}
	case quiescingState:
		t.state = quiescingState{open: st.open + 1}
	}
}

// StreamClosed decrements the open-stream count; if quiescing and the
// count reaches zero, the connection closes.
func (t *Tracker) StreamClosed() {
	t.mu.Lock()
	switch st := t.state.(type) {
	case activeState:
		t.state = activeState{open: st.open - 1}
		t.mu.Unlock()
	case quiescingState:
		remaining := st.open - 1
		if remaining <= 0 {
			t.closeLocked()
			return
		}
		t.state = quiescingState{open: remaining}
		t.mu.Unlock()
	default:
		t.mu.Unlock()
	}
}

// Quiesce marks the connection for close once all open streams finish.
// If none are open, it closes immediately.
func (t *Tracker) Quiesce() {
	t.mu.Lock()
	switch st := t.state.(type) {
	case activeState:
		if st.open == 0 {
			t.closeLocked()
			return
		}
		t.state = quiescingState{open: st.open}
		t.mu.Unlock()
	default:
		t.mu.Unlock() // already Quiescing or Closing: no-op
	}
}

// IdleRead handles a no-bytes-read-within-readTimeout event: the peer
// went idle mid-request, so the connection closes if any stream is open.
func (t *Tracker) IdleRead() {
	t.mu.Lock()
	if t.openCountLocked() > 0 {
		t.closeLocked()
		return
	}
	t.mu.Unlock()
}

// IdleWrite handles a no-bytes-written-within-writeTimeout event: a
// long-idle keep-alive connection closes when no stream is open.
func (t *Tracker) IdleWrite() {
	t.mu.Lock()
	if t.openCountLocked() == 0 {
		t.closeLocked()
		return
	}
	t.mu.Unlock()
}

// Closing reports whether the tracker has already transitioned to the
// terminal Closing state.
func (t *Tracker) Closing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, closing := t.state.(closingState)
	return closing
}

// OpenCount reports the current open-stream count; zero once Closing.
func (t *Tracker) OpenCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.openCountLocked()
}

func (t *Tracker) openCountLocked() int {
	switch st := t.state.(type) {
	case activeState:
		return st.open
	case quiescingState:
		return st.open
	default:
		return 0
	}
}

// closeLocked transitions to Closing and fires onClose at most once.
// t.mu must be held; it is released before returning.
func (t *Tracker) closeLocked() {
	_, already := t.state.(closingState)
	t.state = closingState{}
	t.mu.Unlock()
	if !already && t.onClose != nil {
		t.onClose()
	}
}
