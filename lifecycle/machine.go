/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package lifecycle implements the ServerLifecycle outer state machine:
// bind, accept, graceful shutdown via a quiescing coordinator, and
// wait-until-stopped. It is the rendering of src/http/server.go's
// Serve/Shutdown/Close/trackListener/trackConn quartet, generalized away
// from *conn/*Server so any accept-driven connection type can be
// supervised, and upgraded to aggregate every close error via
// go-multierror instead of keeping only the first (closeListenersLocked's
// behavior in the teacher).
package lifecycle

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/badu/httpcore/coreerr"
)

// shutdownPollInterval is how often Stop re-checks whether every tracked
// connection has gone idle, matching the teacher's own poll cadence.
const shutdownPollInterval = 500 * time.Millisecond

// TrackedConn is the per-connection object a Machine supervises. Serve
// runs for the connection's entire lifetime and is called on the
// goroutine the design pins the connection to for that lifetime; Close
// forcibly terminates it; Idle reports whether it currently holds no
// in-flight request (used by the graceful-shutdown poll, matching
// closeIdleConns's StateIdle check).
type TrackedConn interface {
	Serve(ctx context.Context) error
	Close() error
	Idle() bool
}

// Quiescer is an optional TrackedConn capability: a connection that wants
// an explicit heads-up when the server starts quiescing, rather than
// waiting to be found Idle on the next poll. connhandler.Handler.Quiesce
// is the intended implementation.
type Quiescer interface {
	Quiesce() (closeNow bool)
}

// Initializer builds a TrackedConn for a freshly accepted net.Conn. It
// must not block on Serve itself; Serve is invoked separately by the
// Machine so accept-loop backoff timing isn't distorted by connection
// setup cost.
type Initializer func(ctx context.Context, conn net.Conn) (TrackedConn, error)

// state is the sealed ServerState union: Initial | Starting |
// Running(listener) | ShuttingDown(done) | Shutdown. Transitions are
// strictly monotonic forward; there is no return from Shutdown.
type state interface{ isLifecycleState() }

type initialState struct{}

func (initialState) isLifecycleState() {}

type startingState struct{}

func (startingState) isLifecycleState() {}

type runningState struct{ listener net.Listener }

func (runningState) isLifecycleState() {}

type shuttingDownState struct{ done chan struct{} }

func (shuttingDownState) isLifecycleState() {}

type shutdownState struct{}

func (shutdownState) isLifecycleState() {}

// Machine is the ServerLifecycle.
type Machine struct {
	mu    sync.Mutex
	st    state
	conns map[TrackedConn]struct{}

	eg     *errgroup.Group
	egCtx  context.Context
	cancel context.CancelFunc

	stopped     chan struct{}
	stoppedOnce sync.Once

	Logger zerolog.Logger
}

// markShutdown closes the stopped channel exactly once; both the graceful
// Stop and the forced Close call it. An accept loop that fails on its own
// does not call it - Wait observes that case through the errgroup's
// context instead.
func (m *Machine) markShutdown() {
	m.stoppedOnce.Do(func() { close(m.stopped) })
}

// New returns a Machine in the Initial state.
func New(logger zerolog.Logger) *Machine {
	return &Machine{
		st:      initialState{},
		conns:   make(map[TrackedConn]struct{}),
		stopped: make(chan struct{}),
		Logger:  logger,
	}
}

// Start binds the accept loop to ln and transitions Initial -> Starting
// -> Running. It is an error to Start a Machine that isn't Initial.
func (m *Machine) Start(init Initializer, ln net.Listener) error {
	m.mu.Lock()
	switch m.st.(type) {
	case initialState:
		m.st = startingState{}
	case shutdownState:
		m.mu.Unlock()
		return coreerr.ErrServerShutdown
	case shuttingDownState:
		m.mu.Unlock()
		return coreerr.ErrServerShuttingDown
	default:
		m.mu.Unlock()
		return errors.New("lifecycle: Start called on a Machine that is not Initial")
	}
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(ctx)
	m.eg, m.egCtx, m.cancel = eg, egCtx, cancel

	m.mu.Lock()
	m.st = runningState{listener: ln}
	m.mu.Unlock()

	eg.Go(func() error { return m.acceptLoop(init, ln) })
	return nil
}

func (m *Machine) acceptLoop(init Initializer, ln net.Listener) error {
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if m.isQuiescingOrDone() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if backoff == 0 {
					backoff = 5 * time.Millisecond
				} else {
					backoff *= 2
				}
				if max := time.Second; backoff > max {
					backoff = max
				}
				m.Logger.Warn().Err(err).Dur("backoff", backoff).Msg("accept error, retrying")
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0

		tc, err := init(m.egCtx, conn)
		if err != nil {
			m.Logger.Warn().Err(err).Msg("connection initializer failed")
			conn.Close()
			continue
		}
		m.trackConn(tc)
		m.eg.Go(func() error {
			defer m.untrackConn(tc)
			return tc.Serve(m.egCtx)
		})
	}
}

func (m *Machine) isQuiescingOrDone() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.st.(type) {
	case shuttingDownState, shutdownState:
		return true
	default:
		return false
	}
}

func (m *Machine) trackConn(c TrackedConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[c] = struct{}{}
}

func (m *Machine) untrackConn(c TrackedConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, c)
}

// Port reports the bound TCP port; an error if the Machine isn't Running,
// or if the listener isn't a *net.TCPListener.
func (m *Machine) Port() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ln net.Listener
	switch st := m.st.(type) {
	case runningState:
		ln = st.listener
	default:
		return 0, coreerr.ErrServerNotRunning
	}
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		return tcpAddr.Port, nil
	}
	return 0, errors.New("lifecycle: listener is not TCP")
}

// Stop is the quiescing coordinator: it stops accepting new connections,
// asks every tracked connection to quiesce, and waits (bounded by ctx)
// for them to finish naturally. Calling Stop twice is idempotent - the
// second caller observes the same completion as the first. Calling Stop
// before Start succeeds immediately and transitions straight to
// Shutdown, matching the design's idempotence rule.
func (m *Machine) Stop(ctx context.Context) error {
	m.mu.Lock()
	switch st := m.st.(type) {
	case initialState:
		m.st = shutdownState{}
		m.mu.Unlock()
		m.markShutdown()
		return nil
	case shutdownState:
		m.mu.Unlock()
		return nil
	case shuttingDownState:
		done := st.done
		m.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case startingState:
		m.mu.Unlock()
		return errors.New("lifecycle: Stop called before Start completed binding")
	}

	running := m.st.(runningState)
	done := make(chan struct{})
	m.st = shuttingDownState{done: done}
	conns := make([]TrackedConn, 0, len(m.conns))
	for c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	var closeErr error
	if cerr := running.listener.Close(); cerr != nil {
		closeErr = cerr
	}

	for _, c := range conns {
		if q, ok := c.(Quiescer); ok {
			if q.Quiesce() {
				c.Close()
			}
		}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- m.eg.Wait()
	}()

	finalize := func(egErr error) error {
		var result *multierror.Error
		if closeErr != nil {
			result = multierror.Append(result, closeErr)
		}
		if egErr != nil {
			result = multierror.Append(result, egErr)
		}
		m.mu.Lock()
		m.st = shutdownState{}
		m.mu.Unlock()
		close(done)
		m.markShutdown()
		return result.ErrorOrNil()
	}

	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()
	for {
		select {
		case egErr := <-waitErr:
			return finalize(egErr)
		case <-ctx.Done():
			go func() {
				egErr := <-waitErr
				finalize(egErr)
			}()
			return ctx.Err()
		case <-ticker.C:
			// Idle connections that never got an explicit Quiescer hook
			// still get force-closed here, matching closeIdleConns.
			m.mu.Lock()
			for c := range m.conns {
				if c.Idle() {
					c.Close()
				}
			}
			m.mu.Unlock()
		}
	}
}

// Close immediately terminates the listener and every tracked connection
// without waiting for in-flight requests, aggregating every close error
// instead of keeping only the first.
func (m *Machine) Close() error {
	m.mu.Lock()
	var result *multierror.Error
	if st, ok := m.st.(runningState); ok {
		if err := st.listener.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for c := range m.conns {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	m.st = shutdownState{}
	m.mu.Unlock()
	m.markShutdown()

	if m.cancel != nil {
		m.cancel()
	}
	return result.ErrorOrNil()
}

// Wait blocks until the Machine reaches Shutdown - however that happens,
// whether through Stop, Close, or the accept loop exiting on its own -
// or until ctx is done. Unlike Stop, Wait never initiates quiescing
// itself; a Machine that's still Initial or Starting has no
// listener-close future to wait on at all.
func (m *Machine) Wait(ctx context.Context) error {
	m.mu.Lock()
	switch m.st.(type) {
	case initialState, startingState:
		m.mu.Unlock()
		return coreerr.ErrServerNotRunning
	case shutdownState:
		m.mu.Unlock()
		return nil
	}
	egCtx := m.egCtx
	m.mu.Unlock()

	select {
	case <-m.stopped:
		return nil
	case <-egCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State names, exposed for diagnostics/logging only.
const (
	StateInitial      = "initial"
	StateStarting     = "starting"
	StateRunning      = "running"
	StateShuttingDown = "shutting_down"
	StateShutdown     = "shutdown"
)

// State reports the current ServerState's name.
func (m *Machine) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.st.(type) {
	case initialState:
		return StateInitial
	case startingState:
		return StateStarting
	case runningState:
		return StateRunning
	case shuttingDownState:
		return StateShuttingDown
	default:
		return StateShutdown
	}
}
