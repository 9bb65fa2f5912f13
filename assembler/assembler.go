/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package assembler

import (
	"errors"
	"fmt"

	"github.com/badu/httpcore/coreerr"
	"github.com/badu/httpcore/hdr"
)

// ErrProtocolViolation is returned when the codec calls an Assembler event
// method out of turn, e.g. a second Head before the previous request's End.
// A correct codec never triggers this; it exists the way conn.go's
// assert-shaped comments ("TODO: what if...") exist, as a defensive rail
// rather than a reachable production path.
var ErrProtocolViolation = errors.New("assembler: event received in wrong state")

// NewStreamerFunc constructs the Streamer a promoted request uses. The
// caller supplies this so assembler stays decoupled from streambody's
// concrete type; httpcore wires streambody.New here.
type NewStreamerFunc func(maxUploadSize uint64) Streamer

// state is the sealed ConnectionState the table in the design keys off:
// idleState | headState | bodyState | streamingState | errorState.
type state interface {
	isAssemblerState()
}

type idleState struct{}

func (idleState) isAssemblerState() {}

type headState struct{ head Head }

func (headState) isAssemblerState() {}

type bodyState struct {
	head  Head
	first []byte
}

func (bodyState) isAssemblerState() {}

type streamingState struct {
	head   Head
	stream Streamer
}

func (streamingState) isAssemblerState() {}

type errorState struct{}

func (errorState) isAssemblerState() {}

// Assembler is the RequestAssembler: a per-connection state machine that
// consumes head/bodyChunk/end codec events and produces Requests, promoting
// to a Streamed body the moment a second body chunk proves the body didn't
// fit a single read.
//
// An Assembler is not safe for concurrent use; the design's "connection's
// serial executor" binding means exactly one goroutine ever calls into it.
type Assembler struct {
	state           state
	newStreamer     NewStreamerFunc
	maxUploadSize   uint64
	propagatedError error
}

// New returns an idle Assembler. maxUploadSize bounds any streamer it
// creates when a body is promoted to streaming, and also rejects a Head
// whose declared Content-Length already exceeds it outright - a chunked
// or undeclared-length body that never promotes past a single small read
// is still subject to the streamer's own lifetime ceiling only once it
// has at least one chunk fed into it.
func New(maxUploadSize uint64, newStreamer NewStreamerFunc) *Assembler {
	return &Assembler{
		state:         idleState{},
		newStreamer:   newStreamer,
		maxUploadSize: maxUploadSize,
	}
}

// PropagatedError returns any error parked by a prior Fail call awaiting
// conversion into an error response, clearing it.
func (a *Assembler) PropagatedError() error {
	err := a.propagatedError
	a.propagatedError = nil
	return err
}

// Head handles the codec's head event: the request line and headers are
// in hand, the body (if any) has yet to arrive.
func (a *Assembler) Head(h Head) error {
	switch a.state.(type) {
	case idleState:
		if hosts := h.Header[hdr.Host]; len(hosts) > 1 {
			return badRequestf("too many Host headers")
		} else if len(hosts) == 1 && !hdr.ValidHostHeader(hosts[0]) {
			return badRequestf("malformed Host header")
		}
		if h.ProtoAtLeast(1, 1) && h.Host == "" {
			return badRequestf("missing required Host header")
		}
		if h.ContentLength > 0 && uint64(h.ContentLength) > a.maxUploadSize {
			return &coreerr.PayloadTooLargeError{MaxUploadSize: a.maxUploadSize}
		}
		for k, vv := range h.Header {
			if !hdr.ValidHeaderFieldName(k) {
				return badRequestf("invalid header name %q", k)
			}
			for _, v := range vv {
				if !hdr.ValidHeaderFieldValue(v) {
					return badRequestf("invalid header value for %q", k)
				}
			}
		}
		a.state = headState{head: h}
		return nil
	case errorState:
		return nil // ignore, per the Error row
	default:
		return ErrProtocolViolation
	}
}

// BodyChunk handles one codec body-chunk event. It returns a non-nil
// Request only when the chunk completes a promotion to streaming (the
// second chunk seen for this request).
func (a *Assembler) BodyChunk(b []byte) (*Request, error) {
	switch st := a.state.(type) {
	case headState:
		cp := append([]byte(nil), b...)
		a.state = bodyState{head: st.head, first: cp}
		return nil, nil
	case bodyState:
		stream := a.newStreamer(a.maxUploadSize)
		stream.Feed(st.first)
		stream.Feed(b)
		a.state = streamingState{head: st.head, stream: stream}
		return &Request{Head: st.head, Body: StreamedBody{Stream: stream}}, nil
	case streamingState:
		st.stream.Feed(b)
		return nil, nil
	case errorState:
		return nil, nil
	default:
		return nil, ErrProtocolViolation
	}
}

// End handles the codec's end-of-request event. It always resolves the
// current request: either a (possibly empty) buffered body, or the
// terminator fed into an already-streaming body.
func (a *Assembler) End() (*Request, error) {
	switch st := a.state.(type) {
	case headState:
		a.state = idleState{}
		return &Request{Head: st.head, Body: EmptyBody{}}, nil
	case bodyState:
		a.state = idleState{}
		var body Body = BufferedBody(st.first)
		if len(st.first) == 0 {
			body = EmptyBody{}
		}
		return &Request{Head: st.head, Body: body}, nil
	case streamingState:
		st.stream.FeedEnd()
		a.state = idleState{}
		return nil, nil
	case errorState:
		a.state = idleState{}
		return nil, nil
	default:
		return nil, ErrProtocolViolation
	}
}

// Fail handles a codec-level error. If a body is actively streaming, the
// error terminates the streamer directly (the consumer observes it on its
// next consume). Otherwise it's parked as propagatedError, to be converted
// into an error response the next time PropagatedError is read - matching
// the design's "stored to be converted into an error response when the
// next request arrives" rule.
func (a *Assembler) Fail(err error) {
	if st, ok := a.state.(streamingState); ok {
		st.stream.FeedError(err)
		a.state = idleState{}
		return
	}
	a.propagatedError = err
	a.state = errorState{}
}

// badRequestError marks a Head validation failure as client-caused, the
// way conn.go's own badRequestError type distinguishes a malformed request
// from a transport failure.
type badRequestError string

func (e badRequestError) Error() string { return "bad request: " + string(e) }

func badRequestf(format string, args ...interface{}) error {
	return badRequestError(fmt.Sprintf(format, args...))
}

// IsBadRequest reports whether err was produced by a Head validation
// failure, so a collaborator can decide to reply 400 versus 500.
func IsBadRequest(err error) bool {
	_, ok := err.(badRequestError)
	return ok
}
