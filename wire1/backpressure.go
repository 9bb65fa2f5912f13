/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package wire1

import (
	"context"

	"github.com/badu/httpcore/streambody"
)

// backpressureStreamer wraps a streambody.Streamer with the resume
// signal the design's backpressure contract needs: once the queued,
// undelivered byte count reaches maxBuffered, waitForRoom blocks the
// connection's read loop until the responder's Consume calls drain it
// back down. This lives in wire1 rather than assembler because
// assembler.Streamer's interface deliberately exposes only the events
// the state machine itself needs (Feed/FeedEnd/FeedError/BufferedSize/
// Drop/Drained, plus the consumer's Next); the codec, which owns the read loop, is the only
// collaborator that needs to block on room.
// bufferedBytesMetrics is the minimal metrics surface backpressure
// reporting needs, broken out so newBackpressureStreamer doesn't require
// a full connhandler.Metrics implementation.
type bufferedBytesMetrics interface {
	SetStreamingBufferedBytes(n uint64)
}

type backpressureStreamer struct {
	*streambody.Streamer
	maxBuffered uint64
	resume      chan struct{}
	metrics     bufferedBytesMetrics
}

func newBackpressureStreamer(maxUploadSize, maxBuffered uint64, metrics bufferedBytesMetrics) *backpressureStreamer {
	s := &backpressureStreamer{
		Streamer:    streambody.New(maxUploadSize),
		maxBuffered: maxBuffered,
		resume:      make(chan struct{}, 1),
		metrics:     metrics,
	}
	s.Streamer.OnConsume(func() {
		s.report()
		if maxBuffered > 0 {
			select {
			case s.resume <- struct{}{}:
			default:
			}
		}
	})
	return s
}

// report publishes the streamer's current buffered-byte count, the
// observable signal the backpressure contract needs since BufferedSize
// otherwise lives entirely inside the connection goroutine.
func (s *backpressureStreamer) report() {
	if s.metrics != nil {
		s.metrics.SetStreamingBufferedBytes(s.BufferedSize())
	}
}

// waitForRoom blocks while the streamer holds at least maxBuffered bytes
// the consumer hasn't drained yet. A maxBuffered of zero disables the
// check entirely (unbounded buffering).
func (s *backpressureStreamer) waitForRoom(ctx context.Context) error {
	if s.maxBuffered == 0 {
		return nil
	}
	for s.BufferedSize() >= s.maxBuffered {
		select {
		case <-s.resume:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
