/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package wire2

import (
	"context"

	"github.com/badu/httpcore/streambody"
)

// backpressureStream is wire2's analogue of wire1's backpressureStreamer:
// assembler.Streamer deliberately exposes no OnConsume/BufferedSize-driven
// wait, since only a codec's own read loop needs one. For HTTP/2 this lets
// the stream's read loop stop calling r.Body.Read once the streamer's
// buffer is full; golang.org/x/net/http2 then naturally stops issuing
// WINDOW_UPDATE frames for that stream, pushing the backpressure all the
// way back to the peer the way TCP receive-window backpressure does for
// wire1's connection-level reads.
// bufferedBytesMetrics is the minimal metrics surface backpressure
// reporting needs, broken out so newBackpressureStream doesn't require a
// full Metrics implementation.
type bufferedBytesMetrics interface {
	SetStreamingBufferedBytes(n uint64)
}

type backpressureStream struct {
	*streambody.Streamer
	maxBuffered uint64
	resume      chan struct{}
	metrics     bufferedBytesMetrics
}

func newBackpressureStream(maxUploadSize, maxBuffered uint64, metrics bufferedBytesMetrics) *backpressureStream {
	s := &backpressureStream{
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

// report publishes the streamer's current buffered-byte count.
func (s *backpressureStream) report() {
	if s.metrics != nil {
		s.metrics.SetStreamingBufferedBytes(s.BufferedSize())
	}
}

func (s *backpressureStream) waitForRoom(ctx context.Context) error {
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
