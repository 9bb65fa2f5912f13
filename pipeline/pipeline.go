/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package pipeline assembles the ordered, per-connection handler chain
// the design calls a ChannelInitializer. The teacher has no literal
// pipeline type - server_handler.go's serverHandler{srv} wrapper and
// timeout_handler.go's ServeHTTP-wrapping-ServeHTTP decorator are the
// closest idiom, one handler wrapping the next - so this package
// generalizes that same "wrap a fresh value per dispatch" idiom into an
// explicit, ordered list of Stage factories, and init_npn_request.go's
// ALPN-driven dispatch (initNPNRequest picks the TLSNextProto handler by
// negotiated protocol id) into SecureUpgrade's Select method.
package pipeline

// Stage is one handler in a pipeline. Its only required method is Name;
// in this module the server builds the stages for each accepted
// connection and logs their names, and the wire1 and wire2 codecs do not
// drive them. Stage exists so Pipeline can hold and log a heterogeneous,
// ordered list without depending on any one codec's stage types.
type Stage interface {
	// Name identifies the stage for logging, the way timeout_handler.go's
	// wrapped handlers are identifiable by the struct wrapping them.
	Name() string
}

// StageFactory produces a fresh Stage for one connection. Pipeline calls
// each factory exactly once per Build, mirroring serverHandler{srv}'s
// per-dispatch construction instead of sharing one mutable handler value
// across connections.
type StageFactory func() Stage

// Pipeline is a ChannelInitializer: a fixed, ordered list of stage
// factories built fresh for every accepted connection.
type Pipeline struct {
	factories []StageFactory
}

// New returns a Pipeline that builds stages in the given order.
func New(factories ...StageFactory) *Pipeline {
	cp := make([]StageFactory, len(factories))
	copy(cp, factories)
	return &Pipeline{factories: cp}
}

// Build constructs one fresh Stage per factory, in order, for a newly
// accepted connection.
func (p *Pipeline) Build() []Stage {
	stages := make([]Stage, len(p.factories))
	for i, f := range p.factories {
		stages[i] = f()
	}
	return stages
}

// Len reports the number of stage factories in the pipeline.
func (p *Pipeline) Len() int { return len(p.factories) }

// HTTP1Initializer builds the plain HTTP/1.1 pipeline: an optional
// leading TLS stage, an optional idle-state stage, the ordered
// user-registered stages, then the terminal connection-handler stage.
func HTTP1Initializer(leadingTLS, idleState StageFactory, user []StageFactory, connHandler StageFactory) *Pipeline {
	var factories []StageFactory
	if leadingTLS != nil {
		factories = append(factories, leadingTLS)
	}
	if idleState != nil {
		factories = append(factories, idleState)
	}
	factories = append(factories, user...)
	factories = append(factories, connHandler)
	return New(factories...)
}

// HTTP2Initializer builds the HTTP/2 pipeline: an optional idle-state
// stage at the connection level, then the ordered user stages and the
// terminal connection-handler stage that each stream's translated
// request flows through. The HTTP2StreamTracker is installed at the
// connection level by the caller (it isn't a per-stream Stage).
func HTTP2Initializer(idleState StageFactory, user []StageFactory, connHandler StageFactory) *Pipeline {
	var factories []StageFactory
	if idleState != nil {
		factories = append(factories, idleState)
	}
	factories = append(factories, user...)
	factories = append(factories, connHandler)
	return New(factories...)
}

// SecureUpgrade performs ALPN-driven selection between an HTTP/1.1 and
// an HTTP/2 pipeline, requiring a leading TLS stage at pipeline-head the
// way init_npn_request.go's initNPNRequest sits in front of whichever
// TLSNextProto handler ALPN selected.
type SecureUpgrade struct {
	LeadingTLS StageFactory
	HTTP1      *Pipeline
	HTTP2      *Pipeline
}

// NewSecureUpgrade builds a SecureUpgrade selector. leadingTLS must be
// non-nil: the design requires a leading TLS handler before ALPN
// selection can happen at all.
func NewSecureUpgrade(leadingTLS StageFactory, http1, http2 *Pipeline) *SecureUpgrade {
	return &SecureUpgrade{LeadingTLS: leadingTLS, HTTP1: http1, HTTP2: http2}
}

// Select picks the pipeline for a negotiated ALPN protocol id ("h2" or
// "http/1.1", matching the ids golang.org/x/net/http2 and net/http both
// use). Any other or empty id falls back to HTTP/1.1, matching
// validNPN's "no recognized next proto" fallback behavior in the
// teacher.
func (s *SecureUpgrade) Select(negotiatedProto string) *Pipeline {
	if negotiatedProto == "h2" {
		return s.HTTP2
	}
	return s.HTTP1
}

// BuildStages returns the full per-connection stage list for a secure
// upgrade dispatch: s.LeadingTLS built first - the distinguished
// pipeline-head handler spec.md §4.6 requires, the first to receive
// bytes - followed by whichever pipeline Select chose for
// negotiatedProto.
func (s *SecureUpgrade) BuildStages(negotiatedProto string) []Stage {
	chosen := s.Select(negotiatedProto)
	stages := make([]Stage, 0, 1+chosen.Len())
	stages = append(stages, s.LeadingTLS())
	stages = append(stages, chosen.Build()...)
	return stages
}
