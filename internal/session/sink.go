// Copyright (c) 2026 TurnRTC Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// see LICENSE for details.

package session

import (
	"github.com/turnrtc/turnrtc/internal/audioframe"
)

// TransportSink provides the EmitAudio/EmitVideo/EmitExtra methods of
// turntaking.Sink, relaying generator yields to the outbound media queues
// the signalling layer drains (audio/video) and the session's
// AdditionalOutputs queue (extra). It has no Flush method, so it is not a
// turntaking.Sink by itself; internal/app wraps it with one that adds
// Flush. Kept separate from Session itself so turntaking never depends on
// the full Session type.
type TransportSink struct {
	audioOut chan audioframe.AudioFrame
	videoOut chan audioframe.VideoFrame
	outputs  *OutputQueue
}

// NewTransportSink builds a TransportSink backed by bounded media queues
// and the session's output queue.
func NewTransportSink(mediaQueueSize int, outputs *OutputQueue) *TransportSink {
	if mediaQueueSize <= 0 {
		mediaQueueSize = 32
	}
	return &TransportSink{
		audioOut: make(chan audioframe.AudioFrame, mediaQueueSize),
		videoOut: make(chan audioframe.VideoFrame, mediaQueueSize),
		outputs:  outputs,
	}
}

// EmitAudio enqueues an outbound audio frame, dropping the oldest on
// overflow to match the lossy media policy (spec §4.1/§5) rather than
// blocking the turn-taking engine's delivery goroutine.
func (t *TransportSink) EmitAudio(frame audioframe.AudioFrame) {
	select {
	case t.audioOut <- frame:
		return
	default:
	}
	select {
	case <-t.audioOut:
	default:
	}
	select {
	case t.audioOut <- frame:
	default:
	}
}

// EmitVideo enqueues an outbound video frame with the same drop-oldest
// policy as EmitAudio.
func (t *TransportSink) EmitVideo(frame audioframe.VideoFrame) {
	select {
	case t.videoOut <- frame:
		return
	default:
	}
	select {
	case <-t.videoOut:
	default:
	}
	select {
	case t.videoOut <- frame:
	default:
	}
}

// EmitExtra pushes an AdditionalOutputs entry onto the session's bounded
// output queue (spec §3).
func (t *TransportSink) EmitExtra(values []any) {
	t.outputs.Push(values)
}

// PollAudio returns the next outbound audio frame without blocking, for
// the WebRTC/WebSocket write pump.
func (t *TransportSink) PollAudio() (audioframe.AudioFrame, bool) {
	select {
	case f := <-t.audioOut:
		return f, true
	default:
		return audioframe.AudioFrame{}, false
	}
}

// PollVideo returns the next outbound video frame without blocking.
func (t *TransportSink) PollVideo() (audioframe.VideoFrame, bool) {
	select {
	case f := <-t.videoOut:
		return f, true
	default:
		return audioframe.VideoFrame{}, false
	}
}
