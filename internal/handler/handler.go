// Copyright (c) 2026 TurnRTC Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// see LICENSE for details.

// Package handler implements the spec §4.5 Handler Runtime (C4): the
// per-session handler instance, its receive/emit/shutdown contract, and
// the scheduling bridge between inbound frames, user code, and outbound
// frames.
package handler

import (
	"fmt"

	"github.com/turnrtc/turnrtc/internal/audio/codec"
	"github.com/turnrtc/turnrtc/internal/audioframe"
)

// AudioFormat is the handler's declared contract (spec §6): property set
// input_sample_rate, output_sample_rate, output_frame_samples,
// expected_layout.
type AudioFormat = codec.HandlerAudioFormat

// YieldKind tags the variant carried by a Yield (design notes §9: "Use a
// tagged variant Yield = Audio(frame) | Video(frame) | Extra(values) at
// the generator/runtime boundary").
type YieldKind int

const (
	YieldAudio YieldKind = iota
	YieldVideo
	YieldExtra
)

// Yield is one item produced by RawHandler.Emit or by a turn-taking
// generator.
type Yield struct {
	Kind  YieldKind
	Audio *audioframe.AudioFrame
	Video *audioframe.VideoFrame
	Extra []any // AdditionalOutputs (spec §3)
}

func AudioYield(f audioframe.AudioFrame) Yield { return Yield{Kind: YieldAudio, Audio: &f} }
func VideoYield(f audioframe.VideoFrame) Yield { return Yield{Kind: YieldVideo, Video: &f} }
func ExtraYield(values ...any) Yield           { return Yield{Kind: YieldExtra, Extra: values} }

// RawHandler is the user-supplied contract from spec §4.5/§6: receive one
// inbound frame at a time, emit zero-or-one outbound items per poll,
// produce a fresh deep copy per session, and release resources exactly
// once on shutdown.
type RawHandler interface {
	// Format returns the handler's declared audio contract.
	Format() AudioFormat

	// Receive is called once per inbound frame, after Frame Codec
	// normalization, serially and in arrival order from the Runtime's
	// dedicated dispatch goroutine. Implementations should do minimal work
	// here — a Receive that blocks delays every frame behind it, though it
	// never blocks the inbound transport itself (Receive enqueues
	// non-blockingly with oldest-drop overflow).
	Receive(frame audioframe.AudioFrame)

	// Emit is polled in a loop by the outbound pump. ok=false means
	// "nothing to send now — poll again soon", matching spec §4.5's
	// "returning none means ... poll again soon".
	Emit() (y Yield, ok bool)

	// Copy returns a fresh handler with identical configuration but no
	// shared runtime state (spec §4.5 "mandatory factory"). Called once
	// per new session.
	Copy() RawHandler

	// Shutdown releases all owned resources. Called exactly once on
	// teardown; must be idempotent.
	Shutdown() error
}

// Starter is an optional extension: StartUp is invoked once after Copy
// and before the first Receive/Emit call (spec §6 "Optional").
type Starter interface {
	StartUp() error
}

// ValidateFormat checks a handler's declared AudioFormat is well-formed
// before a Runtime is built around it.
func ValidateFormat(f AudioFormat) error {
	if f.InputSampleRate <= 0 || f.OutputSampleRate <= 0 {
		return fmt.Errorf("handler: sample rates must be positive, got in=%d out=%d", f.InputSampleRate, f.OutputSampleRate)
	}
	if f.OutputFrameSamples <= 0 {
		return fmt.Errorf("handler: output_frame_samples must be positive, got %d", f.OutputFrameSamples)
	}
	return nil
}
