// Copyright (c) 2026 TurnRTC Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// see LICENSE for details.

// Package turntaking implements the spec §4.4 Turn-Taking Engine (C5):
// ReplyOnPause and ReplyOnStopwords, layered on the VAD Gate (C2) and
// Stopword Detector (C3), driving a user generator and relaying its
// yields as outbound frames and control events.
package turntaking

import (
	"context"
	"fmt"
	"sync"

	"github.com/turnrtc/turnrtc/internal/audioframe"
	"github.com/turnrtc/turnrtc/internal/commons"
	"github.com/turnrtc/turnrtc/internal/control"
	"github.com/turnrtc/turnrtc/internal/handler"
	"github.com/turnrtc/turnrtc/internal/stopword"
	"github.com/turnrtc/turnrtc/internal/vad"
)

// Mode selects which spec §4.4 flavor an Engine runs.
type Mode int

const (
	ModeReplyOnPause Mode = iota
	ModeReplyOnStopwords
)

// State is the engine's current position in the LISTENING / USER_SPEAKING
// / RESPONDING state machine (spec §4.4).
type State int

const (
	Listening State = iota
	UserSpeaking
	Responding
)

func (s State) String() string {
	switch s {
	case Listening:
		return "LISTENING"
	case UserSpeaking:
		return "USER_SPEAKING"
	case Responding:
		return "RESPONDING"
	default:
		return "UNKNOWN"
	}
}

// Generator is the user-supplied turn handler: given the utterance audio
// (16kHz mono PCM, spec §4.2) and the input snapshot tail (inputs[1:]), it
// yields zero or more handler.Yield items and then completes. It must
// observe ctx and stop promptly on cancellation (barge-in, spec §4.4).
type Generator func(ctx context.Context, utterance audioframe.AudioFrame, inputs []any) (<-chan handler.Yield, <-chan error)

// InputSnapshot is the minimal accessor the engine needs into the
// session's input snapshot (spec §3/§4.7): index 0 is the reserved
// sentinel, so generators only ever see inputs[1:].
type InputSnapshot interface {
	Snapshot() []any
}

// Sink receives relayed outputs: audio/video for the outbound pump,
// AdditionalOutputs for the session's output queue.
type Sink interface {
	EmitAudio(audioframe.AudioFrame)
	EmitVideo(audioframe.VideoFrame)
	EmitExtra(values []any)

	// Flush pads any in-flight re-framer tail with silence up to a frame
	// boundary and emits it, then clears carried state (spec §4.4 barge-in:
	// "any in-flight outbound frames in the re-framer are flushed with
	// silence up to a frame boundary"; also used at stream end).
	Flush()
}

// Engine drives one session's turn-taking state machine. Not safe for
// concurrent Feed calls — Feed is intended to be called serially from the
// session's single inbound pump goroutine (spec §5).
type Engine struct {
	logger commons.Logger
	mode   Mode

	gate     *vad.Gate
	detector *stopword.Detector // nil when mode == ModeReplyOnPause

	generator Generator
	inputs    InputSnapshot
	sink      Sink
	bus       *control.Bus

	mu    sync.Mutex
	state State

	genCancel context.CancelFunc
	genDone   <-chan struct{}
}

// New builds an Engine. For ModeReplyOnStopwords, detector must be
// non-nil.
func New(logger commons.Logger, mode Mode, gate *vad.Gate, detector *stopword.Detector, generator Generator, inputs InputSnapshot, sink Sink, bus *control.Bus) (*Engine, error) {
	if mode == ModeReplyOnStopwords && detector == nil {
		return nil, fmt.Errorf("turntaking: ReplyOnStopwords requires a stopword detector")
	}
	return &Engine{
		logger:    logger,
		mode:      mode,
		gate:      gate,
		detector:  detector,
		generator: generator,
		inputs:    inputs,
		sink:      sink,
		bus:       bus,
		state:     Listening,
	}, nil
}

// State returns the engine's current state (for tests/observability).
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Feed processes one inbound chunk of 16kHz mono PCM through the VAD Gate
// (and, in ReplyOnStopwords mode, the Stopword Detector), driving the
// state machine and, on a triggering pause, launching the generator.
func (e *Engine) Feed(ctx context.Context, pcm []int16) error {
	if e.detector != nil {
		e.mu.Lock()
		speaking := e.state != Listening
		e.mu.Unlock()
		if speaking {
			e.detector.Feed(pcm)
		}
	}

	evt, err := e.gate.Feed(pcm)
	if err != nil {
		return fmt.Errorf("turntaking: vad feed: %w", err)
	}
	if evt == nil {
		return nil
	}

	switch evt.Kind {
	case vad.StartedTalking:
		return e.onStartedTalking(ctx)
	case vad.Paused:
		return e.onPaused(ctx, evt.Utterance)
	default:
		return nil
	}
}

func (e *Engine) onStartedTalking(ctx context.Context) error {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	switch state {
	case Listening:
		if e.mode == ModeReplyOnPause {
			e.setState(UserSpeaking)
			return nil
		}
		// ReplyOnStopwords: VAD starting talk alone does not start a
		// turn; the generator runs only after STOPWORD_MATCHED (see
		// onPaused). USER_SPEAKING here marks that speech is underway so
		// the detector accumulates audio.
		e.setState(UserSpeaking)
		return nil

	case Responding:
		// Barge-in (spec §4.4): cancel the running generator cooperatively,
		// flush the re-framer's in-flight tail with silence up to a frame
		// boundary, and return to USER_SPEAKING.
		e.cancelGenerator()
		e.sink.Flush()
		e.setState(UserSpeaking)
		return nil
	}
	return nil
}

func (e *Engine) onPaused(ctx context.Context, utterance []int16) error {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()
	if state != UserSpeaking {
		return nil
	}

	if e.mode == ModeReplyOnStopwords {
		matched, ok, err := e.detector.CheckEndOfChunk(ctx)
		if err != nil {
			e.bus.Send(control.NewWarning(fmt.Sprintf("stopword check failed: %v", err)))
		}
		if !ok {
			// No stopword this chunk: stay in USER_SPEAKING, keep listening.
			e.detector.Reset()
			return nil
		}
		e.bus.Send(control.NewStopword(matched))
		// The detector only transcribed its trailing window, so clip the
		// utterance to that same span: the generator must not see audio
		// from before the stopword match.
		if w := e.detector.WindowSamples(); w > 0 && w < len(utterance) {
			utterance = utterance[len(utterance)-w:]
		}
		e.detector.Reset()
	}

	e.bus.Send(control.NewPauseDetected())
	e.setState(Responding)
	e.runGenerator(ctx, utterance)
	return nil
}

// runGenerator launches the user generator in a goroutine, relaying
// yields to the sink in order and emitting response_starting before the
// first outbound item (spec §4.4/§5 ordering guarantee).
func (e *Engine) runGenerator(parent context.Context, utterance []int16) {
	genCtx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	e.mu.Lock()
	e.genCancel = cancel
	e.genDone = done
	e.mu.Unlock()

	inputs := e.inputs.Snapshot()
	var tail []any
	if len(inputs) > 1 {
		tail = inputs[1:]
	}
	utteranceFrame := audioframe.AudioFrame{
		SampleRate: vad.NativeSampleRate,
		Channels:   audioframe.Mono,
		Samples:    utterance,
	}

	yields, errs := e.generator(genCtx, utteranceFrame, tail)

	go func() {
		defer close(done)
		first := true
		for {
			select {
			case <-genCtx.Done():
				// Cancellation (barge-in or stream end): discard further
				// yields. No yields are delivered after this point.
				e.drainGenerator(yields, errs)
				e.finishTurn()
				return
			case y, ok := <-yields:
				if !ok {
					e.finishTurn()
					return
				}
				if first {
					e.bus.Send(control.NewResponseStarting())
					first = false
				}
				e.deliver(y)
			case err, ok := <-errs:
				if !ok {
					// A closed error channel alone does not end the turn:
					// keep relaying buffered yields until yields closes.
					errs = nil
					continue
				}
				if err != nil {
					e.bus.Send(control.NewError(err.Error()))
				}
				e.finishTurn()
				return
			}
		}
	}()
}

func (e *Engine) deliver(y handler.Yield) {
	switch y.Kind {
	case handler.YieldAudio:
		if y.Audio != nil {
			e.sink.EmitAudio(*y.Audio)
		}
	case handler.YieldVideo:
		if y.Video != nil {
			e.sink.EmitVideo(*y.Video)
		}
	case handler.YieldExtra:
		e.sink.EmitExtra(y.Extra)
		e.bus.Send(control.NewFetchOutput())
	}
}

// drainGenerator discards any yields still in flight after cancellation,
// without blocking indefinitely: the generator is expected to close its
// channels promptly once it observes ctx.Done().
func (e *Engine) drainGenerator(yields <-chan handler.Yield, errs <-chan error) {
	for {
		select {
		case _, ok := <-yields:
			if !ok {
				return
			}
		case _, ok := <-errs:
			if !ok {
				return
			}
		}
	}
}

func (e *Engine) cancelGenerator() {
	e.mu.Lock()
	cancel := e.genCancel
	done := e.genDone
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// finishTurn returns the engine to LISTENING once the generator completes,
// raises an error, or is cancelled — shared by both ReplyOnPause and
// ReplyOnStopwords (spec §4.4 "If the generator finishes -> LISTENING").
func (e *Engine) finishTurn() {
	e.mu.Lock()
	if e.state == Responding {
		e.state = Listening
	}
	e.genCancel = nil
	e.genDone = nil
	e.mu.Unlock()
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Shutdown cancels any running generator, used when a stream ends while
// RESPONDING (spec §4.4: "the generator is cancelled and a single warning
// is emitted noting truncation").
func (e *Engine) Shutdown() {
	e.mu.Lock()
	responding := e.state == Responding
	e.mu.Unlock()
	if !responding {
		return
	}
	e.cancelGenerator()
	e.sink.Flush()
	e.bus.Send(control.NewWarning("session ended while responding; turn truncated"))
}
