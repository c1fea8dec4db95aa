package vad

import (
	"fmt"
	"time"

	"github.com/turnrtc/turnrtc/internal/commons"
)

// NativeSampleRate is the VAD's native processing rate (spec §4.2:
// "buffer inbound PCM at the VAD's native rate (16 kHz)").
const NativeSampleRate = 16000

// EventKind is one of STARTED_TALKING / CONTINUING / PAUSED (spec §4.2).
type EventKind int

const (
	StartedTalking EventKind = iota
	Continuing
	Paused
)

func (k EventKind) String() string {
	switch k {
	case StartedTalking:
		return "STARTED_TALKING"
	case Continuing:
		return "CONTINUING"
	case Paused:
		return "PAUSED"
	default:
		return "UNKNOWN"
	}
}

// Event is emitted once per scored window. Utterance is only populated on
// Paused, and holds the full aggregated utterance from start-of-speech
// through end-of-window, as the 16kHz mono PCM fed to the Gate; the peer's
// original-rate audio is not kept.
type Event struct {
	Kind      EventKind
	Utterance []int16
}

// Config is the spec §4.2 enumerated VAD Gate configuration.
type Config struct {
	AudioChunkDuration      time.Duration // default 0.6s
	StartedTalkingThreshold time.Duration // default 0.2s
	SpeechThreshold         time.Duration // default 0.1s
}

// DefaultConfig returns the spec-documented defaults.
func DefaultConfig() Config {
	return Config{
		AudioChunkDuration:      600 * time.Millisecond,
		StartedTalkingThreshold: 200 * time.Millisecond,
		SpeechThreshold:         100 * time.Millisecond,
	}
}

type state int

const (
	stateIdle state = iota
	stateSpeaking
)

// Gate is the spec §4.2 per-session state machine: IDLE/SPEAKING, buffering
// inbound PCM at the native 16kHz rate and scoring it in fixed windows.
type Gate struct {
	logger commons.Logger
	engine Engine
	cfg    Config

	st state

	// window accumulates samples since the last scoring decision.
	window []int16
	// utterance accumulates samples since start-of-speech, reset on PAUSED.
	utterance []int16

	windowSamples int
}

// NewGate builds a Gate. engine is not owned — Reset/Close are the
// caller's responsibility per design notes §9 (process-wide model
// registry).
func NewGate(logger commons.Logger, engine Engine, cfg Config) *Gate {
	return &Gate{
		logger:        logger,
		engine:        engine,
		cfg:           cfg,
		st:            stateIdle,
		windowSamples: int(cfg.AudioChunkDuration.Seconds() * NativeSampleRate),
	}
}

// Feed appends inbound 16kHz mono PCM and returns zero or one Event once a
// full audio_chunk_duration window has accumulated since the last
// decision (spec §4.2). Multiple Feed calls may be needed before a window
// completes; callers should call Feed repeatedly as frames arrive.
func (g *Gate) Feed(pcm []int16) (*Event, error) {
	g.window = append(g.window, pcm...)
	if g.st == stateSpeaking {
		g.utterance = append(g.utterance, pcm...)
	}

	if len(g.window) < g.windowSamples {
		return nil, nil
	}

	chunk := g.window[:g.windowSamples]
	g.window = g.window[g.windowSamples:]

	result, err := g.engine.Score(chunk)
	if err != nil {
		return nil, fmt.Errorf("vad gate: score: %w", err)
	}
	speech := time.Duration(result.SpeechSeconds * float64(time.Second))

	switch g.st {
	case stateIdle:
		// Tie-break: exactly equal to threshold is the non-triggering side.
		if speech > g.cfg.StartedTalkingThreshold {
			g.st = stateSpeaking
			g.utterance = append([]int16{}, chunk...)
			return &Event{Kind: StartedTalking}, nil
		}
		return &Event{Kind: Continuing}, nil

	case stateSpeaking:
		// Tie-break: exactly equal counts as triggering for paused.
		if speech <= g.cfg.SpeechThreshold {
			utterance := g.utterance
			g.utterance = nil
			g.st = stateIdle
			return &Event{Kind: Paused, Utterance: utterance}, nil
		}
		return &Event{Kind: Continuing}, nil
	}
	return &Event{Kind: Continuing}, nil
}

// Reset returns the Gate to IDLE and clears buffered audio, e.g. after a
// barge-in cancellation or session teardown.
func (g *Gate) Reset() {
	g.st = stateIdle
	g.window = nil
	g.utterance = nil
}
