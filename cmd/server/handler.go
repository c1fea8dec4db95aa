package main

import (
	"github.com/turnrtc/turnrtc/internal/app"
	"github.com/turnrtc/turnrtc/internal/audioframe"
	"github.com/turnrtc/turnrtc/internal/handler"
)

// echoHandler is a minimal receive/emit RawHandler used as the default
// registration when no application-specific handler is wired in. It
// demonstrates the contract operators implement: declare a format, accept
// frames, and emit them back unchanged.
type echoHandler struct {
	pending chan audioframe.AudioFrame
}

func newEchoHandler() *echoHandler {
	return &echoHandler{pending: make(chan audioframe.AudioFrame, 32)}
}

func (h *echoHandler) Format() handler.AudioFormat {
	return handler.AudioFormat{
		InputSampleRate:    16000,
		OutputSampleRate:   16000,
		OutputFrameSamples: 320, // 20ms @ 16kHz
		ChannelLayout:      audioframe.Mono,
	}
}

func (h *echoHandler) Receive(frame audioframe.AudioFrame) {
	select {
	case h.pending <- frame:
	default:
		// drop under overload rather than block the inbound dispatcher
	}
}

func (h *echoHandler) Emit() (handler.Yield, bool) {
	select {
	case frame := <-h.pending:
		return handler.AudioYield(frame), true
	default:
		return handler.Yield{}, false
	}
}

func (h *echoHandler) Copy() handler.RawHandler { return newEchoHandler() }

func (h *echoHandler) Shutdown() error { return nil }

// registerHandler returns the process-wide Registration this binary runs.
// Swap this out for a real application handler or turn-taking generator.
func registerHandler() app.Registration {
	return app.Registration{
		Handler: func() handler.RawHandler { return newEchoHandler() },
	}
}
