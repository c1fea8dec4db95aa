// Package app wires the per-component pieces (C1 Frame Codec, C2 VAD Gate,
// C3 Stopword Detector, C4 Handler Runtime, C5 Turn-Taking Engine) into one
// of two per-session pipelines: a raw receive/emit handler, or a
// ReplyOnPause/ReplyOnStopwords turn-taking generator. Both are driven
// identically by the signalling and telephony transports through the
// Pipeline interface.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/turnrtc/turnrtc/internal/audio/codec"
	"github.com/turnrtc/turnrtc/internal/audio/resampler"
	"github.com/turnrtc/turnrtc/internal/audioframe"
	"github.com/turnrtc/turnrtc/internal/commons"
	"github.com/turnrtc/turnrtc/internal/control"
	"github.com/turnrtc/turnrtc/internal/handler"
	"github.com/turnrtc/turnrtc/internal/session"
	"github.com/turnrtc/turnrtc/internal/stopword"
	"github.com/turnrtc/turnrtc/internal/turntaking"
	"github.com/turnrtc/turnrtc/internal/vad"
)

// outboundFrameMs is the re-framer's output granularity for the
// turn-taking outbound path, matching the raw pipeline's typical 20ms
// framing (spec §4.1).
const outboundFrameMs = 20

// pollBackoff bounds how often an idle outbound pump retries Poll.
const pollBackoff = 5 * time.Millisecond

// Pipeline is what the transport layer (signalling/telephony) drives: feed
// inbound peer audio in, poll outbound peer audio/video out.
type Pipeline interface {
	FeedAudio(ctx context.Context, frame audioframe.AudioFrame) error
	FeedVideo(ctx context.Context, frame audioframe.VideoFrame) error
	PollAudio() (audioframe.AudioFrame, bool)
	PollVideo() (audioframe.VideoFrame, bool)
	Shutdown()
}

// HandlerFactory mints a fresh, independent RawHandler per session (spec
// §4.5 copy(): "mandatory factory that returns a fresh handler with
// identical configuration but no shared runtime state").
type HandlerFactory func() handler.RawHandler

// Registration is the process-wide configuration an operator supplies:
// either a raw HandlerFactory (receive/emit handler), or a turntaking
// Generator plus Mode (ReplyOnPause/ReplyOnStopwords). Exactly one of
// Handler/Generator should be set.
type Registration struct {
	Handler   HandlerFactory
	Generator turntaking.Generator

	Mode           turntaking.Mode
	VADConfig      vad.Config
	StopwordConfig stopword.Config
}

// Engines bundles the process-wide, expensive-to-construct model
// singletons (design notes §9: "hold them in a process-wide registry with
// lazy initialization ... handlers receive references, not ownership").
type Engines struct {
	VAD         vad.Engine
	Transcriber stopword.Transcriber // nil when no ReplyOnStopwords registration uses it
}

// Build constructs the appropriate Pipeline for sess given reg and the
// peer's negotiated audio parameters.
func Build(ctx context.Context, logger commons.Logger, reg Registration, engines Engines, sess *session.Session, outputQueueCapacity int, peerInRate, peerOutRate int, peerLayout audioframe.ChannelLayout) (Pipeline, error) {
	sink := session.NewTransportSink(outputQueueCapacity, sess.Outputs)

	if reg.Generator != nil {
		return newTurnTakingPipeline(ctx, logger, reg, engines, sess, sink, peerInRate, peerOutRate, peerLayout)
	}
	return newRawPipeline(ctx, logger, reg, sess, sink, peerInRate, peerOutRate, peerLayout)
}

// ---------------------------------------------------------------------------
// Raw handler pipeline (C1 + C4 only)
// ---------------------------------------------------------------------------

type rawPipeline struct {
	logger     commons.Logger
	codec      *codec.AudioCodec
	runtime    *handler.Runtime
	sink       *session.TransportSink
	bus        *control.Bus
	peerLayout audioframe.ChannelLayout
}

func newRawPipeline(ctx context.Context, logger commons.Logger, reg Registration, sess *session.Session, sink *session.TransportSink, peerInRate, peerOutRate int, peerLayout audioframe.ChannelLayout) (Pipeline, error) {
	h := reg.Handler()
	if err := handler.ValidateFormat(h.Format()); err != nil {
		return nil, fmt.Errorf("app: raw pipeline: %w", err)
	}
	c, err := codec.New(logger, peerInRate, peerOutRate, h.Format())
	if err != nil {
		return nil, fmt.Errorf("app: raw pipeline: %w", err)
	}
	rt := handler.New(ctx, logger, sess.Bus, h)
	if err := rt.Start(); err != nil {
		return nil, fmt.Errorf("app: raw pipeline: start handler: %w", err)
	}
	sess.Runtime = rt

	p := &rawPipeline{logger: logger, codec: c, runtime: rt, sink: sink, bus: sess.Bus, peerLayout: peerLayout}
	go p.pump(ctx)
	return p, nil
}

// pump relays the handler's Emit output into the outbound media sink. The
// raw Runtime already non-blocks Poll, so this just loops it into the
// session's transport queues through the frame codec.
func (p *rawPipeline) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		y, ok := p.runtime.Poll()
		if !ok {
			time.Sleep(pollBackoff)
			continue
		}
		switch y.Kind {
		case handler.YieldAudio:
			if y.Audio == nil {
				continue
			}
			frames, err := p.codec.EncodeOutbound(*y.Audio, p.peerLayout)
			if err != nil {
				p.logger.Warnw("outbound encode failed", "error", err.Error())
				continue
			}
			for _, f := range frames {
				p.sink.EmitAudio(f)
			}
		case handler.YieldVideo:
			if y.Video != nil {
				p.sink.EmitVideo(*y.Video)
			}
		case handler.YieldExtra:
			p.sink.EmitExtra(y.Extra)
		}
	}
}

func (p *rawPipeline) FeedAudio(ctx context.Context, frame audioframe.AudioFrame) error {
	decoded, ctrl := p.codec.DecodeInbound(frame, frame.SampleRate)
	if ctrl != nil {
		// Shape/rate error or a sample-rate-change warning: report on the
		// control channel and drop this frame; the session stays live
		// (spec §4.1 Errors).
		p.bus.Send(ctrl)
	}
	if decoded == nil {
		return nil
	}
	p.runtime.Receive(*decoded)
	return nil
}

func (p *rawPipeline) FeedVideo(ctx context.Context, frame audioframe.VideoFrame) error {
	// Inbound video is not delivered to raw handlers: the frame is
	// discarded and no error is reported.
	return nil
}

func (p *rawPipeline) PollAudio() (audioframe.AudioFrame, bool) { return p.sink.PollAudio() }
func (p *rawPipeline) PollVideo() (audioframe.VideoFrame, bool) { return p.sink.PollVideo() }

func (p *rawPipeline) Shutdown() {
	if err := p.runtime.Shutdown(); err != nil {
		p.logger.Warnw("raw pipeline shutdown error", "error", err.Error())
	}
	if flushed := p.codec.FlushOutbound(p.peerLayout); flushed != nil {
		p.sink.EmitAudio(*flushed)
	}
}

// ---------------------------------------------------------------------------
// Turn-taking pipeline (C1 + C2 + C3 + C5)
// ---------------------------------------------------------------------------

type turnTakingPipeline struct {
	logger commons.Logger
	engine *turntaking.Engine
	sink   *session.TransportSink
	ttSink *turnTakingSink

	inResampler *resampler.Resampler // peerInRate -> vad.NativeSampleRate mono
}

// turnTakingSink adapts a *session.TransportSink to turntaking.Sink,
// routing every emitted audio frame through a persistent outbound Frame
// Codec (C1) so resampler state and the re-framer's carried tail survive
// across an entire turn's yields, not just within one (spec §4.1:
// "Resampler state is per-direction and per-session; must survive across
// frames without clicks"). EmitVideo/EmitExtra pass straight through via
// the embedded TransportSink.
type turnTakingSink struct {
	*session.TransportSink

	mu         sync.Mutex
	codec      *codec.AudioCodec
	peerLayout audioframe.ChannelLayout
	logger     commons.Logger
}

func newTurnTakingSink(logger commons.Logger, transport *session.TransportSink, c *codec.AudioCodec, peerLayout audioframe.ChannelLayout) *turnTakingSink {
	return &turnTakingSink{TransportSink: transport, codec: c, peerLayout: peerLayout, logger: logger}
}

func (s *turnTakingSink) EmitAudio(frame audioframe.AudioFrame) {
	s.mu.Lock()
	frames, err := s.codec.EncodeOutbound(frame, s.peerLayout)
	s.mu.Unlock()
	if err != nil {
		s.logger.Warnw("turn-taking pipeline: outbound encode failed", "error", err.Error())
		return
	}
	for _, f := range frames {
		s.TransportSink.EmitAudio(f)
	}
}

// Flush implements turntaking.Sink: pads any in-flight re-framer tail
// with silence up to a frame boundary and emits it (spec §4.4 barge-in
// and stream-end flush behavior).
func (s *turnTakingSink) Flush() {
	s.mu.Lock()
	flushed := s.codec.FlushOutbound(s.peerLayout)
	s.mu.Unlock()
	if flushed != nil {
		s.TransportSink.EmitAudio(*flushed)
	}
}

func newTurnTakingPipeline(ctx context.Context, logger commons.Logger, reg Registration, engines Engines, sess *session.Session, sink *session.TransportSink, peerInRate, peerOutRate int, peerLayout audioframe.ChannelLayout) (Pipeline, error) {
	gate := vad.NewGate(logger, engines.VAD, reg.VADConfig)

	var detector *stopword.Detector
	if reg.Mode == turntaking.ModeReplyOnStopwords {
		if engines.Transcriber == nil {
			return nil, fmt.Errorf("app: ReplyOnStopwords registered without a transcriber")
		}
		detector = stopword.NewDetector(logger, engines.Transcriber, reg.StopwordConfig)
	}

	// The generator's own output rate is declared per-yield, not known
	// up front; EncodeOutbound reinitialises its resampler on the first
	// call and on any later mid-turn rate change, so the initial rate
	// here is just a placeholder (mirrors DecodeInbound's rate-change
	// path in internal/audio/codec).
	outFrameSamples := peerOutRate * outboundFrameMs / 1000
	outFormat := codec.HandlerAudioFormat{
		InputSampleRate:    peerOutRate,
		OutputSampleRate:   peerOutRate,
		OutputFrameSamples: outFrameSamples,
		ChannelLayout:      peerLayout,
	}
	outCodec, err := codec.New(logger, peerOutRate, peerOutRate, outFormat)
	if err != nil {
		return nil, fmt.Errorf("app: turn-taking pipeline: outbound codec: %w", err)
	}
	ttSink := newTurnTakingSink(logger, sink, outCodec, peerLayout)

	engine, err := turntaking.New(logger, reg.Mode, gate, detector, reg.Generator, sess.Inputs, ttSink, sess.Bus)
	if err != nil {
		return nil, fmt.Errorf("app: turn-taking pipeline: %w", err)
	}

	inR, err := resampler.New(peerInRate, vad.NativeSampleRate)
	if err != nil {
		return nil, fmt.Errorf("app: turn-taking pipeline: inbound resampler: %w", err)
	}

	return &turnTakingPipeline{
		logger:      logger,
		engine:      engine,
		sink:        sink,
		ttSink:      ttSink,
		inResampler: inR,
	}, nil
}

func (p *turnTakingPipeline) FeedAudio(ctx context.Context, frame audioframe.AudioFrame) error {
	if err := frame.Validate(); err != nil {
		return fmt.Errorf("app: turn-taking pipeline: %w", err)
	}
	mono := resampler.ConvertLayout(frame.Samples, frame.Channels, audioframe.Mono)
	pcm16k, err := p.inResampler.Resample(mono)
	if err != nil {
		return fmt.Errorf("app: turn-taking pipeline: resample: %w", err)
	}
	return p.engine.Feed(ctx, pcm16k)
}

func (p *turnTakingPipeline) FeedVideo(ctx context.Context, frame audioframe.VideoFrame) error {
	return nil
}

// PollAudio drains frames already resampled, re-framed, and laid out for
// the peer by the turnTakingSink's persistent outbound codec (see
// newTurnTakingSink); no further conversion is needed here.
func (p *turnTakingPipeline) PollAudio() (audioframe.AudioFrame, bool) {
	return p.sink.PollAudio()
}

func (p *turnTakingPipeline) PollVideo() (audioframe.VideoFrame, bool) { return p.sink.PollVideo() }

func (p *turnTakingPipeline) Shutdown() {
	// Shutdown() only flushes when a generator was cancelled mid-response
	// (spec §4.4 truncation warning); flush unconditionally here too so a
	// tail carried from a normally-completed turn is still padded and
	// emitted at session end (spec §4.1).
	p.engine.Shutdown()
	p.ttSink.Flush()
}
