// Copyright (c) 2026 TurnRTC Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// see LICENSE for details.

// Package codec implements the spec §4.1 Frame Codec (C1): resampling
// between peer and handler sample rates, stereo/mono conversion, and
// re-framing outbound samples into fixed-size handler frames with a
// carried tail.
package codec

import (
	"fmt"

	"github.com/turnrtc/turnrtc/internal/audio/resampler"
	"github.com/turnrtc/turnrtc/internal/audioframe"
	"github.com/turnrtc/turnrtc/internal/commons"
	"github.com/turnrtc/turnrtc/internal/control"
)

// HandlerAudioFormat is the handler's declared audio contract (spec §4.1 /
// §6): input_sample_rate, output_sample_rate, output_frame_samples,
// channel_layout.
type HandlerAudioFormat struct {
	InputSampleRate    int
	OutputSampleRate   int
	OutputFrameSamples int
	ChannelLayout      audioframe.ChannelLayout
}

// AudioCodec normalizes inbound peer audio to the handler's declared input
// format, and outbound handler audio back to the peer's negotiated format.
// One AudioCodec is owned by exactly one session for its whole life so
// resampler state never crosses sessions.
type AudioCodec struct {
	logger commons.Logger
	format HandlerAudioFormat

	peerInRate  int
	peerOutRate int

	inResampler  *resampler.Resampler
	outResampler *resampler.Resampler

	outTail []int16 // partial outbound frame carried to next Emit
}

// New builds an AudioCodec. peerInRate/peerOutRate are the sample rates
// negotiated with the transport (e.g. 48kHz for WebRTC Opus, 8kHz for the
// telephony mu-law bridge); format is the handler's declared contract.
func New(logger commons.Logger, peerInRate, peerOutRate int, format HandlerAudioFormat) (*AudioCodec, error) {
	inR, err := resampler.New(peerInRate, format.InputSampleRate)
	if err != nil {
		return nil, fmt.Errorf("codec: inbound resampler: %w", err)
	}
	outR, err := resampler.New(format.OutputSampleRate, peerOutRate)
	if err != nil {
		return nil, fmt.Errorf("codec: outbound resampler: %w", err)
	}
	return &AudioCodec{
		logger:      logger,
		format:      format,
		peerInRate:  peerInRate,
		peerOutRate: peerOutRate,
		inResampler: inR,
		outResampler: outR,
	}, nil
}

// DecodeInbound converts one peer frame into the handler's declared input
// format: resample, then downmix/upmix to the declared layout. Returns
// (nil, ctrl) with a non-nil control message on a shape error (spec §4.1
// Errors: "invalid shapes ... -> error control message, frame dropped").
func (c *AudioCodec) DecodeInbound(frame audioframe.AudioFrame, peerRate int) (*audioframe.AudioFrame, *control.Message) {
	if err := frame.Validate(); err != nil {
		return nil, control.NewError(fmt.Sprintf("frame codec: %v", err))
	}

	if peerRate != c.inResampler.SrcRate() {
		c.logger.Warnw("inbound sample rate changed mid-session, reinitialising codec state",
			"previous", c.inResampler.SrcRate(), "now", peerRate)
		newR, err := resampler.New(peerRate, c.format.InputSampleRate)
		if err != nil {
			return nil, control.NewError(fmt.Sprintf("frame codec: reinit resampler: %v", err))
		}
		c.inResampler = newR
		return nil, control.NewWarning("inbound sample rate changed, codec state reset")
	}

	mono := resampler.ConvertLayout(frame.Samples, frame.Channels, audioframe.Mono)
	resampled, err := c.inResampler.Resample(mono)
	if err != nil {
		return nil, control.NewError(fmt.Sprintf("frame codec: resample: %v", err))
	}
	out := resampler.ConvertLayout(resampled, audioframe.Mono, c.format.ChannelLayout)

	return &audioframe.AudioFrame{
		SampleRate: c.format.InputSampleRate,
		Channels:   c.format.ChannelLayout,
		Samples:    out,
	}, nil
}

// EncodeOutbound resamples one handler-produced frame to the peer's
// outbound rate/layout, aggregates it with any carried tail, and returns
// zero or more fixed-size OutputFrameSamples frames ready to send. Any
// remainder shorter than a full frame is kept in outTail for the next call.
// If frame.SampleRate differs from the previous call's (a rare
// renegotiation, or a turn-taking generator that changed rate between
// turns), the outbound resampler is re-initialised, mirroring
// DecodeInbound's rate-change handling.
func (c *AudioCodec) EncodeOutbound(frame audioframe.AudioFrame, peerLayout audioframe.ChannelLayout) ([]audioframe.AudioFrame, error) {
	if frame.SampleRate != c.outResampler.SrcRate() {
		newR, err := resampler.New(frame.SampleRate, c.peerOutRate)
		if err != nil {
			return nil, fmt.Errorf("frame codec: outbound reinit resampler: %w", err)
		}
		c.outResampler = newR
	}

	mono := resampler.ConvertLayout(frame.Samples, frame.Channels, audioframe.Mono)
	resampled, err := c.outResampler.Resample(mono)
	if err != nil {
		return nil, fmt.Errorf("frame codec: outbound resample: %w", err)
	}

	buf := append(c.outTail, resampled...)
	var frames []audioframe.AudioFrame
	n := c.format.OutputFrameSamples
	for len(buf) >= n {
		chunk := buf[:n]
		buf = buf[n:]
		laidOut := resampler.ConvertLayout(chunk, audioframe.Mono, peerLayout)
		frames = append(frames, audioframe.AudioFrame{
			SampleRate: c.peerOutRate,
			Channels:   peerLayout,
			Samples:    laidOut,
		})
	}
	c.outTail = buf
	return frames, nil
}

// FlushOutbound pads any carried tail to a full frame with zeros and
// returns it, per spec §4.1 "At session end the tail is padded with zeros
// and flushed." Returns nil if there is no pending tail.
func (c *AudioCodec) FlushOutbound(peerLayout audioframe.ChannelLayout) *audioframe.AudioFrame {
	if len(c.outTail) == 0 {
		return nil
	}
	n := c.format.OutputFrameSamples
	padded := make([]int16, n)
	copy(padded, c.outTail)
	c.outTail = nil
	laidOut := resampler.ConvertLayout(padded, audioframe.Mono, peerLayout)
	return &audioframe.AudioFrame{
		SampleRate: c.peerOutRate,
		Channels:   peerLayout,
		Samples:    laidOut,
	}
}

// DecodeInboundVideo passes a video frame through with pixel-layout
// conversion only; spec §4.1 "Video: no resize; passes through with
// pixel-layout conversion as needed."
func DecodeInboundVideo(frame audioframe.VideoFrame, want audioframe.PixelLayout) (audioframe.VideoFrame, error) {
	if err := frame.Validate(); err != nil {
		return audioframe.VideoFrame{}, err
	}
	if frame.PixelLayout == want {
		return frame, nil
	}
	converted, err := convertPixelLayout(frame, want)
	if err != nil {
		return audioframe.VideoFrame{}, err
	}
	return converted, nil
}

func convertPixelLayout(frame audioframe.VideoFrame, want audioframe.PixelLayout) (audioframe.VideoFrame, error) {
	switch {
	case frame.PixelLayout == audioframe.RGB24 && want == audioframe.BGR24,
		frame.PixelLayout == audioframe.BGR24 && want == audioframe.RGB24:
		out := make([]byte, len(frame.Pixels))
		for i := 0; i+2 < len(frame.Pixels); i += 3 {
			out[i], out[i+1], out[i+2] = frame.Pixels[i+2], frame.Pixels[i+1], frame.Pixels[i]
		}
		return audioframe.VideoFrame{Width: frame.Width, Height: frame.Height, PixelLayout: want, Pixels: out}, nil
	default:
		return audioframe.VideoFrame{}, fmt.Errorf("frame codec: unsupported pixel conversion %v -> %v", frame.PixelLayout, want)
	}
}
