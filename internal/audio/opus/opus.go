// Copyright (c) 2026 TurnRTC Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// see LICENSE for details.

// Package opus wraps gopkg.in/hraban/opus.v2 for the WebRTC transport:
// decoding inbound RTP Opus payloads to PCM and encoding outbound PCM
// frames back to Opus for the local track.
package opus

import (
	"fmt"

	hopus "gopkg.in/hraban/opus.v2"
)

// SampleRate and Channels match the WebRTC Opus negotiation used
// throughout the signalling layer (48kHz, mono voice carried over a
// channels=2 RTP signal per RFC 7587).
const (
	SampleRate = 48000
	Channels   = 1
	FrameSize  = SampleRate / 50 // 20ms @ 48kHz
)

// Codec bundles one Decoder and one Encoder for a single peer connection.
// Pion's track API hands raw RTP payloads and wants raw samples back, so
// both directions are owned by the same struct for symmetry with how the
// frame codec pairs its resamplers.
type Codec struct {
	dec *hopus.Decoder
	enc *hopus.Encoder
}

// New builds a Codec tuned for real-time voice (VoIP application,
// moderate complexity to keep CPU use low under concurrent sessions).
func New() (*Codec, error) {
	dec, err := hopus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("opus: new decoder: %w", err)
	}
	enc, err := hopus.NewEncoder(SampleRate, Channels, hopus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus: new encoder: %w", err)
	}
	_ = enc.SetBitrate(32000)
	_ = enc.SetComplexity(6)
	_ = enc.SetInBandFEC(true)
	return &Codec{dec: dec, enc: enc}, nil
}

// Decode converts one Opus RTP payload into PCM16 mono samples.
func (c *Codec) Decode(payload []byte) ([]int16, error) {
	pcm := make([]int16, FrameSize)
	n, err := c.dec.Decode(payload, pcm)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return pcm[:n], nil
}

// Encode converts a 20ms PCM16 mono frame into an Opus payload, zero
// padding short frames so the encoder always sees a fixed frame size.
func (c *Codec) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) < FrameSize {
		padded := make([]int16, FrameSize)
		copy(padded, pcm)
		pcm = padded
	}
	data := make([]byte, 4000)
	n, err := c.enc.Encode(pcm, data)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return data[:n], nil
}
