// Copyright (c) 2026 TurnRTC Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// see LICENSE for details.

// Package resampler implements the band-limited resampling, channel
// downmix/upmix and re-framing that spec §4.1 (Frame Codec, C1) requires
// between peer-negotiated audio and handler-declared audio.
package resampler

import (
	"fmt"

	goresample "github.com/tphakala/go-audio-resampler"

	"github.com/turnrtc/turnrtc/internal/audioframe"
)

// Resampler converts PCM between sample rates, maintaining polyphase FIR
// filter state per direction so consecutive calls do not click at frame
// boundaries. One Resampler instance must be used for exactly one
// direction of exactly one session (per spec §4.1: "Resampler state is
// per-direction and per-session").
type Resampler struct {
	r          *goresample.Resampler
	srcRate    int
	dstRate    int
}

// New builds a Resampler for one direction between srcRate and dstRate.
// Equal rates are allowed and become a passthrough.
func New(srcRate, dstRate int) (*Resampler, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("resampler: invalid rates %d -> %d", srcRate, dstRate)
	}
	if srcRate == dstRate {
		return &Resampler{srcRate: srcRate, dstRate: dstRate}, nil
	}
	r, err := goresample.New(goresample.Config{
		InputSampleRate:  srcRate,
		OutputSampleRate: dstRate,
		Quality:          goresample.QualityMedium,
	})
	if err != nil {
		return nil, fmt.Errorf("resampler: init %d->%d: %w", srcRate, dstRate, err)
	}
	return &Resampler{r: r, srcRate: srcRate, dstRate: dstRate}, nil
}

// Resample converts a mono int16 buffer from srcRate to dstRate, carrying
// internal filter state across calls.
func (rs *Resampler) Resample(samples []int16) ([]int16, error) {
	if rs.r == nil {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out, nil
	}
	out, err := rs.r.Process(samples)
	if err != nil {
		return nil, fmt.Errorf("resampler: process: %w", err)
	}
	return out, nil
}

// Reset clears filter state. The frame codec does not call it on a
// sample-rate change; it builds a new Resampler for the new rate instead.
func (rs *Resampler) Reset() {
	if rs.r != nil {
		rs.r.Reset()
	}
}

// SrcRate returns the source sample rate this resampler was built for.
func (rs *Resampler) SrcRate() int { return rs.srcRate }

// DstRate returns the destination sample rate this resampler was built for.
func (rs *Resampler) DstRate() int { return rs.dstRate }

// Downmix averages interleaved stereo samples to mono.
func Downmix(stereo []int16) []int16 {
	mono := make([]int16, len(stereo)/2)
	for i := range mono {
		l, r := int32(stereo[2*i]), int32(stereo[2*i+1])
		mono[i] = int16((l + r) / 2)
	}
	return mono
}

// Upmix duplicates mono samples into interleaved stereo.
func Upmix(mono []int16) []int16 {
	stereo := make([]int16, len(mono)*2)
	for i, s := range mono {
		stereo[2*i] = s
		stereo[2*i+1] = s
	}
	return stereo
}

// ConvertLayout reshapes samples between the source and destination
// channel layouts declared for a frame, per spec §4.1.
func ConvertLayout(samples []int16, from, to audioframe.ChannelLayout) []int16 {
	switch {
	case from == to:
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	case from == audioframe.Stereo && to == audioframe.Mono:
		return Downmix(samples)
	default: // from == Mono, to == Stereo
		return Upmix(samples)
	}
}
