// Copyright (c) 2026 TurnRTC Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// see LICENSE for details.

// Package mulaw wraps github.com/zaf/g711 for the telephone bridge: PSTN
// carriers send/receive G.711 mu-law at 8kHz, while the rest of the
// pipeline speaks linear PCM16.
package mulaw

import (
	"encoding/binary"

	"github.com/zaf/g711"
)

// SampleRate is the fixed PSTN mu-law rate (spec §4.8 telephone bridge).
const SampleRate = 8000

// Decode converts a mu-law byte stream into PCM16 mono samples.
func Decode(ulaw []byte) []int16 {
	lpcm := g711.DecodeUlaw(ulaw)
	samples := make([]int16, len(lpcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(lpcm[i*2:]))
	}
	return samples
}

// Encode converts PCM16 mono samples into a mu-law byte stream.
func Encode(pcm []int16) []byte {
	lpcm := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(lpcm[i*2:], uint16(s))
	}
	return g711.EncodeUlaw(lpcm)
}
