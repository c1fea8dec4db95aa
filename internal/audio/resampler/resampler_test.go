package resampler

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnrtc/turnrtc/internal/audioframe"
)

func rms(samples []int16) float64 {
	var sumSq float64
	for _, s := range samples {
		sumSq += float64(s) * float64(s)
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}

func sineWave(sampleRate, hz int, seconds float64, amplitude int16) []int16 {
	n := int(float64(sampleRate) * seconds)
	out := make([]int16, n)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		out[i] = int16(float64(amplitude) * math.Sin(2*math.Pi*float64(hz)*t))
	}
	return out
}

// TestResample_RoundTripPreservesRMS covers the spec §8 testable property:
// "resampling mono 16 kHz -> 48 kHz -> 16 kHz over a 1-second window
// preserves RMS to within 1%."
func TestResample_RoundTripPreservesRMS(t *testing.T) {
	original := sineWave(16000, 440, 1.0, 10000)
	originalRMS := rms(original)

	up, err := New(16000, 48000)
	require.NoError(t, err)
	upsampled, err := up.Resample(original)
	require.NoError(t, err)

	down, err := New(48000, 16000)
	require.NoError(t, err)
	roundTripped, err := down.Resample(upsampled)
	require.NoError(t, err)

	roundTripRMS := rms(roundTripped)
	tolerance := originalRMS * 0.01
	assert.InDelta(t, originalRMS, roundTripRMS, tolerance,
		"round-trip RMS drifted more than 1%%: original=%.2f roundtrip=%.2f", originalRMS, roundTripRMS)
}

func TestResample_EqualRatesIsPassthrough(t *testing.T) {
	r, err := New(16000, 16000)
	require.NoError(t, err)
	in := []int16{1, 2, 3, -4, 5}
	out, err := r.Resample(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestResample_RejectsInvalidRates(t *testing.T) {
	_, err := New(0, 16000)
	assert.Error(t, err)
	_, err = New(16000, -1)
	assert.Error(t, err)
}

func TestConvertLayout_DownmixAveragesChannels(t *testing.T) {
	stereo := []int16{100, 200, -100, -200}
	mono := ConvertLayout(stereo, audioframe.Stereo, audioframe.Mono)
	assert.Equal(t, []int16{150, -150}, mono)
}

func TestConvertLayout_UpmixDuplicates(t *testing.T) {
	mono := []int16{10, -10}
	stereo := ConvertLayout(mono, audioframe.Mono, audioframe.Stereo)
	assert.Equal(t, []int16{10, 10, -10, -10}, stereo)
}

func TestConvertLayout_SameLayoutCopies(t *testing.T) {
	mono := []int16{1, 2, 3}
	out := ConvertLayout(mono, audioframe.Mono, audioframe.Mono)
	assert.Equal(t, mono, out)
	out[0] = 99
	assert.Equal(t, int16(1), mono[0], "ConvertLayout must return a copy, not an alias")
}
