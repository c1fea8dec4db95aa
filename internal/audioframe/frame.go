// Package audioframe defines the wire-agnostic media types every other
// package exchanges: AudioFrame, VideoFrame and the channel layout/pixel
// layout enums from spec §3.
package audioframe

import "fmt"

// ChannelLayout is the declared channel arrangement a handler expects or
// produces.
type ChannelLayout int

const (
	Mono ChannelLayout = iota
	Stereo
)

func (l ChannelLayout) Channels() int {
	if l == Stereo {
		return 2
	}
	return 1
}

// AudioFrame is (sample_rate, samples int16[channels][N]) per spec §3.
// Samples is channel-interleaved: [ch0s0, ch1s0, ch0s1, ch1s1, ...] for
// Stereo, or a flat sequence for Mono.
type AudioFrame struct {
	SampleRate int
	Channels   ChannelLayout
	Samples    []int16
}

// SamplesPerChannel returns the number of samples per channel.
func (f AudioFrame) SamplesPerChannel() int {
	ch := f.Channels.Channels()
	if ch == 0 {
		return 0
	}
	return len(f.Samples) / ch
}

// Validate checks the shape invariant from spec §4.1: channel count must
// divide evenly into the declared layout.
func (f AudioFrame) Validate() error {
	ch := f.Channels.Channels()
	if ch <= 0 {
		return fmt.Errorf("audioframe: invalid channel layout %v", f.Channels)
	}
	if len(f.Samples)%ch != 0 {
		return fmt.Errorf("audioframe: %d samples not divisible by %d channels", len(f.Samples), ch)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("audioframe: invalid sample rate %d", f.SampleRate)
	}
	return nil
}

// Duration returns the frame's duration in seconds.
func (f AudioFrame) Duration() float64 {
	if f.SampleRate == 0 {
		return 0
	}
	return float64(f.SamplesPerChannel()) / float64(f.SampleRate)
}

// PixelLayout is the §3 VideoFrame pixel_layout enum.
type PixelLayout int

const (
	RGB24 PixelLayout = iota
	BGR24
	YUV420
)

// VideoFrame is (width, height, pixel_layout, pixels) per spec §3.
type VideoFrame struct {
	Width       int
	Height      int
	PixelLayout PixelLayout
	Pixels      []byte
}

// BytesPerPixel returns the packed bytes-per-pixel for RGB24/BGR24; YUV420
// is planar and does not have a fixed per-pixel stride, so callers must
// compute its expected size separately (Width*Height*3/2).
func (f VideoFrame) BytesPerPixel() int {
	switch f.PixelLayout {
	case RGB24, BGR24:
		return 3
	default:
		return 0
	}
}

// Validate checks the frame's pixel buffer matches its declared dimensions.
func (f VideoFrame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("videoframe: invalid dimensions %dx%d", f.Width, f.Height)
	}
	var want int
	switch f.PixelLayout {
	case RGB24, BGR24:
		want = f.Width * f.Height * 3
	case YUV420:
		want = f.Width * f.Height * 3 / 2
	default:
		return fmt.Errorf("videoframe: unknown pixel layout %v", f.PixelLayout)
	}
	if len(f.Pixels) != want {
		return fmt.Errorf("videoframe: expected %d bytes for %dx%d, got %d", want, f.Width, f.Height, len(f.Pixels))
	}
	return nil
}
