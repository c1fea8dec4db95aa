package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnrtc/turnrtc/internal/audioframe"
	"github.com/turnrtc/turnrtc/internal/commons"
)

func testFormat() HandlerAudioFormat {
	return HandlerAudioFormat{
		InputSampleRate:    16000,
		OutputSampleRate:   16000,
		OutputFrameSamples: 320,
		ChannelLayout:      audioframe.Mono,
	}
}

func TestAudioCodec_DecodeInboundRejectsBadShape(t *testing.T) {
	c, err := New(commons.NewNopLogger(), 16000, 16000, testFormat())
	require.NoError(t, err)

	bad := audioframe.AudioFrame{SampleRate: 16000, Channels: audioframe.Stereo, Samples: []int16{1, 2, 3}}
	frame, ctrl := c.DecodeInbound(bad, 16000)
	assert.Nil(t, frame)
	require.NotNil(t, ctrl)
}

func TestAudioCodec_DecodeInboundPassthroughSameRate(t *testing.T) {
	c, err := New(commons.NewNopLogger(), 16000, 16000, testFormat())
	require.NoError(t, err)

	in := audioframe.AudioFrame{SampleRate: 16000, Channels: audioframe.Mono, Samples: []int16{1, 2, 3, 4}}
	frame, ctrl := c.DecodeInbound(in, 16000)
	assert.Nil(t, ctrl)
	require.NotNil(t, frame)
	assert.Equal(t, []int16{1, 2, 3, 4}, frame.Samples)
	assert.Equal(t, 16000, frame.SampleRate)
}

func TestAudioCodec_DecodeInboundWarnsOnRateChange(t *testing.T) {
	c, err := New(commons.NewNopLogger(), 16000, 16000, testFormat())
	require.NoError(t, err)

	in := audioframe.AudioFrame{SampleRate: 48000, Channels: audioframe.Mono, Samples: make([]int16, 960)}
	frame, ctrl := c.DecodeInbound(in, 48000)
	assert.Nil(t, frame)
	require.NotNil(t, ctrl)
	assert.Equal(t, int(48000), c.inResampler.SrcRate(), "codec state must be reinitialised to the new rate")
}

func TestAudioCodec_EncodeOutboundAggregatesIntoFixedFrames(t *testing.T) {
	format := testFormat()
	format.OutputFrameSamples = 4
	c, err := New(commons.NewNopLogger(), 16000, 16000, format)
	require.NoError(t, err)

	// First call: 6 samples -> one full frame of 4, tail of 2.
	frames, err := c.EncodeOutbound(audioframe.AudioFrame{SampleRate: 16000, Channels: audioframe.Mono, Samples: []int16{1, 2, 3, 4, 5, 6}}, audioframe.Mono)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []int16{1, 2, 3, 4}, frames[0].Samples)

	// Second call: 2 more samples join the carried tail (2) -> one more full frame.
	frames, err = c.EncodeOutbound(audioframe.AudioFrame{SampleRate: 16000, Channels: audioframe.Mono, Samples: []int16{7, 8}}, audioframe.Mono)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []int16{5, 6, 7, 8}, frames[0].Samples)
}

func TestAudioCodec_FlushOutboundPadsTailWithZeros(t *testing.T) {
	format := testFormat()
	format.OutputFrameSamples = 4
	c, err := New(commons.NewNopLogger(), 16000, 16000, format)
	require.NoError(t, err)

	_, err = c.EncodeOutbound(audioframe.AudioFrame{SampleRate: 16000, Channels: audioframe.Mono, Samples: []int16{1, 2}}, audioframe.Mono)
	require.NoError(t, err)

	flushed := c.FlushOutbound(audioframe.Mono)
	require.NotNil(t, flushed)
	assert.Equal(t, []int16{1, 2, 0, 0}, flushed.Samples)

	assert.Nil(t, c.FlushOutbound(audioframe.Mono), "flush with no pending tail returns nil")
}

func TestAudioCodec_EncodeOutboundReinitsOnRateChange(t *testing.T) {
	format := testFormat()
	format.OutputFrameSamples = 4
	c, err := New(commons.NewNopLogger(), 16000, 16000, format)
	require.NoError(t, err)

	_, err = c.EncodeOutbound(audioframe.AudioFrame{SampleRate: 16000, Channels: audioframe.Mono, Samples: []int16{1, 2, 3, 4}}, audioframe.Mono)
	require.NoError(t, err)

	_, err = c.EncodeOutbound(audioframe.AudioFrame{SampleRate: 24000, Channels: audioframe.Mono, Samples: make([]int16, 8)}, audioframe.Mono)
	require.NoError(t, err)
	assert.Equal(t, 24000, c.outResampler.SrcRate(), "outbound resampler must reinit to the new source rate")
}

func TestDecodeInboundVideo_PassthroughSameLayout(t *testing.T) {
	frame := audioframe.VideoFrame{Width: 2, Height: 1, PixelLayout: audioframe.RGB24, Pixels: []byte{1, 2, 3, 4, 5, 6}}
	out, err := DecodeInboundVideo(frame, audioframe.RGB24)
	require.NoError(t, err)
	assert.Equal(t, frame.Pixels, out.Pixels)
}

func TestDecodeInboundVideo_ConvertsRGBtoBGR(t *testing.T) {
	frame := audioframe.VideoFrame{Width: 1, Height: 1, PixelLayout: audioframe.RGB24, Pixels: []byte{10, 20, 30}}
	out, err := DecodeInboundVideo(frame, audioframe.BGR24)
	require.NoError(t, err)
	assert.Equal(t, []byte{30, 20, 10}, out.Pixels)
}

func TestDecodeInboundVideo_RejectsBadShape(t *testing.T) {
	frame := audioframe.VideoFrame{Width: 2, Height: 2, PixelLayout: audioframe.RGB24, Pixels: []byte{1, 2, 3}}
	_, err := DecodeInboundVideo(frame, audioframe.RGB24)
	assert.Error(t, err)
}
