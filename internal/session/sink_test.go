package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnrtc/turnrtc/internal/audioframe"
	"github.com/turnrtc/turnrtc/internal/control"
)

func TestTransportSink_EmitAudio_DropsOldestOnOverflow(t *testing.T) {
	bus := control.NewBus(testLogger())
	defer bus.Close()
	sink := NewTransportSink(1, NewOutputQueue(4, bus))

	first := audioframe.AudioFrame{SampleRate: 16000, Channels: audioframe.Mono, Samples: []int16{1}}
	second := audioframe.AudioFrame{SampleRate: 16000, Channels: audioframe.Mono, Samples: []int16{2}}

	sink.EmitAudio(first)
	sink.EmitAudio(second) // queue capacity 1: should drop "first"

	got, ok := sink.PollAudio()
	require.True(t, ok)
	assert.Equal(t, second, got)

	_, ok = sink.PollAudio()
	assert.False(t, ok)
}

func TestTransportSink_EmitExtra_PushesToOutputQueue(t *testing.T) {
	bus := control.NewBus(testLogger())
	defer bus.Close()
	q := NewOutputQueue(4, bus)
	sink := NewTransportSink(4, q)

	sink.EmitExtra([]any{"hello"})

	v, ok := q.PopOldest()
	require.True(t, ok)
	assert.Equal(t, []any{"hello"}, v)
}

func TestTransportSink_PollVideo_EmptyByDefault(t *testing.T) {
	bus := control.NewBus(testLogger())
	defer bus.Close()
	sink := NewTransportSink(4, NewOutputQueue(4, bus))

	_, ok := sink.PollVideo()
	assert.False(t, ok)
}
