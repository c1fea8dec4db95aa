package vad

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedEngine returns a fixed sequence of speech-duration scores, one per
// Score call, so Gate's state machine can be driven deterministically
// without a real Silero model.
type scriptedEngine struct {
	scores []float64
	calls  int
}

func (e *scriptedEngine) Score(pcm []int16) (Result, error) {
	if e.calls >= len(e.scores) {
		return Result{SpeechSeconds: e.scores[len(e.scores)-1]}, nil
	}
	s := e.scores[e.calls]
	e.calls++
	return Result{SpeechSeconds: s}, nil
}

func (e *scriptedEngine) Reset() error { return nil }
func (e *scriptedEngine) Close() error { return nil }

func chunk(n int) []int16 {
	return make([]int16, n)
}

func TestGate_IdleStaysIdleBelowThreshold(t *testing.T) {
	cfg := DefaultConfig()
	g := NewGate(nil, &scriptedEngine{scores: []float64{0.1}}, cfg)
	windowSamples := int(cfg.AudioChunkDuration.Seconds() * NativeSampleRate)

	evt, err := g.Feed(chunk(windowSamples))
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, Continuing, evt.Kind)
}

func TestGate_StartedTalkingAboveThreshold(t *testing.T) {
	cfg := DefaultConfig()
	g := NewGate(nil, &scriptedEngine{scores: []float64{0.3}}, cfg)
	windowSamples := int(cfg.AudioChunkDuration.Seconds() * NativeSampleRate)

	evt, err := g.Feed(chunk(windowSamples))
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, StartedTalking, evt.Kind)
}

func TestGate_ExactlyAtStartedThreshold_IsNonTriggering(t *testing.T) {
	cfg := DefaultConfig()
	g := NewGate(nil, &scriptedEngine{scores: []float64{cfg.StartedTalkingThreshold.Seconds()}}, cfg)
	windowSamples := int(cfg.AudioChunkDuration.Seconds() * NativeSampleRate)

	evt, err := g.Feed(chunk(windowSamples))
	require.NoError(t, err)
	assert.Equal(t, Continuing, evt.Kind, "equal to started_talking_threshold is the non-triggering side")
}

func TestGate_ExactlyAtSpeechThreshold_TriggersPause(t *testing.T) {
	cfg := DefaultConfig()
	engine := &scriptedEngine{scores: []float64{0.3, cfg.SpeechThreshold.Seconds()}}
	g := NewGate(nil, engine, cfg)
	windowSamples := int(cfg.AudioChunkDuration.Seconds() * NativeSampleRate)

	started, err := g.Feed(chunk(windowSamples))
	require.NoError(t, err)
	require.Equal(t, StartedTalking, started.Kind)

	paused, err := g.Feed(chunk(windowSamples))
	require.NoError(t, err)
	assert.Equal(t, Paused, paused.Kind, "equal to speech_threshold is the triggering side for paused")
}

func TestGate_FullUtteranceLifecycle(t *testing.T) {
	cfg := DefaultConfig()
	// silence, speech, speech, silence: started -> continuing -> paused.
	engine := &scriptedEngine{scores: []float64{0.0, 0.3, 0.3, 0.0}}
	g := NewGate(nil, engine, cfg)
	windowSamples := int(cfg.AudioChunkDuration.Seconds() * NativeSampleRate)

	evt, err := g.Feed(chunk(windowSamples))
	require.NoError(t, err)
	assert.Equal(t, Continuing, evt.Kind)

	evt, err = g.Feed(chunk(windowSamples))
	require.NoError(t, err)
	assert.Equal(t, StartedTalking, evt.Kind)

	evt, err = g.Feed(chunk(windowSamples))
	require.NoError(t, err)
	assert.Equal(t, Continuing, evt.Kind)

	evt, err = g.Feed(chunk(windowSamples))
	require.NoError(t, err)
	require.Equal(t, Paused, evt.Kind)
	// Utterance spans from start-of-speech (window 2) through end-of-window
	// (window 4): three windows' worth of samples.
	assert.Equal(t, windowSamples*3, len(evt.Utterance))
}

func TestGate_NoEventUntilWindowFills(t *testing.T) {
	cfg := DefaultConfig()
	g := NewGate(nil, &scriptedEngine{scores: []float64{0.3}}, cfg)
	windowSamples := int(cfg.AudioChunkDuration.Seconds() * NativeSampleRate)

	evt, err := g.Feed(chunk(windowSamples / 2))
	require.NoError(t, err)
	assert.Nil(t, evt, "a partial window must not yet produce a decision")
}

func TestGate_Reset(t *testing.T) {
	cfg := DefaultConfig()
	g := NewGate(nil, &scriptedEngine{scores: []float64{0.3}}, cfg)
	windowSamples := int(cfg.AudioChunkDuration.Seconds() * NativeSampleRate)
	_, err := g.Feed(chunk(windowSamples))
	require.NoError(t, err)
	require.Equal(t, stateSpeaking, g.st)

	g.Reset()
	assert.Equal(t, stateIdle, g.st)
	assert.Nil(t, g.window)
	assert.Nil(t, g.utterance)
}

func TestDefaultConfig_MatchesSpecDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 600*time.Millisecond, cfg.AudioChunkDuration)
	assert.Equal(t, 200*time.Millisecond, cfg.StartedTalkingThreshold)
	assert.Equal(t, 100*time.Millisecond, cfg.SpeechThreshold)
}
