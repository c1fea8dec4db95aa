package turntaking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnrtc/turnrtc/internal/audioframe"
	"github.com/turnrtc/turnrtc/internal/commons"
	"github.com/turnrtc/turnrtc/internal/control"
	"github.com/turnrtc/turnrtc/internal/handler"
	"github.com/turnrtc/turnrtc/internal/session"
	"github.com/turnrtc/turnrtc/internal/stopword"
	"github.com/turnrtc/turnrtc/internal/vad"
)

// scriptedVAD drives vad.Gate with a fixed sequence of speech-duration
// scores, one per window, so tests can assemble an exact scenario from
// spec §8 without a real speech model.
type scriptedVAD struct {
	scores []float64
	i      int
}

func (e *scriptedVAD) Score(pcm []int16) (vad.Result, error) {
	if e.i >= len(e.scores) {
		return vad.Result{SpeechSeconds: e.scores[len(e.scores)-1]}, nil
	}
	s := e.scores[e.i]
	e.i++
	return vad.Result{SpeechSeconds: s}, nil
}
func (e *scriptedVAD) Reset() error { return nil }
func (e *scriptedVAD) Close() error { return nil }

// matchingTranscriber always reports a fixed transcript, used to drive the
// stopword path deterministically.
type matchingTranscriber struct {
	text string
}

func (t *matchingTranscriber) Transcribe(ctx context.Context, pcm []int16) (string, error) {
	return t.text, nil
}

// fakeSink records every relayed item in order.
type fakeSink struct {
	mu      sync.Mutex
	audio   []audioframe.AudioFrame
	extra   [][]any
	flushes int
}

func (s *fakeSink) EmitAudio(f audioframe.AudioFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, f)
}
func (s *fakeSink) EmitVideo(audioframe.VideoFrame) {}
func (s *fakeSink) EmitExtra(values []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extra = append(s.extra, values)
}
func (s *fakeSink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
}
func (s *fakeSink) audioCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audio)
}
func (s *fakeSink) flushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

func busMessages(bus *control.Bus) (<-chan *control.Message, func()) {
	out := make(chan *control.Message, 64)
	done := make(chan struct{})
	go func() {
		bus.Deliver(func(msg *control.Message) error {
			select {
			case out <- msg:
			default:
			}
			return nil
		})
		close(done)
	}()
	return out, func() { bus.Close(); <-done }
}

// twoFrameGenerator yields exactly two audio frames and returns, per spec
// §8 scenario 2.
func twoFrameGenerator(blockUntilCancel bool) Generator {
	return func(ctx context.Context, utterance audioframe.AudioFrame, inputs []any) (<-chan handler.Yield, <-chan error) {
		yields := make(chan handler.Yield, 2)
		errs := make(chan error, 1)
		go func() {
			defer close(yields)
			defer close(errs)
			frame1 := audioframe.AudioFrame{SampleRate: 16000, Channels: audioframe.Mono, Samples: []int16{1}}
			frame2 := audioframe.AudioFrame{SampleRate: 16000, Channels: audioframe.Mono, Samples: []int16{2}}
			select {
			case yields <- handler.AudioYield(frame1):
			case <-ctx.Done():
				return
			}
			if blockUntilCancel {
				<-ctx.Done()
				return
			}
			select {
			case yields <- handler.AudioYield(frame2):
			case <-ctx.Done():
				return
			}
		}()
		return yields, errs
	}
}

func newPauseEngine(t *testing.T, gen Generator) (*Engine, *fakeSink, *scriptedVAD, <-chan *control.Message, func()) {
	t.Helper()
	cfg := vad.DefaultConfig()
	engine := &scriptedVAD{}
	gate := vad.NewGate(commons.NewNopLogger(), engine, cfg)
	inputs := session.NewInputSnapshot()
	sink := &fakeSink{}
	bus := control.NewBus(commons.NewNopLogger())
	msgs, closeBus := busMessages(bus)

	e, err := New(commons.NewNopLogger(), ModeReplyOnPause, gate, nil, gen, inputs, sink, bus)
	require.NoError(t, err)
	return e, sink, engine, msgs, closeBus
}

func windowOf(cfg vad.Config) int {
	return int(cfg.AudioChunkDuration.Seconds() * vad.NativeSampleRate)
}

// TestEngine_ReplyOnPause_SingleTurn covers spec §8 scenario 2.
func TestEngine_ReplyOnPause_SingleTurn(t *testing.T) {
	e, sink, vadEngine, msgs, closeBus := newPauseEngine(t, twoFrameGenerator(false))
	defer closeBus()
	vadEngine.scores = []float64{0.0, 0.3, 0.0}
	cfg := vad.DefaultConfig()
	n := windowOf(cfg)
	ctx := context.Background()

	require.NoError(t, e.Feed(ctx, make([]int16, n))) // silence -> CONTINUING
	assert.Equal(t, Listening, e.State())

	require.NoError(t, e.Feed(ctx, make([]int16, n))) // speech -> STARTED_TALKING
	assert.Equal(t, UserSpeaking, e.State())

	require.NoError(t, e.Feed(ctx, make([]int16, n))) // silence -> PAUSED, invokes generator

	var types []control.Type
	deadline := time.After(time.Second)
	for len(types) < 2 {
		select {
		case m := <-msgs:
			types = append(types, m.Type)
		case <-deadline:
			t.Fatalf("timed out waiting for controls, got %v", types)
		}
	}
	assert.Equal(t, []control.Type{control.TypePauseDetected, control.TypeResponseStarting}, types,
		"pause_detected must precede response_starting (spec §5 ordering)")

	assert.Eventually(t, func() bool { return sink.audioCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return e.State() == Listening }, time.Second, 5*time.Millisecond)
}

// TestEngine_BargeIn covers spec §8 scenario 3: a fresh speech burst during
// RESPONDING cancels the running generator; at most one more outbound
// frame from the original turn is delivered.
func TestEngine_BargeIn(t *testing.T) {
	e, sink, vadEngine, msgs, closeBus := newPauseEngine(t, twoFrameGenerator(true))
	defer closeBus()
	cfg := vad.DefaultConfig()
	n := windowOf(cfg)
	ctx := context.Background()

	vadEngine.scores = []float64{0.3}
	require.NoError(t, e.Feed(ctx, make([]int16, n))) // STARTED_TALKING
	vadEngine.scores = []float64{0.0}
	vadEngine.i = 0
	require.NoError(t, e.Feed(ctx, make([]int16, n))) // PAUSED -> invoke generator

	select {
	case m := <-msgs:
		assert.Equal(t, control.TypePauseDetected, m.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pause_detected")
	}
	assert.Eventually(t, func() bool { return sink.audioCount() >= 1 }, time.Second, 5*time.Millisecond,
		"the first frame must be observed before barge-in is injected")

	// Barge-in: a fresh burst arrives while RESPONDING.
	vadEngine.scores = []float64{0.3}
	vadEngine.i = 0
	require.NoError(t, e.Feed(ctx, make([]int16, n)))
	assert.Equal(t, UserSpeaking, e.State())

	time.Sleep(50 * time.Millisecond) // let the cancelled generator's goroutine settle
	assert.LessOrEqual(t, sink.audioCount(), 2, "at most one more frame may arrive after the barge-in")
	assert.Equal(t, 1, sink.flushCount(), "barge-in must flush the re-framer's in-flight tail exactly once")
}

// TestEngine_StopwordGating covers spec §8 scenario 4: ReplyOnStopwords only
// invokes the generator once the configured stop word is matched.
func TestEngine_StopwordGating(t *testing.T) {
	cfg := vad.DefaultConfig()
	n := windowOf(cfg)
	ctx := context.Background()

	t.Run("no match, no invocation", func(t *testing.T) {
		vadEngine := &scriptedVAD{scores: []float64{0.3, 0.0}}
		gate := vad.NewGate(commons.NewNopLogger(), vadEngine, cfg)
		detector := stopword.NewDetector(commons.NewNopLogger(), &matchingTranscriber{text: "just talking here"},
			stopword.Config{StopwordWindow: 2 * time.Second, StopWords: []string{"computer"}})
		sink := &fakeSink{}
		bus := control.NewBus(commons.NewNopLogger())
		msgs, closeBus := busMessages(bus)
		defer closeBus()

		invoked := false
		gen := func(ctx context.Context, utterance audioframe.AudioFrame, inputs []any) (<-chan handler.Yield, <-chan error) {
			invoked = true
			y := make(chan handler.Yield)
			er := make(chan error)
			close(y)
			close(er)
			return y, er
		}

		e, err := New(commons.NewNopLogger(), ModeReplyOnStopwords, gate, detector, gen, session.NewInputSnapshot(), sink, bus)
		require.NoError(t, err)

		require.NoError(t, e.Feed(ctx, make([]int16, n))) // STARTED_TALKING
		require.NoError(t, e.Feed(ctx, make([]int16, n))) // PAUSED, no stopword match

		time.Sleep(50 * time.Millisecond)
		assert.False(t, invoked, "generator must not be invoked without a stopword match")
		select {
		case m := <-msgs:
			t.Fatalf("unexpected control message %v without a match", m.Type)
		default:
		}
	})

	t.Run("match triggers stopword event then invocation", func(t *testing.T) {
		vadEngine := &scriptedVAD{scores: []float64{0.3, 0.0}}
		gate := vad.NewGate(commons.NewNopLogger(), vadEngine, cfg)
		detector := stopword.NewDetector(commons.NewNopLogger(), &matchingTranscriber{text: "hey computer please"},
			stopword.Config{StopwordWindow: 2 * time.Second, StopWords: []string{"computer"}})
		sink := &fakeSink{}
		bus := control.NewBus(commons.NewNopLogger())
		msgs, closeBus := busMessages(bus)
		defer closeBus()

		invoked := make(chan struct{}, 1)
		gen := func(ctx context.Context, utterance audioframe.AudioFrame, inputs []any) (<-chan handler.Yield, <-chan error) {
			invoked <- struct{}{}
			y := make(chan handler.Yield)
			er := make(chan error)
			close(y)
			close(er)
			return y, er
		}

		e, err := New(commons.NewNopLogger(), ModeReplyOnStopwords, gate, detector, gen, session.NewInputSnapshot(), sink, bus)
		require.NoError(t, err)

		require.NoError(t, e.Feed(ctx, make([]int16, n))) // STARTED_TALKING
		require.NoError(t, e.Feed(ctx, make([]int16, n))) // PAUSED, stopword matched

		var sawStopword bool
		deadline := time.After(time.Second)
		for !sawStopword {
			select {
			case m := <-msgs:
				if m.Type == control.TypeStopword {
					sawStopword = true
					assert.Equal(t, "computer", m.Data)
				}
			case <-deadline:
				t.Fatal("timed out waiting for stopword control message")
			}
		}

		select {
		case <-invoked:
		case <-time.After(time.Second):
			t.Fatal("generator was never invoked after stopword match")
		}
	})
}
