package stopword

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnrtc/turnrtc/internal/commons"
)

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, pcm []int16) (string, error) {
	return f.text, f.err
}

func testConfig(words ...string) Config {
	return Config{StopwordWindow: 2 * time.Second, StopWords: words}
}

func TestDetector_MatchesSingleToken(t *testing.T) {
	d := NewDetector(commons.NewNopLogger(), &fakeTranscriber{text: "Hey, Computer!"}, testConfig("computer"))
	d.Feed(make([]int16, 100))

	matched, ok, err := d.CheckEndOfChunk(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "computer", matched)
}

func TestDetector_NoMatch(t *testing.T) {
	d := NewDetector(commons.NewNopLogger(), &fakeTranscriber{text: "just some chatter"}, testConfig("computer"))
	d.Feed(make([]int16, 100))

	_, ok, err := d.CheckEndOfChunk(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDetector_TwoTokenEntryRequiresBoth(t *testing.T) {
	d := NewDetector(commons.NewNopLogger(), &fakeTranscriber{text: "okay computer please"}, testConfig("hey computer"))
	d.Feed(make([]int16, 100))

	_, ok, err := d.CheckEndOfChunk(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "both tokens of a two-token entry must be present")
}

func TestDetector_TwoTokenEntryMatchesWhenBothPresent(t *testing.T) {
	d := NewDetector(commons.NewNopLogger(), &fakeTranscriber{text: "hey there computer"}, testConfig("hey computer"))
	d.Feed(make([]int16, 100))

	matched, ok, err := d.CheckEndOfChunk(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hey computer", matched)
}

func TestDetector_EmptyBufferNoMatch(t *testing.T) {
	d := NewDetector(commons.NewNopLogger(), &fakeTranscriber{text: "computer"}, testConfig("computer"))
	_, ok, err := d.CheckEndOfChunk(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "an empty ring buffer must never call the transcriber")
}

func TestDetector_RingBufferDropsOldestBeyondWindow(t *testing.T) {
	d := NewDetector(commons.NewNopLogger(), &fakeTranscriber{text: "computer"}, testConfig("computer"))
	maxSamples := d.maxSamples

	d.Feed(make([]int16, maxSamples))
	assert.Equal(t, maxSamples, len(d.ring))

	d.Feed(make([]int16, 100))
	assert.Equal(t, maxSamples, len(d.ring), "ring buffer must stay bounded to the configured window")
}

func TestDetector_Reset(t *testing.T) {
	d := NewDetector(commons.NewNopLogger(), &fakeTranscriber{text: "computer"}, testConfig("computer"))
	d.Feed(make([]int16, 100))
	require.NotEmpty(t, d.ring)
	d.Reset()
	assert.Empty(t, d.ring)
}

func TestNormalize_LowercasesAndStripsPunctuation(t *testing.T) {
	assert.Equal(t, "hey computer please", normalize("Hey, Computer!! please."))
}
