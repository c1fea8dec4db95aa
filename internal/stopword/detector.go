// Package stopword implements the spec §4.3 Stopword Detector (C3): a
// bounded ring buffer of recent speech, transcribed through a lightweight
// STT and matched against a configured stop-word list.
package stopword

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/turnrtc/turnrtc/internal/commons"
)

// NativeSampleRate matches the VAD's native rate (spec §4.3 "at 16 kHz").
const NativeSampleRate = 16000

// Transcriber is the pluggable lightweight STT used to recognize the
// recent speech window. Implementations wrap a vendor SDK (e.g.
// google.golang.org/genai) behind this single-method boundary, matching
// the teacher's internal/transformer/* adapter pattern of one interface
// per swappable vendor concern.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm16kHzMono []int16) (string, error)
}

// Config is the spec §4.3 enumerated configuration.
type Config struct {
	StopwordWindow time.Duration // default covers up to this many seconds of ring buffer
	StopWords      []string      // single tokens or "token1 token2" pairs
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9 ]+`)

// normalize lowercases and strips punctuation, per spec §4.3.
func normalize(s string) string {
	lower := strings.ToLower(s)
	stripped := nonAlnum.ReplaceAllString(lower, " ")
	return strings.Join(strings.Fields(stripped), " ")
}

// Detector accumulates speech audio while VAD reports activity and, at
// end-of-chunk, transcribes the buffered window and checks it against the
// configured stop-word list.
type Detector struct {
	logger      commons.Logger
	transcriber Transcriber
	cfg         Config

	ring       []int16
	maxSamples int
}

// NewDetector builds a Detector with an empty ring buffer sized to hold
// StopwordWindow seconds of 16kHz mono audio.
func NewDetector(logger commons.Logger, transcriber Transcriber, cfg Config) *Detector {
	return &Detector{
		logger:      logger,
		transcriber: transcriber,
		cfg:         cfg,
		maxSamples:  int(cfg.StopwordWindow.Seconds() * NativeSampleRate),
	}
}

// Feed appends speech audio while VAD reports activity. The ring buffer
// retains at most StopwordWindow seconds, dropping the oldest samples.
func (d *Detector) Feed(pcm []int16) {
	d.ring = append(d.ring, pcm...)
	if over := len(d.ring) - d.maxSamples; over > 0 {
		d.ring = d.ring[over:]
	}
}

// CheckEndOfChunk runs STT over the buffered window and reports the first
// matched stop-word entry, if any (spec §4.3). A two-token entry
// ("token1 token2") matches only if both tokens occur anywhere in the
// transcript of the buffered window, in any order. The distance between
// the two tokens is bounded only by the ring buffer's StopwordWindow; no
// separate 2-second span is checked.
func (d *Detector) CheckEndOfChunk(ctx context.Context) (matched string, ok bool, err error) {
	if len(d.ring) == 0 {
		return "", false, nil
	}
	text, err := d.transcriber.Transcribe(ctx, d.ring)
	if err != nil {
		return "", false, fmt.Errorf("stopword: transcribe: %w", err)
	}
	normalized := normalize(text)
	words := strings.Fields(normalized)
	present := make(map[string]bool, len(words))
	for _, w := range words {
		present[w] = true
	}

	for _, entry := range d.cfg.StopWords {
		tokens := strings.Fields(normalize(entry))
		if len(tokens) == 0 {
			continue
		}
		all := true
		for _, t := range tokens {
			if !present[t] {
				all = false
				break
			}
		}
		if all {
			return entry, true, nil
		}
	}
	return "", false, nil
}

// Reset clears the ring buffer, e.g. after a match or a new session.
func (d *Detector) Reset() {
	d.ring = nil
}

// WindowSamples returns the ring buffer's capacity in samples. The
// turn-taking engine uses this to clip the utterance handed to the
// generator down to the same trailing window that was actually
// transcribed and matched (spec §4.4: "the audio passed to the generator
// begins at the stopword match, not earlier").
func (d *Detector) WindowSamples() int {
	return d.maxSamples
}
