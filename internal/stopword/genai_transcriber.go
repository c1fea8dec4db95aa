package stopword

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GenAITranscriber is the illustrative lightweight-STT Transcriber backed
// by google.golang.org/genai, filling the single pluggable STT slot the
// spec calls out as "treated as pluggable" (§1 Non-goals) — swap it for
// any vendor that can turn a 16kHz PCM clip into text.
type GenAITranscriber struct {
	client *genai.Client
	model  string
}

// NewGenAITranscriber builds a GenAITranscriber around an existing genai
// client (callers own its lifecycle — this package never constructs API
// credentials itself).
func NewGenAITranscriber(client *genai.Client, model string) *GenAITranscriber {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GenAITranscriber{client: client, model: model}
}

func (t *GenAITranscriber) Transcribe(ctx context.Context, pcm16kHzMono []int16) (string, error) {
	wav := encodeWAV(pcm16kHzMono, NativeSampleRate)
	parts := []*genai.Part{
		genai.NewPartFromBytes(wav, "audio/wav"),
		genai.NewPartFromText("Transcribe the speech in this clip. Return only the words spoken, lowercase, no punctuation."),
	}
	resp, err := t.client.Models.GenerateContent(ctx, t.model, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, nil)
	if err != nil {
		return "", fmt.Errorf("stopword: genai transcribe: %w", err)
	}
	return resp.Text(), nil
}

// encodeWAV wraps raw PCM16 mono samples in a minimal WAV container so the
// model receives a self-describing audio payload.
func encodeWAV(samples []int16, sampleRate int) []byte {
	dataSize := len(samples) * 2
	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	putU32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	putU32(buf[16:20], 16)
	putU16(buf[20:22], 1) // PCM
	putU16(buf[22:24], 1) // mono
	putU32(buf[24:28], uint32(sampleRate))
	putU32(buf[28:32], uint32(sampleRate*2))
	putU16(buf[32:34], 2)
	putU16(buf[34:36], 16)
	copy(buf[36:40], "data")
	putU32(buf[40:44], uint32(dataSize))

	for i, s := range samples {
		putU16(buf[44+i*2:46+i*2], uint16(s))
	}
	return buf
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}
