package stt

import (
	"context"
	"strings"
	"unicode/utf8"
)

type mockRecognizer struct{}

// NewMockRecognizer returns a recognizer that treats the audio payload as
// UTF-8 text, which lets local clients and tests send utterances directly.
func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(ctx context.Context, pcm []byte, _ int, _ int) (TranscriptResult, error) {
	if err := ctx.Err(); err != nil {
		return TranscriptResult{}, err
	}
	if !utf8.Valid(pcm) {
		return TranscriptResult{}, nil
	}
	return TranscriptResult{Text: strings.TrimSpace(string(pcm)), Confidence: 1}, nil
}
