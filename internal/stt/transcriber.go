package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loqalabs/loqa-vote/internal/config"
)

// ErrTranscriptionFailed is returned when the recognizer errors or hears nothing.
var ErrTranscriptionFailed = errors.New("transcription failed")

// Transcriber turns a complete utterance into text.
type Transcriber struct {
	recognizer Recognizer
	sampleRate int
	channels   int
	timeout    time.Duration
}

func NewTranscriber(recognizer Recognizer, cfg config.STTConfig) *Transcriber {
	return &Transcriber{
		recognizer: recognizer,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		timeout:    time.Duration(cfg.TimeoutMS) * time.Millisecond,
	}
}

// NewRecognizer builds the backend named by cfg.Mode.
func NewRecognizer(cfg config.STTConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "exec":
		return NewExecRecognizer(cfg)
	case "mock", "":
		return NewMockRecognizer(), nil
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
}

func (t *Transcriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("%w: empty audio", ErrTranscriptionFailed)
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	result, err := t.recognizer.Transcribe(ctx, audio, t.sampleRate, t.channels)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	text := strings.TrimSpace(result.Text)
	if text == "" {
		return "", fmt.Errorf("%w: no speech recognized", ErrTranscriptionFailed)
	}
	return text, nil
}
