// Package classifier provides semantic intent classification backends.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-vote/internal/config"
	"github.com/loqalabs/loqa-vote/internal/intent"
)

// ErrUnavailable wraps every classifier failure, including timeouts.
var ErrUnavailable = errors.New("semantic classifier unavailable")

// Classifier estimates the vote intent of a transcript.
type Classifier interface {
	Classify(ctx context.Context, text string) (intent.Result, error)
}

const systemPrompt = `Analyze the following text and determine if it's a 'yes' or 'no' vote. ` +
	`Respond with JSON only in format: {"intent": "yes|no|unclear", "confidence": 0-1}`

// New builds the backend named by cfg.Mode.
func New(cfg config.ClassifierConfig) (Classifier, error) {
	switch cfg.Mode {
	case "mock":
		return NewMock(intent.Result{Intent: intent.Parse(cfg.MockIntent), Confidence: cfg.MockScore}), nil
	case "ollama":
		return NewOllama(cfg.Endpoint, cfg.Model, time.Duration(cfg.TimeoutMS)*time.Millisecond), nil
	case "exec":
		return NewExec(cfg.Command)
	case "disabled", "":
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unsupported classifier mode %q", cfg.Mode)
	}
}

// Disabled always reports the classifier as unavailable, leaving fusion to
// the lexical scorer.
type Disabled struct{}

func (Disabled) Classify(context.Context, string) (intent.Result, error) {
	return intent.Unavailable, fmt.Errorf("%w: disabled", ErrUnavailable)
}

func unavailable(err error) error {
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
