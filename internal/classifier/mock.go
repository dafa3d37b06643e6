package classifier

import (
	"context"

	"github.com/loqalabs/loqa-vote/internal/intent"
)

type mockClassifier struct {
	result intent.Result
}

// NewMock returns a classifier that answers every transcript with result.
func NewMock(result intent.Result) Classifier {
	return &mockClassifier{result: result.Normalize()}
}

func (m *mockClassifier) Classify(ctx context.Context, _ string) (intent.Result, error) {
	if err := ctx.Err(); err != nil {
		return intent.Unavailable, unavailable(err)
	}
	return m.result, nil
}
