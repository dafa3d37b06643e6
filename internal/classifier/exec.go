package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/loqalabs/loqa-vote/internal/intent"
	"github.com/mattn/go-shellwords"
)

// execClassifier pipes {"text", "system"} to a command and reads a verdict
// {"intent", "confidence"} from its stdout.
type execClassifier struct {
	cmd []string
}

func NewExec(command string) (Classifier, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse classifier command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("classifier command empty")
	}
	return &execClassifier{cmd: args}, nil
}

func (c *execClassifier) Classify(ctx context.Context, text string) (intent.Result, error) {
	input, err := json.Marshal(map[string]string{
		"text":   text,
		"system": systemPrompt,
	})
	if err != nil {
		return intent.Unavailable, unavailable(err)
	}

	cmd := exec.CommandContext(ctx, c.cmd[0], c.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		return intent.Unavailable, unavailable(fmt.Errorf("classifier command failed: %w", err))
	}
	return decodeVerdict(output)
}
