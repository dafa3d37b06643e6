package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/loqa-vote/internal/intent"
)

type ollamaClassifier struct {
	endpoint string
	model    string
	client   *http.Client
}

func NewOllama(endpoint, model string, timeout time.Duration) Classifier {
	if model == "" {
		model = "llama3.2:latest"
	}
	return &ollamaClassifier{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Format  string        `json:"format,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type verdict struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

func (c *ollamaClassifier) Classify(ctx context.Context, text string) (intent.Result, error) {
	payload := ollamaRequest{
		Model:   c.model,
		Prompt:  text,
		System:  systemPrompt,
		Format:  "json",
		Stream:  false,
		Options: ollamaOptions{Temperature: 0},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return intent.Unavailable, unavailable(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return intent.Unavailable, unavailable(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return intent.Unavailable, unavailable(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return intent.Unavailable, unavailable(fmt.Errorf("ollama returned status %s", resp.Status))
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return intent.Unavailable, unavailable(fmt.Errorf("decode ollama response: %w", err))
	}
	return decodeVerdict([]byte(out.Response))
}

func decodeVerdict(raw []byte) (intent.Result, error) {
	var v verdict
	if err := json.Unmarshal(bytes.TrimSpace(raw), &v); err != nil {
		return intent.Unavailable, unavailable(fmt.Errorf("decode verdict: %w", err))
	}
	return intent.Result{Intent: intent.Intent(v.Intent), Confidence: v.Confidence}.Normalize(), nil
}
