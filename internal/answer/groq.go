package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/archivelab/shinbun/internal/config"
	"github.com/archivelab/shinbun/internal/models"
)

const (
	defaultGroqEndpoint = "https://api.groq.com/openai/v1/chat/completions"
	defaultGroqModel    = "llama-3.1-8b-instant"
)

// groqSynthesizer calls an OpenAI-compatible chat completions API.
type groqSynthesizer struct {
	endpoint    string
	model       string
	apiKey      string
	maxPassages int
	client      *http.Client
}

func newGroq(probeCtx context.Context, cfg config.SynthesizerConfig) *groqSynthesizer {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultGroqEndpoint
	}
	model := cfg.Model
	if model == "" {
		model = defaultGroqModel
	}
	return &groqSynthesizer{
		endpoint:    endpoint,
		model:       model,
		apiKey:      cfg.APIKey,
		maxPassages: cfg.MaxPassages,
		client:      &http.Client{Timeout: timeoutFor(cfg)},
	}
}

// Available reports whether an API key is configured. The remote API is not
// probed over the network at startup.
func (g *groqSynthesizer) Available() bool {
	return g.apiKey != ""
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Summarize sends the query and passages through the chat completions API.
func (g *groqSynthesizer) Summarize(ctx context.Context, query string, passages []*models.Passage) (string, error) {
	if g.apiKey == "" {
		return "", fmt.Errorf("groq API key not configured")
	}
	body, err := json.Marshal(chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(query, passages, g.maxPassages)},
		},
		Temperature: 0.2,
		MaxTokens:   512,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completions request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}
	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("chat completions error: %s", decoded.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat completions returned %d", resp.StatusCode)
	}
	if len(decoded.Choices) == 0 || decoded.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("chat completions returned no content")
	}
	return decoded.Choices[0].Message.Content, nil
}
