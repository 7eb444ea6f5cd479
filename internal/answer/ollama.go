package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/archivelab/shinbun/internal/config"
	"github.com/archivelab/shinbun/internal/models"
)

const (
	defaultOllamaEndpoint = "http://localhost:11434"
	defaultOllamaModel    = "llama3"
)

// ollamaSynthesizer calls a local Ollama server's generate API.
type ollamaSynthesizer struct {
	endpoint    string
	model       string
	maxPassages int
	client      *http.Client
	available   bool
}

func newOllama(probeCtx context.Context, cfg config.SynthesizerConfig) *ollamaSynthesizer {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = defaultOllamaEndpoint
	}
	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	o := &ollamaSynthesizer{
		endpoint:    endpoint,
		model:       model,
		maxPassages: cfg.MaxPassages,
		client:      &http.Client{Timeout: timeoutFor(cfg)},
	}
	o.available = o.probe(probeCtx)
	return o
}

// probe checks once whether the local server is reachable.
func (o *ollamaSynthesizer) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Available reports the result of the startup probe.
func (o *ollamaSynthesizer) Available() bool {
	return o.available
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// Summarize sends the query and passages through the generate API.
func (o *ollamaSynthesizer) Summarize(ctx context.Context, query string, passages []*models.Passage) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  o.model,
		Prompt: buildPrompt(query, passages, o.maxPassages),
		System: systemPrompt,
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read generate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generate returned %d", resp.StatusCode)
	}
	var decoded generateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	if decoded.Error != "" {
		return "", fmt.Errorf("generate error: %s", decoded.Error)
	}
	if decoded.Response == "" {
		return "", fmt.Errorf("generate returned no content")
	}
	return decoded.Response, nil
}
