package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPEmbedder calls an external embedding service over HTTP. The service
// accepts `{"texts": [...], "model": "..."}` and responds with
// `{"embeddings": [[...], ...]}`.
type HTTPEmbedder struct {
	endpoint   string
	model      string
	dimensions int
	client     *http.Client
	cache      *EmbeddingCache
}

// HTTPEmbedderOptions configures an HTTPEmbedder.
type HTTPEmbedderOptions struct {
	Endpoint   string
	Model      string
	Dimensions int
	Timeout    time.Duration
	CacheSize  int
}

// NewHTTPEmbedder creates an embedder backed by the service at opts.Endpoint.
func NewHTTPEmbedder(opts HTTPEmbedderOptions) (*HTTPEmbedder, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("embedding endpoint is required")
	}
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	e := &HTTPEmbedder{
		endpoint:   opts.Endpoint,
		model:      opts.Model,
		dimensions: opts.Dimensions,
		client:     &http.Client{Timeout: timeout},
	}
	if opts.CacheSize > 0 {
		e.cache = NewEmbeddingCache(opts.CacheSize)
	}
	return e, nil
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed returns the embedding for a single text, consulting the cache first.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.cache != nil {
		if emb, ok := e.cache.Get(text); ok {
			return emb, nil
		}
	}
	embs, err := e.request(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Set(text, embs[0])
	}
	return embs[0], nil
}

// EmbedBatch embeds all texts in one request. Batches bypass the cache.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return e.request(ctx, texts)
}

func (e *HTTPEmbedder) request(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Texts: texts, Model: e.model})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding service unreachable: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, truncateBody(raw))
	}
	var decoded embedResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("embedding service error: %s", decoded.Error)
	}
	if len(decoded.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(decoded.Embeddings), len(texts))
	}
	for i, emb := range decoded.Embeddings {
		if len(emb) != e.dimensions {
			return nil, fmt.Errorf("embedding %d dimension mismatch: got %d, expected %d", i, len(emb), e.dimensions)
		}
	}
	return decoded.Embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *HTTPEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for HTTPEmbedder.
func (e *HTTPEmbedder) Close() error {
	return nil
}

func truncateBody(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
