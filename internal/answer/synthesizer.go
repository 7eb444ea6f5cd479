// Package answer provides optional LLM summarization of retrieved passages.
// Retrieval never depends on it: a failed or unavailable synthesizer leaves
// the extractive answer in place.
package answer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/archivelab/shinbun/internal/config"
	"github.com/archivelab/shinbun/internal/models"
)

// Synthesizer turns retrieved passages into a prose answer.
type Synthesizer interface {
	// Available reports whether the backend answered its startup probe.
	Available() bool
	Summarize(ctx context.Context, query string, passages []*models.Passage) (string, error)
}

// New builds the synthesizer selected by cfg.Backend: "none" (or empty),
// "groq", or "ollama". The backend's availability is probed once here, with
// probeCtx bounding the probe.
func New(probeCtx context.Context, cfg config.SynthesizerConfig) (Synthesizer, error) {
	switch cfg.Backend {
	case "", "none":
		return Noop{}, nil
	case "groq":
		return newGroq(probeCtx, cfg), nil
	case "ollama":
		return newOllama(probeCtx, cfg), nil
	default:
		return nil, fmt.Errorf("unknown synthesizer backend: %s (supported: none, groq, ollama)", cfg.Backend)
	}
}

// Noop is the synthesizer used when no backend is configured.
type Noop struct{}

// Available always returns false.
func (Noop) Available() bool { return false }

// Summarize always returns an error so callers keep the extractive answer.
func (Noop) Summarize(ctx context.Context, query string, passages []*models.Passage) (string, error) {
	return "", fmt.Errorf("no synthesizer backend configured")
}

const systemPrompt = "You are a historian's assistant. Answer the question " +
	"using only the newspaper excerpts provided. Cite papers and dates where " +
	"relevant. If the excerpts do not answer the question, say so."

// buildPrompt renders the query and passages into a single user prompt.
func buildPrompt(query string, passages []*models.Passage, maxPassages int) string {
	if maxPassages > 0 && len(passages) > maxPassages {
		passages = passages[:maxPassages]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nExcerpts:\n", query)
	for i, p := range passages {
		fmt.Fprintf(&b, "[%d] %s (%s, %s)\n%s\n\n", i+1, p.Title, p.Paper, p.Date, p.Snippet)
	}
	return b.String()
}

func timeoutFor(cfg config.SynthesizerConfig) time.Duration {
	if cfg.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(cfg.TimeoutSeconds) * time.Second
}
