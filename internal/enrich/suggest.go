// Package enrich produces post-commit additions to an answer: follow-up
// question suggestions, preview images discovered from the answer's sources,
// and rolling workspace summaries. All of it is best-effort and runs off the
// critical streaming path.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quillhq/quill/internal/log"
)

// Generator produces one-shot text completions. Satisfied by any provider.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

const (
	maxRelated      = 5
	maxAnswerPrompt = 4000
)

const suggestPrompt = `Based on the following answer, suggest up to three short follow-up questions the reader is likely to ask next. Respond with a JSON array of strings and nothing else.

Answer:
%s`

// Suggester asks a model for follow-up questions to a committed answer.
type Suggester struct {
	gen    Generator
	logger log.Logger
}

// NewSuggester creates a Suggester.
func NewSuggester(gen Generator, logger log.Logger) *Suggester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Suggester{gen: gen, logger: logger}
}

// Suggest returns follow-up questions for an answer. The model's output is
// expected to be a JSON array of strings, possibly wrapped in a code fence.
func (s *Suggester) Suggest(ctx context.Context, answer string) ([]string, error) {
	if len(answer) > maxAnswerPrompt {
		answer = answer[:maxAnswerPrompt]
	}

	raw, err := s.gen.Generate(ctx, fmt.Sprintf(suggestPrompt, answer))
	if err != nil {
		return nil, fmt.Errorf("failed to generate suggestions: %w", err)
	}

	related, err := parseStringArray(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse suggestions: %w", err)
	}
	if len(related) > maxRelated {
		related = related[:maxRelated]
	}

	s.logger.Debug("generated suggestions", "count", len(related))
	return related, nil
}

// parseStringArray extracts a JSON string array from model output, tolerating
// surrounding prose and markdown fences.
func parseStringArray(raw string) ([]string, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in output")
	}

	var items []string
	if err := json.Unmarshal([]byte(raw[start:end+1]), &items); err != nil {
		return nil, err
	}

	out := items[:0]
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}
