package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/quillhq/quill/internal/history"
	"github.com/quillhq/quill/internal/log"
)

const (
	summaryTurns     = 10
	summaryAnswerCap = 500
)

const summaryPrompt = `Summarize the research activity below in two or three sentences. Focus on the topics investigated, not the individual questions.

%s`

// SummaryStore is the subset of history operations the summarizer needs.
type SummaryStore interface {
	RecentWorkspaceTurns(ctx context.Context, workspaceID uuid.UUID, limit int32) ([]history.Record, error)
	UpsertWorkspaceSummary(ctx context.Context, workspaceID uuid.UUID, summary string) error
}

// Summarizer keeps a workspace's rolling summary current by re-reading its
// recent exchanges after each commit.
type Summarizer struct {
	gen    Generator
	store  SummaryStore
	logger log.Logger
}

// NewSummarizer creates a Summarizer.
func NewSummarizer(gen Generator, store SummaryStore, logger log.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{gen: gen, store: store, logger: logger}
}

// Refresh regenerates and stores the workspace summary. A workspace with no
// records is left untouched.
func (s *Summarizer) Refresh(ctx context.Context, workspaceID uuid.UUID) error {
	records, err := s.store.RecentWorkspaceTurns(ctx, workspaceID, summaryTurns)
	if err != nil {
		return fmt.Errorf("failed to load workspace records: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	var b strings.Builder
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		answer := rec.Turn.Content
		if len(answer) > summaryAnswerCap {
			answer = answer[:summaryAnswerCap]
		}
		fmt.Fprintf(&b, "Q: %s\nA: %s\n\n", rec.Query, answer)
	}

	summary, err := s.gen.Generate(ctx, fmt.Sprintf(summaryPrompt, b.String()))
	if err != nil {
		return fmt.Errorf("failed to generate summary: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil
	}

	if err := s.store.UpsertWorkspaceSummary(ctx, workspaceID, summary); err != nil {
		return fmt.Errorf("failed to store summary: %w", err)
	}

	s.logger.Debug("refreshed workspace summary", "workspace_id", workspaceID, "turns", len(records))
	return nil
}
