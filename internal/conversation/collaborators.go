package conversation

import (
	"context"

	"github.com/google/uuid"

	"github.com/quillhq/quill/internal/provider"
)

// The Manager depends on its collaborators through interfaces defined here,
// on the consumer side. All of them are optional: a nil collaborator simply
// disables the corresponding behavior.

// HistoryEntry is the persisted form of a committed new-session turn. Its ID
// equals the committed model turn's id so enrichment results can be matched
// back to the record.
type HistoryEntry struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID // uuid.Nil when the turn belongs to no workspace
	Provider    string
	Deep        bool
	Query       string
	Turn        Turn
}

// HistoryStore persists committed new-session turns. Insert failures are
// reported as non-blocking warnings; they never undo the visible answer.
type HistoryStore interface {
	Insert(ctx context.Context, entry HistoryEntry) error
	SetEnrichment(ctx context.Context, id uuid.UUID, images []Image, related []string) error
}

// Suggester produces follow-up query suggestions from a finished answer.
type Suggester interface {
	Suggest(ctx context.Context, answer string) ([]string, error)
}

// ImageFinder discovers illustrations scoped strictly to the sources already
// attached to the turn. An empty result with nil error means "attempted,
// found none".
type ImageFinder interface {
	Find(ctx context.Context, sources []provider.Source) ([]Image, error)
}

// Summarizer refreshes a workspace's short summary from its recent turns.
type Summarizer interface {
	Refresh(ctx context.Context, workspaceID uuid.UUID) error
}
