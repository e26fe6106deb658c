//go:build integration
// +build integration

package history

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillhq/quill/internal/conversation"
	"github.com/quillhq/quill/internal/log"
	"github.com/quillhq/quill/internal/provider"
	"github.com/quillhq/quill/internal/testutil"
)

func TestStore_InsertAndGet_Integration(t *testing.T) {
	dbc, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := New(dbc.Pool, log.NewNop())
	ctx := context.Background()

	turn := conversation.Turn{
		ID:      uuid.New(),
		Role:    conversation.RoleModel,
		Content: "Go is a programming language.",
		Sources: []provider.Source{{Title: "Example", URI: "https://example.com"}},
		Citations: []provider.Citation{
			{StartIndex: 0, EndIndex: 10, URI: "https://example.com"},
		},
		Table: &conversation.Table{Headers: []string{"A"}, Rows: [][]string{{"1"}}},
	}
	entry := conversation.HistoryEntry{
		ID:          turn.ID,
		WorkspaceID: uuid.New(),
		Provider:    "gemini",
		Deep:        true,
		Query:       "what is Go",
		Turn:        turn,
	}

	require.NoError(t, store.Insert(ctx, entry))

	rec, err := store.Get(ctx, turn.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.Query, rec.Query)
	assert.Equal(t, entry.Provider, rec.Provider)
	assert.True(t, rec.Deep)
	assert.Equal(t, turn.Content, rec.Turn.Content)
	assert.Equal(t, turn.Sources, rec.Turn.Sources)
	assert.Equal(t, turn.Citations, rec.Turn.Citations)
	require.NotNil(t, rec.Turn.Table)
	assert.Equal(t, turn.Table.Headers, rec.Turn.Table.Headers)
	assert.False(t, rec.Turn.ImagesResolved)
	assert.NotZero(t, rec.CreatedAt)
}

func TestStore_EnrichmentRoundTrip_Integration(t *testing.T) {
	dbc, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := New(dbc.Pool, log.NewNop())
	ctx := context.Background()

	id := uuid.New()
	entry := conversation.HistoryEntry{
		ID:          id,
		WorkspaceID: uuid.New(),
		Provider:    "gemini",
		Query:       "q",
		Turn:        conversation.Turn{ID: id, Role: conversation.RoleModel, Content: "answer"},
	}
	require.NoError(t, store.Insert(ctx, entry))

	// Related lands first, images later; neither write clobbers the other.
	require.NoError(t, store.SetEnrichment(ctx, id, nil, []string{"follow-up"}))
	require.NoError(t, store.SetEnrichment(ctx, id,
		[]conversation.Image{{ImageURL: "https://example.com/a.png", SourceURL: "https://example.com"}}, nil))

	rec, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"follow-up"}, rec.Turn.Related)
	assert.True(t, rec.Turn.ImagesResolved)
	require.Len(t, rec.Turn.Images, 1)
	assert.Equal(t, "https://example.com/a.png", rec.Turn.Images[0].ImageURL)
}

func TestStore_ListAndDelete_Integration(t *testing.T) {
	dbc, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := New(dbc.Pool, log.NewNop())
	ctx := context.Background()

	workspaceID := uuid.New()
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		id := uuid.New()
		ids = append(ids, id)
		require.NoError(t, store.Insert(ctx, conversation.HistoryEntry{
			ID:          id,
			WorkspaceID: workspaceID,
			Provider:    "gemini",
			Query:       "q",
			Turn:        conversation.Turn{ID: id, Role: conversation.RoleModel, Content: "answer"},
		}))
	}

	records, err := store.ListRecent(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	workspaceRecords, err := store.RecentWorkspaceTurns(ctx, workspaceID, 10)
	require.NoError(t, err)
	assert.Len(t, workspaceRecords, 3)

	require.NoError(t, store.Delete(ctx, ids[0]))
	assert.ErrorIs(t, store.Delete(ctx, ids[0]), ErrNotFound)

	records, err = store.ListRecent(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestStore_WorkspaceSummary_Integration(t *testing.T) {
	dbc, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := New(dbc.Pool, log.NewNop())
	ctx := context.Background()

	workspaceID := uuid.New()
	_, err := store.WorkspaceSummary(ctx, workspaceID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.UpsertWorkspaceSummary(ctx, workspaceID, "research on Go"))
	summary, err := store.WorkspaceSummary(ctx, workspaceID)
	require.NoError(t, err)
	assert.Equal(t, "research on Go", summary)

	require.NoError(t, store.UpsertWorkspaceSummary(ctx, workspaceID, "updated"))
	summary, err = store.WorkspaceSummary(ctx, workspaceID)
	require.NoError(t, err)
	assert.Equal(t, "updated", summary)
}
