package cmd

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillhq/quill/internal/conversation"
	"github.com/quillhq/quill/internal/log"
	"github.com/quillhq/quill/internal/provider"
	"github.com/quillhq/quill/internal/testutil"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestDetectMIME(t *testing.T) {
	assert.Equal(t, "application/pdf", detectMIME("paper.pdf", []byte{0x01, 0x02}))
	assert.Contains(t, detectMIME("page.html", []byte("<html><body>hi</body></html>")), "text/html")
	assert.Equal(t, "image/png", detectMIME("img.png", []byte("\x89PNG\r\n\x1a\n0000000000")))
}

func TestLastModelTurn(t *testing.T) {
	assert.Nil(t, lastModelTurn(conversation.Snapshot{}))

	snap := conversation.Snapshot{Turns: []conversation.Turn{
		{ID: uuid.New(), Role: conversation.RoleUser, Content: "q"},
		{ID: uuid.New(), Role: conversation.RoleModel, Content: "a1"},
		{ID: uuid.New(), Role: conversation.RoleUser, Content: "q2"},
		{ID: uuid.New(), Role: conversation.RoleModel, Content: "a2"},
	}}
	last := lastModelTurn(snap)
	assert.NotNil(t, last)
	assert.Equal(t, "a2", last.Content)
}

func TestActiveGeneratorFollowsProviderSwitch(t *testing.T) {
	var called []string
	grounded := &testutil.ScriptedProvider{
		ProviderName: "grounded",
		Caps:         provider.Capabilities{Grounding: true, Attachments: true, DeepMode: true},
		GenerateFn: func(context.Context, string) (string, error) {
			called = append(called, "grounded")
			return "", nil
		},
	}
	plain := &testutil.ScriptedProvider{
		ProviderName: "plain",
		GenerateFn: func(context.Context, string) (string, error) {
			called = append(called, "plain")
			return "", nil
		},
	}
	providers := map[string]provider.Provider{"grounded": grounded, "plain": plain}

	m, err := conversation.New(conversation.Config{
		Providers: providers,
		Active:    "grounded",
		Logger:    log.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(m.Close)

	gen := &activeGenerator{providers: providers, manager: m}

	_, err = gen.Generate(context.Background(), "suggest")
	require.NoError(t, err)

	require.NoError(t, m.SelectProvider("plain"))
	_, err = gen.Generate(context.Background(), "suggest")
	require.NoError(t, err)

	assert.Equal(t, []string{"grounded", "plain"}, called)
}

func TestEnrichmentSettled(t *testing.T) {
	src := []provider.Source{{Title: "Example", URI: "https://example.com"}}

	// Nothing attempted yet.
	assert.False(t, enrichmentSettled(&conversation.Turn{Sources: src}))

	// Suggestions finished empty; no sources means no image pass to wait for.
	assert.True(t, enrichmentSettled(&conversation.Turn{RelatedResolved: true}))

	// Sources present: the image pass must finish too.
	assert.False(t, enrichmentSettled(&conversation.Turn{Sources: src, RelatedResolved: true}))
	assert.True(t, enrichmentSettled(&conversation.Turn{
		Sources:         src,
		RelatedResolved: true,
		ImagesResolved:  true,
	}))
}

func TestRenderTableAlignsColumns(t *testing.T) {
	table := &conversation.Table{
		Headers: []string{"Name", "Speed"},
		Rows:    [][]string{{"cheetah", "120"}, {"ant", "0.3"}},
	}
	out := renderTable(table)
	assert.Contains(t, out, "cheetah")
	assert.Contains(t, out, "ant")
}

func TestPad(t *testing.T) {
	assert.Equal(t, "ab  ", pad("ab", 4))
	assert.Equal(t, "abcd", pad("abcd", 3))
}
