package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillhq/quill/internal/provider"
)

func TestMergeSourcesDedupAndOrder(t *testing.T) {
	var acc []provider.Source

	acc = MergeSources(acc, []provider.Source{
		{Title: "A", URI: "a"},
		{Title: "A again", URI: "a"},
		{Title: "B", URI: "b"},
	})

	require.Len(t, acc, 2)
	assert.Equal(t, "a", acc[0].URI)
	assert.Equal(t, "b", acc[1].URI)
	// First-seen title wins; later titles for the same uri are ignored.
	assert.Equal(t, "A", acc[0].Title)
}

func TestMergeSourcesIdempotent(t *testing.T) {
	chunk := []provider.Source{{Title: "A", URI: "a"}, {Title: "B", URI: "b"}}

	acc := MergeSources(nil, chunk)
	acc = MergeSources(acc, chunk)
	acc = MergeSources(acc, chunk)

	require.Len(t, acc, 2)
	assert.Equal(t, "a", acc[0].URI)
	assert.Equal(t, "b", acc[1].URI)
}

func TestMergeSourcesOutOfOrderTolerated(t *testing.T) {
	first := []provider.Source{{URI: "b"}}
	second := []provider.Source{{URI: "a"}, {URI: "b"}}

	// Arrival order decides numbering; late duplicates never corrupt state.
	acc := MergeSources(nil, first)
	acc = MergeSources(acc, second)

	require.Len(t, acc, 2)
	assert.Equal(t, "b", acc[0].URI)
	assert.Equal(t, "a", acc[1].URI)
}

func TestMergeSourcesSkipsEmptyURI(t *testing.T) {
	acc := MergeSources(nil, []provider.Source{{Title: "no uri"}})
	assert.Empty(t, acc)
}

func TestMergeSourcesNoUpdateOnEmptyChunk(t *testing.T) {
	acc := []provider.Source{{URI: "a"}}
	got := MergeSources(acc, nil)
	assert.Equal(t, acc, got, "absence of sources means no update, never clear")
}

func TestMergeCitationsDedupByStartAndURI(t *testing.T) {
	chunk := []provider.Citation{
		{StartIndex: 0, EndIndex: 10, URI: "a"},
		{StartIndex: 0, EndIndex: 12, URI: "a"}, // same (start, uri) key
		{StartIndex: 5, EndIndex: 10, URI: "a"},
		{StartIndex: 0, EndIndex: 10, URI: "b"},
	}

	acc := MergeCitations(nil, chunk)
	require.Len(t, acc, 3)

	// Repeated application does not increase the count.
	acc = MergeCitations(acc, chunk)
	assert.Len(t, acc, 3)
}

func TestMergeCitationsPreservesOrder(t *testing.T) {
	acc := MergeCitations(nil, []provider.Citation{{StartIndex: 9, URI: "z"}})
	acc = MergeCitations(acc, []provider.Citation{{StartIndex: 1, URI: "a"}})

	require.Len(t, acc, 2)
	assert.Equal(t, "z", acc[0].URI)
	assert.Equal(t, "a", acc[1].URI)
}
