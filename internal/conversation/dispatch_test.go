package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillhq/quill/internal/log"
	"github.com/quillhq/quill/internal/provider"
	"github.com/quillhq/quill/internal/testutil"
)

// fakeSuggester returns canned suggestions keyed by the answer text, blocking
// on gate for the gateFor answer so tests can hold a result in flight.
type fakeSuggester struct {
	gate     chan struct{}
	gateFor  string
	byAnswer map[string][]string
	err      error
}

func (f *fakeSuggester) Suggest(ctx context.Context, answer string) ([]string, error) {
	if f.gate != nil && f.gateFor == answer {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.byAnswer[answer], nil
}

type fakeImageFinder struct {
	images []Image
}

func (f *fakeImageFinder) Find(_ context.Context, _ []provider.Source) ([]Image, error) {
	return f.images, nil
}

func newEnrichedManager(t *testing.T, p *testutil.ScriptedProvider, hist *fakeHistory,
	sugg Suggester, images ImageFinder) *Manager {
	t.Helper()
	cfg := Config{
		Providers: map[string]provider.Provider{p.Name(): p},
		Active:    p.Name(),
		Suggester: sugg,
		Images:    images,
		Logger:    log.NewNop(),
	}
	if hist != nil {
		cfg.History = hist
	}
	m, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestEnrichmentLandsOnLatestTurn(t *testing.T) {
	p := groundedProvider()
	p.Script = []testutil.Step{
		{Chunk: provider.Chunk{
			TextDelta: "answer",
			Sources:   []provider.Source{{Title: "Example", URI: "https://example.com"}},
		}},
	}
	hist := &fakeHistory{}
	sugg := &fakeSuggester{byAnswer: map[string][]string{"answer": {"follow-up one", "follow-up two"}}}
	finder := &fakeImageFinder{images: []Image{{ImageURL: "https://example.com/a.png", SourceURL: "https://example.com"}}}
	m := newEnrichedManager(t, p, hist, sugg, finder)

	require.NoError(t, m.Submit("q"))
	waitState(t, m, StateCommitted)

	var snap Snapshot
	require.Eventually(t, func() bool {
		snap = m.Snapshot()
		return len(snap.Turns) == 2 && len(snap.Turns[1].Related) == 2 && snap.Turns[1].ImagesResolved
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"follow-up one", "follow-up two"}, snap.Turns[1].Related)
	require.Len(t, snap.Turns[1].Images, 1)
	assert.Equal(t, "https://example.com/a.png", snap.Turns[1].Images[0].ImageURL)

	require.Eventually(t, func() bool {
		hist.mu.Lock()
		defer hist.mu.Unlock()
		return len(hist.enrichments) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSuggestionFailureStillMarksAttempt(t *testing.T) {
	p := groundedProvider()
	p.Script = []testutil.Step{testutil.TextStep("answer")}
	sugg := &fakeSuggester{err: errors.New("model unavailable")}
	m := newEnrichedManager(t, p, nil, sugg, nil)

	require.NoError(t, m.Submit("q"))
	waitState(t, m, StateCommitted)

	require.Eventually(t, func() bool {
		snap := m.Snapshot()
		return len(snap.Turns) == 2 && snap.Turns[1].RelatedResolved
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, m.Snapshot().Turns[1].Related)
}

func TestEmptySuggestionsStillMarkAttempt(t *testing.T) {
	p := groundedProvider()
	p.Script = []testutil.Step{testutil.TextStep("answer")}
	sugg := &fakeSuggester{byAnswer: map[string][]string{}}
	m := newEnrichedManager(t, p, nil, sugg, nil)

	require.NoError(t, m.Submit("q"))
	waitState(t, m, StateCommitted)

	require.Eventually(t, func() bool {
		snap := m.Snapshot()
		return len(snap.Turns) == 2 && snap.Turns[1].RelatedResolved
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStaleEnrichmentDropped(t *testing.T) {
	gate := make(chan struct{})
	p := groundedProvider()
	p.Script = []testutil.Step{testutil.TextStep("answer")}
	sugg := &fakeSuggester{gate: gate, gateFor: "answer", byAnswer: map[string][]string{"answer": {"stale suggestion"}}}
	m := newEnrichedManager(t, p, nil, sugg, nil)

	require.NoError(t, m.Submit("q"))
	waitState(t, m, StateCommitted)

	// Tear the session down while the suggestion is still in flight.
	m.NewChat()
	close(gate)

	p.Script = []testutil.Step{testutil.TextStep("new answer")}
	require.NoError(t, m.Submit("q2"))
	waitState(t, m, StateCommitted)

	time.Sleep(50 * time.Millisecond)
	snap := m.Snapshot()
	require.Len(t, snap.Turns, 2)
	assert.Empty(t, snap.Turns[1].Related)
}

func TestEnrichmentSkipsSupersededTurn(t *testing.T) {
	gate := make(chan struct{})
	p := groundedProvider()
	p.Script = []testutil.Step{testutil.TextStep("first answer")}
	sugg := &fakeSuggester{
		gate:    gate,
		gateFor: "first answer",
		byAnswer: map[string][]string{
			"first answer":  {"stale suggestion"},
			"second answer": {"suggestion"},
		},
	}
	m := newEnrichedManager(t, p, nil, sugg, nil)

	require.NoError(t, m.Submit("q1"))
	waitState(t, m, StateCommitted)

	// A newer model turn lands before the first suggestion resolves. The deep
	// toggle resets continuation, so the second exchange opens its own session
	// and gets its own enrichment pass.
	m.SetDeep(true)
	p.Script = []testutil.Step{testutil.TextStep("second answer")}
	require.NoError(t, m.Submit("q2"))
	waitState(t, m, StateCommitted)
	close(gate)

	require.Eventually(t, func() bool {
		snap := m.Snapshot()
		return len(snap.Turns) == 4 && len(snap.Turns[3].Related) == 1
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	snap := m.Snapshot()
	assert.Empty(t, snap.Turns[1].Related, "late result for a superseded turn must be dropped")
	assert.Equal(t, []string{"suggestion"}, snap.Turns[3].Related)
}
