package enrich

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillhq/quill/internal/log"
)

type fakeGenerator struct {
	output  string
	err     error
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.output, f.err
}

func TestSuggestParsesPlainArray(t *testing.T) {
	gen := &fakeGenerator{output: `["How does it work?", "What are the alternatives?"]`}
	s := NewSuggester(gen, log.NewNop())

	related, err := s.Suggest(context.Background(), "some answer")
	require.NoError(t, err)
	assert.Equal(t, []string{"How does it work?", "What are the alternatives?"}, related)
}

func TestSuggestToleratesFencedOutput(t *testing.T) {
	gen := &fakeGenerator{output: "Here you go:\n```json\n[\"One?\", \"Two?\"]\n```"}
	s := NewSuggester(gen, log.NewNop())

	related, err := s.Suggest(context.Background(), "answer")
	require.NoError(t, err)
	assert.Equal(t, []string{"One?", "Two?"}, related)
}

func TestSuggestFiltersEmptyAndCaps(t *testing.T) {
	gen := &fakeGenerator{output: `["a?", "  ", "b?", "c?", "d?", "e?", "f?"]`}
	s := NewSuggester(gen, log.NewNop())

	related, err := s.Suggest(context.Background(), "answer")
	require.NoError(t, err)
	assert.Equal(t, []string{"a?", "b?", "c?", "d?", "e?"}, related)
}

func TestSuggestRejectsNonArrayOutput(t *testing.T) {
	gen := &fakeGenerator{output: "I cannot answer that."}
	s := NewSuggester(gen, log.NewNop())

	_, err := s.Suggest(context.Background(), "answer")
	assert.Error(t, err)
}

func TestSuggestPropagatesGeneratorError(t *testing.T) {
	wantErr := errors.New("backend down")
	gen := &fakeGenerator{err: wantErr}
	s := NewSuggester(gen, log.NewNop())

	_, err := s.Suggest(context.Background(), "answer")
	assert.ErrorIs(t, err, wantErr)
}

func TestSuggestTruncatesLongAnswers(t *testing.T) {
	gen := &fakeGenerator{output: `["q?"]`}
	s := NewSuggester(gen, log.NewNop())

	_, err := s.Suggest(context.Background(), strings.Repeat("x", maxAnswerPrompt*2))
	require.NoError(t, err)
	require.Len(t, gen.prompts, 1)
	assert.LessOrEqual(t, len(gen.prompts[0]), maxAnswerPrompt+len(suggestPrompt))
}
