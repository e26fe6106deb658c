package provider

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillhq/quill/internal/log"
)

// chatRequest mirrors the fields of the wire request the tests care about.
type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func sseChunk(text string) string {
	payload := fmt.Sprintf(
		`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":%q}}]}`,
		text)
	return "data: " + payload + "\n\n"
}

// newChatServer returns a fake OpenAI-compatible endpoint that streams the
// given deltas and records every decoded request.
func newChatServer(t *testing.T, deltas ...string) (*httptest.Server, *[]chatRequest) {
	t.Helper()
	var requests []chatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req chatRequest
		require.NoError(t, json.Unmarshal(body, &req))
		requests = append(requests, req)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range deltas {
			_, _ = io.WriteString(w, sseChunk(d))
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func newTestOpenAI(t *testing.T, baseURL string) *OpenAI {
	t.Helper()
	p, err := NewOpenAI(OpenAIConfig{APIKey: "test-key", BaseURL: baseURL, Model: "test-model"}, log.NewNop())
	require.NoError(t, err)
	return p
}

func TestOpenAIStreamDeltas(t *testing.T) {
	srv, _ := newChatServer(t, "Hel", "lo", " world")
	p := newTestOpenAI(t, srv.URL)

	conv, err := p.Open(t.Context(), Options{})
	require.NoError(t, err)

	var got string
	for ch, err := range conv.Send(t.Context(), Request{Query: "hi"}) {
		require.NoError(t, err)
		got += ch.TextDelta
		assert.Empty(t, ch.Sources, "plain backend never emits sources")
		assert.Empty(t, ch.Citations, "plain backend never emits citations")
	}
	assert.Equal(t, "Hello world", got)
}

func TestOpenAIResendsFullHistory(t *testing.T) {
	srv, requests := newChatServer(t, "answer")
	p := newTestOpenAI(t, srv.URL)

	conv, err := p.Open(t.Context(), Options{})
	require.NoError(t, err)

	drain := func(q string) {
		for _, err := range conv.Send(t.Context(), Request{Query: q}) {
			require.NoError(t, err)
		}
	}

	drain("first")
	drain("second")

	require.Len(t, *requests, 2)
	// Turn 1: system + user.
	require.Len(t, (*requests)[0].Messages, 2)
	// Turn 2: system + prior user + prior assistant + new user. No trimming.
	second := (*requests)[1].Messages
	require.Len(t, second, 4)
	assert.Equal(t, "system", second[0].Role)
	assert.Equal(t, "first", second[1].Content)
	assert.Equal(t, "answer", second[2].Content)
	assert.Equal(t, "second", second[3].Content)
}

func TestOpenAIRejectsAttachment(t *testing.T) {
	srv, requests := newChatServer(t)
	p := newTestOpenAI(t, srv.URL)

	conv, err := p.Open(t.Context(), Options{})
	require.NoError(t, err)

	var streamErr error
	for _, err := range conv.Send(t.Context(), Request{
		Query:      "hi",
		Attachment: &Attachment{Name: "a.png", MIMEType: "image/png", Data: []byte{1}},
	}) {
		streamErr = err
	}

	pe, ok := AsError(streamErr)
	require.True(t, ok)
	assert.Equal(t, KindMalformed, pe.Kind)
	assert.Empty(t, *requests, "no request may reach the backend")
}

func TestOpenAIRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"quota exhausted","type":"insufficient_quota"}}`)
	}))
	t.Cleanup(srv.Close)
	p := newTestOpenAI(t, srv.URL)

	conv, err := p.Open(t.Context(), Options{})
	require.NoError(t, err)

	var streamErr error
	for _, err := range conv.Send(t.Context(), Request{Query: "hi"}) {
		streamErr = err
	}

	pe, ok := AsError(streamErr)
	require.True(t, ok)
	assert.Equal(t, KindRateLimited, pe.Kind)
}

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w,
			`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"three suggestions"}}]}`)
	}))
	t.Cleanup(srv.Close)
	p := newTestOpenAI(t, srv.URL)

	got, err := p.Generate(t.Context(), "suggest")
	require.NoError(t, err)
	assert.Equal(t, "three suggestions", got)
}

func TestOpenAICapabilities(t *testing.T) {
	p := &OpenAI{}
	assert.Zero(t, p.Capabilities(), "every gated capability must be off")
	assert.Equal(t, NameOpenAI, p.Name())
}
