// Package provider normalizes the two supported LLM backends behind one
// streaming capability interface.
//
// The grounded backend (Gemini) supports web-grounded search, citation
// metadata, file attachments and an explicit multi-turn chat handle. The plain
// backend (any OpenAI-compatible endpoint) supports text-only multi-turn chat
// and is driven by resending the full prior-message list on every call.
//
// Both are exposed through Provider/Conversation; callers select behavior by
// inspecting Capabilities, never by type assertions.
package provider

import (
	"context"
	"iter"
)

// Backend names as reported by Provider.Name and persisted with history
// records.
const (
	NameGemini = "gemini"
	NameOpenAI = "openai"
)

// MaxAttachmentSize is the upper bound for attachment payloads. Intake
// validates size before a request is built; the adapters refuse anything
// larger as a defense against misuse of the API.
const MaxAttachmentSize = 4 << 20 // 4 MiB

// Capabilities describes what a backend can do. The session manager uses it
// to force-disable deep mode and attachments on backends that lack them.
type Capabilities struct {
	Grounding   bool // live web search with sources/citations
	Attachments bool // inline file payloads
	DeepMode    bool // grounded multi-source "deep" behavior
}

// Source is a web reference backing an answer.
type Source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Citation maps a span of the answer text to a source URI.
type Citation struct {
	StartIndex int    `json:"startIndex"`
	EndIndex   int    `json:"endIndex"`
	URI        string `json:"uri"`
	License    string `json:"license,omitempty"`
}

// Key returns the identity of a citation for deduplication. The backend may
// re-emit the same span across chunks; (start, uri) pairs identify it.
func (c Citation) Key() CitationKey {
	return CitationKey{StartIndex: c.StartIndex, URI: c.URI}
}

// CitationKey is the composite dedup key for citations.
type CitationKey struct {
	StartIndex int
	URI        string
}

// Chunk is one increment of a streamed answer. Empty Sources/Citations mean
// "no update", never "clear"; the plain backend emits text deltas only.
type Chunk struct {
	TextDelta string
	Sources   []Source
	Citations []Citation
}

// Attachment is an already-validated file payload attached to a query.
type Attachment struct {
	Name     string
	MIMEType string
	Data     []byte
	// Preview is an opaque display handle (e.g. a data URI or temp path)
	// owned by the render surface. The adapters never read it.
	Preview string
}

// Request is one user turn submitted to an open conversation.
type Request struct {
	Query      string
	Attachment *Attachment
}

// Options configures a new conversation binding.
type Options struct {
	// Deep enables grounded multi-source research behavior. Ignored by
	// backends whose Capabilities report DeepMode false.
	Deep bool
}

// Conversation is one bound multi-turn exchange. Send streams the model's
// answer chunk-at-a-time; iteration stops as soon as the consumer breaks out
// of the range or ctx is cancelled, and the adapter yields nothing further
// after that.
type Conversation interface {
	Send(ctx context.Context, req Request) iter.Seq2[Chunk, error]
}

// Provider is one LLM backend.
type Provider interface {
	// Name identifies the backend ("gemini", "openai").
	Name() string

	// Capabilities reports the backend's feature profile.
	Capabilities() Capabilities

	// Open binds a new multi-turn conversation.
	Open(ctx context.Context, opts Options) (Conversation, error)

	// Generate performs a one-shot, non-streaming completion outside any
	// conversation. Used by enrichment tasks (related queries, summaries).
	Generate(ctx context.Context, prompt string) (string, error)
}
