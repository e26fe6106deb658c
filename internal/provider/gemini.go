package provider

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"google.golang.org/genai"

	"github.com/quillhq/quill/internal/log"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiConfig holds configuration for the grounded Gemini backend.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// Gemini is the grounded backend. Conversations are bound to a server-side
// chat handle; every turn runs with the Google Search tool enabled so the
// model can ground answers in live web content.
type Gemini struct {
	client *genai.Client
	model  string
	logger log.Logger
}

// NewGemini creates the grounded Gemini provider.
func NewGemini(ctx context.Context, cfg GeminiConfig, logger log.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, NewError(KindAuthFailure, "gemini API key not configured", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &Gemini{client: client, model: model, logger: logger}, nil
}

// Name implements Provider.
func (g *Gemini) Name() string { return NameGemini }

// Capabilities implements Provider.
func (g *Gemini) Capabilities() Capabilities {
	return Capabilities{Grounding: true, Attachments: true, DeepMode: true}
}

// Open binds a new grounded chat. The chat handle carries the conversation
// history server-side; continuation turns reuse it.
func (g *Gemini) Open(ctx context.Context, opts Options) (Conversation, error) {
	config := &genai.GenerateContentConfig{
		Tools:             []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
		SystemInstruction: genai.NewContentFromText(answerInstructions(opts.Deep), genai.RoleUser),
	}

	chat, err := g.client.Chats.Create(ctx, g.model, config, nil)
	if err != nil {
		return nil, classifyGenAI(err)
	}

	g.logger.Debug("opened gemini conversation", "model", g.model, "deep", opts.Deep)
	return &geminiConversation{chat: chat, logger: g.logger}, nil
}

// Generate implements Provider with a single ungrounded completion.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", classifyGenAI(err)
	}
	return resp.Text(), nil
}

type geminiConversation struct {
	chat   *genai.Chat
	logger log.Logger
}

// Send streams one turn. Grounding sources and citations ride along with the
// response chunks and are surfaced incrementally.
func (c *geminiConversation) Send(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		parts := []genai.Part{{Text: req.Query}}
		if a := req.Attachment; a != nil {
			if len(a.Data) > MaxAttachmentSize {
				yield(Chunk{}, NewError(KindMalformed, "attachment exceeds size limit", nil))
				return
			}
			parts = append(parts, genai.Part{
				InlineData: &genai.Blob{MIMEType: a.MIMEType, Data: a.Data},
			})
		}

		for resp, err := range c.chat.SendMessageStream(ctx, parts...) {
			if err != nil {
				yield(Chunk{}, classifyGenAI(err))
				return
			}
			if !yield(chunkFromGenAI(resp), nil) {
				return
			}
		}
	}
}

// chunkFromGenAI flattens one streamed response into the common chunk shape.
func chunkFromGenAI(resp *genai.GenerateContentResponse) Chunk {
	var ch Chunk
	if resp == nil || len(resp.Candidates) == 0 {
		return ch
	}
	cand := resp.Candidates[0]

	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			ch.TextDelta += part.Text
		}
	}

	if gm := cand.GroundingMetadata; gm != nil {
		for _, gc := range gm.GroundingChunks {
			if gc == nil || gc.Web == nil || gc.Web.URI == "" {
				continue
			}
			title := gc.Web.Title
			if title == "" {
				title = gc.Web.Domain
			}
			ch.Sources = append(ch.Sources, Source{Title: title, URI: gc.Web.URI})
		}
	}

	if cm := cand.CitationMetadata; cm != nil {
		for _, ci := range cm.Citations {
			if ci == nil || ci.URI == "" {
				continue
			}
			ch.Citations = append(ch.Citations, Citation{
				StartIndex: int(ci.StartIndex),
				EndIndex:   int(ci.EndIndex),
				URI:        ci.URI,
				License:    ci.License,
			})
		}
	}

	return ch
}

// classifyGenAI maps genai transport errors onto the provider error taxonomy.
func classifyGenAI(err error) error {
	var aerr genai.APIError
	if errors.As(err, &aerr) {
		msg := aerr.Message
		if msg == "" {
			msg = aerr.Status
		}
		return NewError(classifyStatus(aerr.Code), msg, err)
	}
	return wrapTransport(err)
}
