package provider

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/quillhq/quill/internal/log"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIConfig holds configuration for the plain-chat backend. BaseURL allows
// pointing at any OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAI is the plain multi-turn chat backend: no grounding, no attachments,
// no citations. There is no server-side session; each turn resends the full
// prior-message list.
type OpenAI struct {
	client openai.Client
	model  string
	logger log.Logger
}

// NewOpenAI creates the plain-chat provider.
func NewOpenAI(cfg OpenAIConfig, logger log.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, NewError(KindAuthFailure, "openai API key not configured", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAI{client: openai.NewClient(opts...), model: model, logger: logger}, nil
}

// Name implements Provider.
func (o *OpenAI) Name() string { return NameOpenAI }

// Capabilities implements Provider. Everything capability-gated is off.
func (o *OpenAI) Capabilities() Capabilities {
	return Capabilities{}
}

// Open binds a new conversation. Deep mode is ignored; the session manager
// forces it off for backends without DeepMode anyway.
func (o *OpenAI) Open(_ context.Context, _ Options) (Conversation, error) {
	return &openaiConversation{
		client: o.client,
		model:  o.model,
		logger: o.logger,
	}, nil
}

// Generate implements Provider with a single non-streaming completion.
func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	completion, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", classifyOpenAI(err)
	}
	if len(completion.Choices) == 0 {
		return "", NewError(KindMalformed, "empty completion response", nil)
	}
	return completion.Choices[0].Message.Content, nil
}

// openaiConversation holds the accumulated message list client-side. The
// session manager guarantees single-flight sends, so no locking is needed.
type openaiConversation struct {
	client  openai.Client
	model   string
	history []openai.ChatCompletionMessageParamUnion
	logger  log.Logger
}

// Send streams one turn, resending the entire prior-message list. The list
// grows without trimming for the life of the conversation; long sessions pay
// for it in tokens, matching the established behavior of this mode.
func (c *openaiConversation) Send(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		if req.Attachment != nil {
			yield(Chunk{}, NewError(KindMalformed, "attachments are not supported by this backend", nil))
			return
		}

		msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(c.history)+2)
		msgs = append(msgs, openai.SystemMessage(answerInstructions(false)))
		msgs = append(msgs, c.history...)
		msgs = append(msgs, openai.UserMessage(req.Query))

		stream := c.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
			Model:    openai.ChatModel(c.model),
			Messages: msgs,
		})
		defer stream.Close()

		var answer strings.Builder
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			answer.WriteString(delta)
			if !yield(Chunk{TextDelta: delta}, nil) {
				// Consumer stopped (cancellation). Keep what was produced so
				// a later turn sees the same text the user saw.
				c.remember(req.Query, answer.String())
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield(Chunk{}, classifyOpenAI(err))
			return
		}

		c.remember(req.Query, answer.String())
	}
}

func (c *openaiConversation) remember(query, answer string) {
	c.history = append(c.history, openai.UserMessage(query))
	if answer != "" {
		c.history = append(c.history, openai.AssistantMessage(answer))
	}
}

// classifyOpenAI maps openai-go errors onto the provider error taxonomy.
func classifyOpenAI(err error) error {
	var aerr *openai.Error
	if errors.As(err, &aerr) {
		msg := aerr.Message
		if msg == "" {
			msg = aerr.Error()
		}
		return NewError(classifyStatus(aerr.StatusCode), msg, err)
	}
	return wrapTransport(err)
}
