package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quillhq/quill/internal/conversation"
	"github.com/quillhq/quill/internal/provider"
)

// SSE event types for ask streaming.
const (
	EventChunk     = "chunk"     // partial answer text
	EventSources   = "sources"   // cumulative merged source list
	EventCitations = "citations" // cumulative merged citation list
	EventTable     = "table"     // trailing table extracted from the answer
	EventRelated   = "related"   // follow-up question suggestions
	EventImages    = "images"    // preview images from the answer's sources
	EventDone      = "done"      // stream completed successfully
	EventError     = "error"     // stream aborted
)

const enrichWindow = 15 * time.Second

type askRequest struct {
	Query    string `json:"query"`
	Provider string `json:"provider,omitempty"`
	Deep     bool   `json:"deep,omitempty"`
}

type chunkPayload struct {
	Text string `json:"text"`
}

type donePayload struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Provider string `json:"provider"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// askStream handles one question/answer exchange over SSE. The answer streams
// as chunk events with cumulative sources and citations alongside; after the
// stream settles the trailing table, suggestions, and images follow, then
// done.
func (s *Server) askStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	var req askRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = writeEvent(w, flusher, EventError, errorPayload{
			Code: "INVALID_REQUEST", Message: "invalid request body",
		})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		_ = writeEvent(w, flusher, EventError, errorPayload{
			Code: "MISSING_QUERY", Message: "query is required",
		})
		return
	}

	name := req.Provider
	if name == "" {
		name = s.cfg.Default
	}
	prov, ok := s.cfg.Providers[name]
	if !ok {
		_ = writeEvent(w, flusher, EventError, errorPayload{
			Code: "UNKNOWN_PROVIDER", Message: fmt.Sprintf("unknown provider %q", name),
		})
		return
	}

	ctx := r.Context()
	s.log.Debug("SSE stream started", "provider", name, "deep", req.Deep)

	conv, err := prov.Open(ctx, provider.Options{Deep: req.Deep && prov.Capabilities().DeepMode})
	if err != nil {
		s.streamError(w, flusher, err)
		return
	}

	turn := conversation.Turn{ID: uuid.New(), Role: conversation.RoleModel}
	for ch, err := range conv.Send(ctx, provider.Request{Query: req.Query}) {
		if ctx.Err() != nil {
			s.log.Info("client disconnected")
			return
		}
		if err != nil {
			s.streamError(w, flusher, err)
			return
		}

		if ch.TextDelta != "" {
			turn.Content += ch.TextDelta
			if err := writeEvent(w, flusher, EventChunk, chunkPayload{Text: ch.TextDelta}); err != nil {
				return
			}
		}
		if len(ch.Sources) > 0 {
			turn.Sources = conversation.MergeSources(turn.Sources, ch.Sources)
			if err := writeEvent(w, flusher, EventSources, turn.Sources); err != nil {
				return
			}
		}
		if len(ch.Citations) > 0 {
			turn.Citations = conversation.MergeCitations(turn.Citations, ch.Citations)
			if err := writeEvent(w, flusher, EventCitations, turn.Citations); err != nil {
				return
			}
		}
	}

	remaining, table := conversation.ExtractTable(turn.Content)
	turn.Content = remaining
	turn.Table = table
	if table != nil {
		if err := writeEvent(w, flusher, EventTable, table); err != nil {
			return
		}
	}

	if s.cfg.History != nil {
		entry := conversation.HistoryEntry{
			ID:          turn.ID,
			WorkspaceID: s.cfg.WorkspaceID,
			Provider:    name,
			Deep:        req.Deep,
			Query:       req.Query,
			Turn:        turn,
		}
		if err := s.cfg.History.Insert(ctx, entry); err != nil {
			s.log.Warn("history insert failed", "turn_id", turn.ID, "error", err)
		}
	}

	s.enrich(ctx, w, flusher, &turn)

	_ = writeEvent(w, flusher, EventDone, donePayload{
		ID:       turn.ID.String(),
		Text:     turn.Content,
		Provider: name,
	})
	s.log.Debug("SSE stream completed", "turn_id", turn.ID)
}

// enrich runs the post-commit additions inline, bounded by the request
// context and a fixed window. Each step is best-effort.
func (s *Server) enrich(ctx context.Context, w io.Writer, flusher http.Flusher, turn *conversation.Turn) {
	ctx, cancel := context.WithTimeout(ctx, enrichWindow)
	defer cancel()

	if s.cfg.Suggester != nil && turn.Content != "" {
		related, err := s.cfg.Suggester.Suggest(ctx, turn.Content)
		if err != nil {
			s.log.Warn("related suggestions failed", "turn_id", turn.ID, "error", err)
		} else if len(related) > 0 {
			turn.Related = related
			_ = writeEvent(w, flusher, EventRelated, related)
		}
	}

	if s.cfg.Images != nil && len(turn.Sources) > 0 {
		images, err := s.cfg.Images.Find(ctx, turn.Sources)
		if err != nil {
			s.log.Warn("image discovery failed", "turn_id", turn.ID, "error", err)
		} else {
			turn.Images = images
			turn.ImagesResolved = true
			if len(images) > 0 {
				_ = writeEvent(w, flusher, EventImages, images)
			}
		}
	}

	if s.cfg.History != nil && (turn.Related != nil || turn.ImagesResolved) {
		images := turn.Images
		if turn.ImagesResolved && images == nil {
			images = []conversation.Image{}
		}
		if err := s.cfg.History.SetEnrichment(ctx, turn.ID, images, turn.Related); err != nil {
			s.log.Warn("enrichment persist failed", "turn_id", turn.ID, "error", err)
		}
	}
}

// streamError maps provider errors to SSE error events.
func (s *Server) streamError(w io.Writer, f http.Flusher, err error) {
	code := "STREAM_ERROR"
	message := err.Error()

	if pe, ok := provider.AsError(err); ok {
		message = pe.Message
		switch pe.Kind {
		case provider.KindRateLimited:
			code = "RATE_LIMITED"
			message = conversation.QuotaMessage
		case provider.KindAuthFailure:
			code = "AUTH_FAILURE"
		case provider.KindNetwork:
			code = "NETWORK_ERROR"
		case provider.KindMalformed:
			code = "MALFORMED_RESPONSE"
		}
	}

	s.log.Error("stream failed", "code", code, "error", err)
	_ = writeEvent(w, f, EventError, errorPayload{Code: code, Message: message})
}

// writeEvent writes a single SSE event with JSON-encoded data.
// SSE format: "event: <type>\ndata: <json>\n\n"
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	flusher.Flush()
	return nil
}
