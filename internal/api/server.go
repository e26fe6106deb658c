// Package api exposes the conversational search engine over HTTP: an SSE
// streaming ask endpoint plus JSON history management.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/quillhq/quill/internal/conversation"
	"github.com/quillhq/quill/internal/history"
	"github.com/quillhq/quill/internal/log"
	"github.com/quillhq/quill/internal/provider"
)

// HistoryStore is the subset of history operations the API needs.
type HistoryStore interface {
	Insert(ctx context.Context, entry conversation.HistoryEntry) error
	SetEnrichment(ctx context.Context, id uuid.UUID, images []conversation.Image, related []string) error
	ListRecent(ctx context.Context, limit, offset int32) ([]history.Record, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger    log.Logger
	Providers map[string]provider.Provider // Required, non-empty
	Default   string                       // Required: provider used when the request names none

	History     HistoryStore                // Optional: nil disables persistence and the history API
	Suggester   conversation.Suggester      // Optional: nil skips related events
	Images      conversation.ImageFinder    // Optional: nil skips images events
	WorkspaceID uuid.UUID                   // Workspace bound to persisted records
	CORSOrigins []string                    // Allowed origins for CORS
}

// Server is the HTTP server.
type Server struct {
	mux *http.ServeMux
	cfg ServerConfig
	log log.Logger
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if len(cfg.Providers) == 0 {
		return nil, errors.New("at least one provider is required")
	}
	if _, ok := cfg.Providers[cfg.Default]; !ok {
		return nil, errors.New("default provider is not configured")
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		mux: http.NewServeMux(),
		cfg: cfg,
		log: cfg.Logger,
	}

	s.mux.HandleFunc("POST /api/ask/stream", s.askStream)
	if cfg.History != nil {
		s.mux.HandleFunc("GET /api/history", s.listHistory)
		s.mux.HandleFunc("DELETE /api/history/{id}", s.deleteHistory)
	}
	s.mux.HandleFunc("GET /healthz", s.health)

	return s, nil
}

// ServeHTTP implements http.Handler with CORS applied.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == origin || allowed == "*" {
			return true
		}
	}
	return false
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
