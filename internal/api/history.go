package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/quillhq/quill/internal/history"
)

const (
	defaultHistoryLimit int32 = 50
	maxHistoryLimit     int32 = 200
)

// listHistory returns recent records, newest first.
// GET /api/history?limit=50&offset=0
func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseInt32(r.URL.Query().Get("limit"), defaultHistoryLimit)
	if limit < 1 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}
	offset := parseInt32(r.URL.Query().Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}

	records, err := s.cfg.History.ListRecent(r.Context(), limit, offset)
	if err != nil {
		s.log.Error("failed to list history", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	if records == nil {
		records = []history.Record{}
	}

	writeJSON(w, http.StatusOK, records)
}

// deleteHistory removes one record.
// DELETE /api/history/{id}
func (s *Server) deleteHistory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid record id")
		return
	}

	if err := s.cfg.History.Delete(r.Context(), id); err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeError(w, http.StatusNotFound, "record not found")
			return
		}
		s.log.Error("failed to delete record", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete record")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseInt32(s string, fallback int32) int32 {
	if s == "" {
		return fallback
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return fallback
	}
	return int32(n)
}
