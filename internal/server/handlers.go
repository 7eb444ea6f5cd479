package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/archivelab/shinbun/internal/models"
	"github.com/archivelab/shinbun/internal/retrieval"
	"github.com/archivelab/shinbun/internal/storage"
)

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req models.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("ask request", zap.String("query", req.Query), zap.Int("top_k", req.TopK))
	resp, err := s.engine.Ask(r.Context(), &req)
	if err != nil {
		var embedErr *retrieval.EmbedderError
		if errors.As(err, &embedErr) {
			s.logger.Error("embedding service unavailable", zap.Error(err))
			s.respondError(w, http.StatusServiceUnavailable, "embedding service unavailable")
			return
		}
		s.logger.Error("ask failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.CountChunks(r.Context())
	if err != nil {
		s.logger.Error("status: count chunks failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]interface{}{
		"vectors":       s.index.Size(),
		"metadata_rows": rows,
		"mode":          string(s.index.Mode()),
	}
	if s.titles != nil {
		if count, err := s.titles.DocCount(); err == nil {
			resp["keyword_docs"] = count
		}
	}
	diskBytes, err := storage.DiskUsageBytes(
		s.config.Storage.DatabasePath,
		s.config.Storage.IndexPath,
		s.config.Storage.KeywordIndexPath,
	)
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	resp["config"] = map[string]interface{}{
		"dimensions":          s.config.Index.Dimensions,
		"default_top_k":       s.config.Retrieval.DefaultTopK,
		"inline_text":         s.config.Corpus.InlineText,
		"synthesizer_backend": s.config.Synthesizer.Backend,
		"index_path":          s.config.Storage.IndexPath,
		"database_path":       s.config.Storage.DatabasePath,
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleArticles(w http.ResponseWriter, r *http.Request) {
	if s.titles == nil {
		s.respondError(w, http.StatusNotImplemented, "keyword index not enabled")
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		s.respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > 100 {
		limit = 100
	}

	results, err := s.titles.Search(r.Context(), query, limit)
	if err != nil {
		s.logger.Error("article search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type article struct {
		ID    string  `json:"id"`
		Title string  `json:"title"`
		Paper string  `json:"paper"`
		Date  string  `json:"date"`
		Score float64 `json:"score"`
	}
	articles := make([]article, len(results))
	for i, res := range results {
		articles[i] = article{ID: res.ID, Title: res.Title, Paper: res.Paper, Date: res.Date, Score: res.Score}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"query":    query,
		"articles": articles,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
