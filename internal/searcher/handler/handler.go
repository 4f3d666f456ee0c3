// Package handler exposes the searcher over HTTP.
package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/searcher/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/trieindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/logger"
)

// Source hands out the searcher of the version currently served.
type Source interface {
	Acquire() (*searcher.Searcher, func())
	Reload() (bool, error)
	Version() int64
}

type Handler struct {
	source       Source
	cache        *cache.QueryCache
	defaultLimit int
	maxResults   int
	logger       *slog.Logger
}

func New(source Source, queryCache *cache.QueryCache, defaultLimit, maxResults int) *Handler {
	return &Handler{
		source:       source,
		cache:        queryCache,
		defaultLimit: defaultLimit,
		maxResults:   maxResults,
		logger:       slog.Default().With("component", "search-handler"),
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/terms", h.Terms)
	mux.HandleFunc("GET /api/v1/similar", h.Similar)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("POST /api/v1/reload", h.Reload)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	page, ok := h.intParam(w, r, "page", 0, 0)
	if !ok {
		return
	}
	size, ok := h.intParam(w, r, "size", h.defaultLimit, 1)
	if !ok {
		return
	}
	if h.maxResults > 0 && size > h.maxResults {
		size = h.maxResults
	}
	if h.maxResults > 0 && page >= h.maxResults/size {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("page %d of size %d ends beyond result %d", page, size, h.maxResults))
		return
	}

	s, release := h.source.Acquire()
	defer release()
	q, err := s.Parse(query)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	var result *searcher.Result
	cacheHit := false
	if h.cache != nil {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, s.Version(), q, page, size, func() (*searcher.Result, error) {
			return s.Search(ctx, q, page, size)
		})
	} else {
		result, err = s.Search(ctx, q, page, size)
	}
	if err != nil {
		log.Error("search execution failed", "query", query, "error", err)
		h.writeErr(w, err)
		return
	}

	log.Info("search served",
		"query", query,
		"total_hits", result.Total,
		"returned", len(result.Docs),
		"cache_hit", cacheHit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Terms(w http.ResponseWriter, r *http.Request) {
	field := r.URL.Query().Get("field")
	if field == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'field' is required")
		return
	}
	limit, ok := h.intParam(w, r, "limit", h.maxResults, 0)
	if !ok {
		return
	}
	s, release := h.source.Acquire()
	defer release()
	terms, err := s.Terms(field, r.URL.Query().Get("prefix"), limit)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"field":   field,
		"version": s.Version(),
		"terms":   terms,
	})
}

func (h *Handler) Similar(w http.ResponseWriter, r *http.Request) {
	field := r.URL.Query().Get("field")
	token := r.URL.Query().Get("token")
	if field == "" || token == "" {
		h.writeError(w, http.StatusBadRequest, "query parameters 'field' and 'token' are required")
		return
	}
	edits, ok := h.intParam(w, r, "edits", 1, 0)
	if !ok {
		return
	}
	s, release := h.source.Acquire()
	defer release()
	tokens, err := s.Similar(field, token, edits)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"field":   field,
		"token":   token,
		"edits":   edits,
		"version": s.Version(),
		"tokens":  tokens,
	})
}

func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	switched, err := h.source.Reload()
	if err != nil {
		h.logger.Error("reload failed", "error", err)
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"reloaded": switched,
		"version":  h.source.Version(),
	})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) intParam(w http.ResponseWriter, r *http.Request, name string, def, min int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be an integer of at least %d", name, min))
		return 0, false
	}
	return v, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "search failed"
	}
	h.writeError(w, status, message)
}
