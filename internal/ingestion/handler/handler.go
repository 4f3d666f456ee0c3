// Package handler serves the document ingestion endpoint.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/trieindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/logger"
)

const maxBodyBytes = 64 << 20

type Handler struct {
	publisher  *publisher.Publisher
	primaryKey string
	logger     *slog.Logger
}

func New(pub *publisher.Publisher, primaryKey string) *Handler {
	return &Handler{
		publisher:  pub,
		primaryKey: primaryKey,
		logger:     slog.Default().With("component", "ingestion-handler"),
	}
}

// Register mounts the ingestion routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/documents", h.Ingest)
}

// Ingest accepts {"documents": [...]} as application/json, or one document
// event per line as application/x-ndjson.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)

	req, err := decodeRequest(body, r.Header.Get("Content-Type"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if err := validator.ValidateIngestRequest(req, h.primaryKey); err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.publisher.Ingest(ctx, req)
	if err != nil {
		log.Error("ingestion failed", "documents", len(req.Documents), "error", err)
		h.writeErr(w, fmt.Errorf("%w: %w", apperrors.ErrUnavailable, err))
		return
	}
	log.Info("documents queued", "count", resp.Accepted)
	h.writeJSON(w, http.StatusAccepted, resp)
}

func decodeRequest(body io.Reader, contentType string) (*ingestion.IngestRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	req := &ingestion.IngestRequest{}
	if mediaType != "application/x-ndjson" {
		if err := json.NewDecoder(body).Decode(req); err != nil {
			return nil, decodeError(err)
		}
		return req, nil
	}
	dec := json.NewDecoder(body)
	for line := 1; ; line++ {
		var event indexer.DocumentEvent
		err := dec.Decode(&event)
		if err == io.EOF {
			return req, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, decodeError(err))
		}
		req.Documents = append(req.Documents, event)
	}
}

func decodeError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperrors.Newf(apperrors.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge, "body exceeds %d bytes", tooLarge.Limit)
	}
	return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid JSON body")
}

func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		h.writeError(w, status, appErr.Message)
	case status == http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "5")
		h.writeError(w, status, "ingestion temporarily unavailable")
	default:
		h.writeError(w, status, err.Error())
	}
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
