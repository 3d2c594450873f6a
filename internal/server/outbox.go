package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/miroir/internal/models"
	"github.com/desertthunder/miroir/internal/shared"
)

// maxSubmissionBytes bounds a submission body.
const maxSubmissionBytes = 1 << 20

// Enqueuer persists a submission for later delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, category models.Category, fields map[string]string) (*models.SubmissionRecord, error)
}

// OutboxHandler accepts form submissions while the destination may be unreachable.
//
//	POST /outbox/{category}   JSON object or form body
//
//	202  record queued, body is the record
//	400  malformed body
//	404  unknown category
//	503  the queue could not save it
type OutboxHandler struct {
	queue  Enqueuer
	logger *log.Logger
}

// NewOutboxHandler creates the outbox handler over queue.
func NewOutboxHandler(queue Enqueuer, logger *log.Logger) *OutboxHandler {
	return &OutboxHandler{queue: queue, logger: logger}
}

// Routes returns the HTTP routes this handler serves.
func (h *OutboxHandler) Routes() []string {
	return []string{"POST /outbox/{category}"}
}

func (h *OutboxHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	category, err := models.ParseCategory(r.PathValue("category"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	fields, err := decodeFields(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	record, err := h.queue.Enqueue(r.Context(), category, fields)
	switch {
	case err == nil:
	case errors.Is(err, shared.ErrStorage):
		h.logger.Error("failed to queue submission", "category", category, "err", err)
		writeError(w, http.StatusServiceUnavailable, "saving failed, please retry")
		return
	case errors.Is(err, shared.ErrInvalidInput), errors.Is(err, shared.ErrInvalidCategory):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		h.logger.Error("unexpected enqueue failure", "category", category, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusAccepted, record)
}

// decodeFields reads a flat field map from a JSON object or a form body.
//
// Non-string JSON values are kept in their JSON encoding.
func decodeFields(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSubmissionBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(maxSubmissionBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return nil, fmt.Errorf("invalid form body: %w", err)
		}
		fields := make(map[string]string, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) > 0 {
				fields[k] = v[0]
			}
		}
		return fields, nil
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}

	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			fields[k] = s
			continue
		}
		fields[k] = string(v)
	}
	return fields, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := shared.MarshalJSON(v, false)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	w.Write([]byte("\n"))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
