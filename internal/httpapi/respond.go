package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"familytree/internal/blob"
	"familytree/pkg/domain"
)

type envelope struct {
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	Data    any      `json:"data,omitempty"`
	Error   string   `json:"error,omitempty"`
	Code    string   `json:"code,omitempty"`
	Details []string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("encode response", "error", err)
	}
}

func (h *handler) ok(w http.ResponseWriter, status int, data any) {
	writeJSON(w, h.logger, status, envelope{Success: true, Data: data})
}

// badRequest reports a request-shape problem detected before the core runs.
func (h *handler) badRequest(w http.ResponseWriter, code, msg string, details ...string) {
	writeJSON(w, h.logger, http.StatusBadRequest, envelope{Error: msg, Code: code, Details: details})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err in the error envelope. Internal details stay in the log.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, blob.ErrNotFound) {
		writeJSON(w, h.logger, http.StatusNotFound, envelope{Error: "export not found", Code: string(domain.KindNotFound)})
		return
	}
	kind := domain.KindOf(err)
	body := envelope{Code: string(kind), Error: err.Error()}
	var derr *domain.Error
	if errors.As(err, &derr) {
		if derr.Reason != "" {
			body.Code = string(derr.Reason)
		}
		if derr.Detail != "" {
			body.Error = derr.Detail
		}
	}
	if kind == domain.KindInternal {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		body.Error = "internal error"
	}
	writeJSON(w, h.logger, statusFor(kind), body)
}
