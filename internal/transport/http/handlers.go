// Package httptransport is the thin HTTP surface over the dispatcher. It
// extracts the credential and body, invokes the named procedure, and
// translates coded errors to statuses; no business logic lives here.
package httptransport

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"gantry/internal/dispatch"
	"gantry/pkg/domainerrors"
	"gantry/pkg/requestcontext"
)

// maxBodyBytes bounds procedure inputs; anything larger is a client error.
const maxBodyBytes = 1 << 20

type Handler struct {
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

func NewHandler(dispatcher *dispatch.Dispatcher, logger *slog.Logger) *Handler {
	return &Handler{dispatcher: dispatcher, logger: logger}
}

func (h *Handler) handleProcedure(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, domainerrors.New(domainerrors.CodeBadRequest, "unreadable request body"))
		return
	}
	if len(body) > maxBodyBytes {
		writeError(w, domainerrors.New(domainerrors.CodeBadRequest, "request body too large"))
		return
	}

	value, err := h.dispatcher.Dispatch(ctx, name, body, bearerToken(r))
	if err != nil {
		code := domainerrors.CodeOf(err)
		if code == domainerrors.CodeInternal {
			h.logger.ErrorContext(ctx, "procedure dispatch failed",
				"procedure", name,
				"request_id", requestcontext.RequestID(ctx),
				"error", err.Error(),
			)
		}
		writeError(w, err)
		return
	}

	writeResult(w, value)
}

// bearerToken extracts the credential from the Authorization header. An
// absent or malformed header yields an empty credential; the dispatcher
// rejects it with the proper code.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func writeResult(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	// Cached query results are already encoded; wrap without re-marshalling
	// so cache hits and misses stay byte-identical.
	if raw, ok := value.(json.RawMessage); ok {
		_, _ = w.Write([]byte(`{"result":`))
		_, _ = w.Write(raw)
		_, _ = w.Write([]byte(`}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"result": value})
}

func writeError(w http.ResponseWriter, err error) {
	code := domainerrors.CodeOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusOf(code))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   string(code),
		"message": domainerrors.MessageOf(err),
	})
}

func statusOf(code domainerrors.Code) int {
	switch code {
	case domainerrors.CodeBadRequest:
		return http.StatusBadRequest
	case domainerrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case domainerrors.CodeForbidden:
		return http.StatusForbidden
	case domainerrors.CodeNotFound:
		return http.StatusNotFound
	case domainerrors.CodeConflict:
		return http.StatusConflict
	case domainerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case domainerrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
