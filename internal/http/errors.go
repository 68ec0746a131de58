package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"invoicer/internal/invoice"
	applog "invoicer/internal/log"
	"invoicer/internal/services"
)

const (
	codeInvalidRequest   = "invalid_request"
	codeCouldNotGenerate = "could_not_generate"
	codeNotFound         = "not_found"
	codeRateLimited      = "rate_limited"
	codeServerError      = "server_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps invoice and service errors to responses. Details of
// unexpected failures are logged and never sent to the client.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	logger := applog.FromContext(ctx)

	var ve *invoice.ValidationError
	switch {
	case services.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, codeNotFound, "not found")
	case errors.As(err, &ve):
		logger.InfoContext(ctx, "Invoice request rejected", applog.FieldOperation, op, applog.FieldError, err)
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error: "could not generate invoice: " + ve.Message,
			Code:  codeCouldNotGenerate,
			Field: ve.Field,
		})
	case invoice.IsUpstreamDataError(err):
		logger.WarnContext(ctx, "Invoice data incomplete", applog.FieldOperation, op, applog.FieldError, err)
		writeJSONError(w, http.StatusUnprocessableEntity, codeCouldNotGenerate, "could not generate invoice")
	case errors.Is(err, context.Canceled):
		logger.InfoContext(ctx, "Request cancelled", applog.FieldOperation, op)
	default:
		s.events.LogError(ctx, "Request failed", err, applog.ComponentInvoice, op, nil)
		writeJSONError(w, http.StatusInternalServerError, codeServerError, "internal server error")
	}
}
