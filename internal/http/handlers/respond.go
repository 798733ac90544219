// Package handlers exposes the booking, payment and shop flows over HTTP.
// Handlers validate and authenticate before any service call; domain errors
// map onto stable status codes so clients can distinguish a lost race from
// a bad request.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/calmora/clinic-booking/internal/domain"
	"github.com/calmora/clinic-booking/internal/payments"
	"github.com/calmora/clinic-booking/pkg/logging"
)

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// writeError maps the domain error taxonomy onto HTTP statuses:
// validation 400, conflict 409, auth 403, gateway 502, network 503.
func writeError(w http.ResponseWriter, logger *logging.Logger, err error) {
	var (
		verr *domain.ValidationError
		cerr *domain.ConflictError
		aerr *domain.AuthError
		gerr *domain.GatewayError
		nerr *domain.NetworkError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation", Field: verr.Field, Message: verr.Reason})
	case errors.As(err, &cerr):
		writeJSON(w, http.StatusConflict, errorBody{Error: "conflict", Code: cerr.Code, Message: cerr.Message})
	case errors.As(err, &aerr):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Message: aerr.Reason})
	case errors.Is(err, payments.ErrAwaitingConfirmation):
		writeJSON(w, http.StatusConflict, errorBody{Error: "conflict", Code: "AWAITING_CONFIRMATION", Message: "payment not yet confirmed by the gateway"})
	case errors.As(err, &gerr):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "gateway", Message: gerr.Error()})
	case errors.As(err, &nerr):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "network", Message: "transient failure, retry manually"})
	default:
		logger.Error("unhandled error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal"})
	}
}
