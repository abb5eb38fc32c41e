package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/afroash/krishii-mitra/internal/dashboard"
	"github.com/afroash/krishii-mitra/internal/models"
	"github.com/afroash/krishii-mitra/internal/users"
)

// errorResponse is the JSON body of every failed request
type errorResponse struct {
	Error      string             `json:"error"`
	Detail     string             `json:"detail,omitempty"`
	Violations []models.Violation `json:"violations,omitempty"`
	Fields     []string           `json:"fields,omitempty"`
}

// statusOf maps the error taxonomy to an HTTP status
func statusOf(err error) int {
	var (
		validationErr *models.ValidationError
		commandErr    *models.CommandFailedError
		timeoutErr    *models.TimeoutError
		networkErr    *models.NetworkError
		serverErr     *models.ServerError
		parseErr      *models.ParseError
	)

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrBusy),
		errors.Is(err, models.ErrPumpAuto),
		errors.Is(err, models.ErrConfirmationRequired):
		return http.StatusConflict
	case errors.Is(err, users.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dashboard.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &commandErr):
		return http.StatusBadGateway
	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout
	case errors.As(err, &networkErr), errors.As(err, &serverErr), errors.As(err, &parseErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (api *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	resp := errorResponse{Error: models.UserMessage(err)}

	var validationErr *models.ValidationError
	if errors.As(err, &validationErr) {
		resp.Violations = validationErr.Violations
		resp.Fields = validationErr.Fields()
	}
	if status == http.StatusServiceUnavailable || status == http.StatusNotFound {
		resp.Error = err.Error()
	}
	if status >= 500 {
		resp.Detail = err.Error()
		api.logger.Warn().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request failed")
	}
	writeJSON(w, status, resp)
}

// invalid builds a single-field ValidationError
func invalid(field, message string) error {
	verr := &models.ValidationError{}
	verr.Add(field, message)
	return verr
}
