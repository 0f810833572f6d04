package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"rbw-core/internal/middleware"
	"rbw-core/internal/models"
)

type ErrorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

var statusByKind = map[string]int{
	models.ErrNotFound.Error():         http.StatusNotFound,
	models.ErrConflict.Error():         http.StatusConflict,
	models.ErrValidation.Error():       http.StatusBadRequest,
	models.ErrPermissionDenied.Error(): http.StatusForbidden,
	models.ErrPolicyViolation.Error():  http.StatusUnprocessableEntity,
	models.ErrTimeout.Error():          http.StatusGatewayTimeout,
	models.ErrTransient.Error():        http.StatusServiceUnavailable,
	models.ErrShutdown.Error():         http.StatusServiceUnavailable,
	models.ErrNotConfigured.Error():    http.StatusServiceUnavailable,
}

// StatusFor maps an error to the HTTP status of its kind.
func StatusFor(err error) int {
	if code, ok := statusByKind[models.KindOf(err)]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// respondWithErr writes err as a typed error body. Internal errors are
// logged and their message withheld.
func respondWithErr(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusFor(err)
	resp := ErrorResponse{Error: err.Error(), Code: models.KindOf(err)}
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}
	if code == http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		resp.Error = "internal error"
	}
	respondWithJSON(w, code, resp)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return models.Invalid("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

// staffID returns the authenticated staff member of the request.
func staffID(r *http.Request) string {
	if claims, ok := middleware.GetStaffFromContext(r.Context()); ok {
		return claims.StaffID
	}
	return models.SystemActor
}
