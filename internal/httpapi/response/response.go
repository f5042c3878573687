package response

import (
	"encoding/json"
	"net/http"

	"platformd/backend/internal/apperrors"
)

// errorEnvelope is the body of every failed request. Detail is a string for http_error and a list
// of field errors for validation_error.
type errorEnvelope struct {
	Status string `json:"status"`
	Type   string `json:"type"`
	Detail any    `json:"detail"`
}

// JSON writes data as a plain JSON body.
func JSON(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, data)
}

func Error(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorEnvelope{Status: "error", Type: apperrors.TypeHTTP, Detail: message})
}

// Fail renders err with the status and envelope its kind maps to.
func Fail(w http.ResponseWriter, err error) {
	typ, detail := apperrors.Detail(err)
	writeJSON(w, apperrors.HTTPStatus(err), errorEnvelope{Status: "error", Type: typ, Detail: detail})
}

func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func DecodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
