package httputil

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// ErrorResponse is the JSON body of every error response
type ErrorResponse struct {
	Error   string         `json:"error"`
	Field   string         `json:"field,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes err as a JSON error response
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteErrorMessage(w, status, err.Error())
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	_ = WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteFieldError writes an error tied to one request field
func WriteFieldError(w http.ResponseWriter, status int, field, message string) {
	_ = WriteJSON(w, status, ErrorResponse{Error: message, Field: field})
}

// WriteDetailedError writes an error with structured details
func WriteDetailedError(w http.ResponseWriter, status int, message string, details map[string]any) {
	_ = WriteJSON(w, status, ErrorResponse{Error: message, Details: details})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteNotFound writes a not found error (404)
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusNotFound, message)
}

// WriteInternalError writes an internal server error (500)
func WriteInternalError(w http.ResponseWriter, err error) {
	WriteError(w, http.StatusInternalServerError, err)
}

// WriteNoContent writes a successful response with no content (204)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// DecodeError reads an error response body. Bodies that are not an
// ErrorResponse come back with their trimmed text as the message.
func DecodeError(resp *http.Response) ErrorResponse {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(body) == 0 {
		return ErrorResponse{}
	}
	var out ErrorResponse
	if json.Unmarshal(body, &out) == nil && out.Error != "" {
		return out
	}
	return ErrorResponse{Error: strings.TrimSpace(string(body))}
}
