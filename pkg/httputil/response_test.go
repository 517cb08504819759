package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteJSON(w, http.StatusCreated, map[string]int{"quantity": 25}))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"quantity":25}`, w.Body.String())
}

func TestWriteErrors(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		want   ErrorResponse
	}{
		{
			name:   "error",
			write:  func(w http.ResponseWriter) { WriteError(w, http.StatusBadGateway, errors.New("backend down")) },
			status: http.StatusBadGateway,
			want:   ErrorResponse{Error: "backend down"},
		},
		{
			name:   "field",
			write:  func(w http.ResponseWriter) { WriteFieldError(w, http.StatusBadRequest, "quantity", "must be a whole number") },
			status: http.StatusBadRequest,
			want:   ErrorResponse{Error: "must be a whole number", Field: "quantity"},
		},
		{
			name:   "not found",
			write:  func(w http.ResponseWriter) { WriteNotFound(w, "session not found") },
			status: http.StatusNotFound,
			want:   ErrorResponse{Error: "session not found"},
		},
		{
			name: "details",
			write: func(w http.ResponseWriter) {
				WriteDetailedError(w, http.StatusConflict, "allowance exhausted", map[string]any{"allowance": float64(10)})
			},
			status: http.StatusConflict,
			want:   ErrorResponse{Error: "allowance exhausted", Details: map[string]any{"allowance": float64(10)}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.status, w.Code)
			var got ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestDecodeError(t *testing.T) {
	respond := func(body string) *http.Response {
		return &http.Response{Body: io.NopCloser(strings.NewReader(body))}
	}

	assert.Equal(t, ErrorResponse{Error: "conflict", Field: "tier_id"},
		DecodeError(respond(`{"error":"conflict","field":"tier_id"}`)))
	assert.Equal(t, ErrorResponse{Error: "upstream timeout"}, DecodeError(respond("upstream timeout\n")))
	assert.Equal(t, ErrorResponse{}, DecodeError(respond("")))
}
