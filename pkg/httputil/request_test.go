package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	var dest struct {
		Quantity int `json:"quantity"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":25}`))
	require.NoError(t, ParseJSON(r, &dest))
	assert.Equal(t, 25, dest.Quantity)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":`))
	err := ParseJSON(r, &dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestParseJSONOrError(t *testing.T) {
	var dest map[string]any
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`not json`))

	assert.False(t, ParseJSONOrError(w, r, &dest))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParsePathString(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/customers/c1", nil)
	r = mux.SetURLVars(r, map[string]string{"customer_id": "c1"})

	val, err := ParsePathString(r, "customer_id")
	require.NoError(t, err)
	assert.Equal(t, "c1", val)

	_, err = ParsePathString(r, "session_id")
	assert.EqualError(t, err, "missing path parameter: session_id")

	w := httptest.NewRecorder()
	_, ok := ParsePathStringOrError(w, r, "session_id")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?required=12&active=true&bad=x", nil)

	n, err := ParseQueryInt(r, "required", 0)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	n, err = ParseQueryInt(r, "missing", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = ParseQueryInt(r, "bad", 0)
	assert.Error(t, err)

	b, err := ParseQueryBool(r, "active", false)
	require.NoError(t, err)
	assert.True(t, b)

	_, err = ParseQueryBool(r, "bad", false)
	assert.Error(t, err)
}
