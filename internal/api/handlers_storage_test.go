package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageHandler_PutAndGetResult(t *testing.T) {
	env := newAPIEnv(t)
	h := env.handlers.Storage

	req := httptest.NewRequest(http.MethodPut, "/", bytes.NewBufferString(`{"nome":"Ana"}`))
	req.Header.Set("Content-Type", "application/json")
	c, rec := env.context(req, "bucket", "results", "*", "b1/a.json")
	require.NoError(t, h.HandlePutResult(c))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"path":"b1/a.json"`)

	data, ok := env.results.GetObjectData("b1/a.json")
	require.True(t, ok)
	assert.Equal(t, `{"nome":"Ana"}`, string(data))

	c, rec = env.context(httptest.NewRequest(http.MethodGet, "/", nil), "bucket", "results", "*", "b1/a.json")
	require.NoError(t, h.HandleGetObject(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, `{"nome":"Ana"}`, rec.Body.String())
}

func TestStorageHandler_GetDocument(t *testing.T) {
	env := newAPIEnv(t)
	env.docs.AddObject("b1/u-a file.pdf", []byte("%PDF"))

	c, rec := env.context(httptest.NewRequest(http.MethodGet, "/", nil), "bucket", "docs", "*", "b1/u-a%20file.pdf")
	require.NoError(t, env.handlers.Storage.HandleGetObject(c))
	assert.Equal(t, "%PDF", rec.Body.String())
}

func TestStorageHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		bucket     string
		path       string
		body       string
		wantStatus int
		errCode    string
	}{
		{"unknown bucket", http.MethodGet, "other", "a.json", "", http.StatusNotFound, "NOT_FOUND"},
		{"missing object", http.MethodGet, "results", "nope.json", "", http.StatusNotFound, "NOT_FOUND"},
		{"docs are read-only", http.MethodPut, "docs", "a.pdf", "x", http.StatusForbidden, "FORBIDDEN"},
		{"too large", http.MethodPut, "results", "big.json", strings.Repeat("x", 1025), http.StatusRequestEntityTooLarge, "TOO_LARGE"},
		{"escaping path", http.MethodPut, "results", "../a.json", "{}", http.StatusBadRequest, "BAD_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newAPIEnv(t)
			h := env.handlers.Storage
			req := httptest.NewRequest(tt.method, "/", bytes.NewBufferString(tt.body))
			c, _ := env.context(req, "bucket", tt.bucket, "*", tt.path)

			var err error
			if tt.method == http.MethodPut {
				err = h.HandlePutResult(c)
			} else {
				err = h.HandleGetObject(c)
			}
			requireAPIError(t, err, tt.wantStatus, tt.errCode)
		})
	}
}
