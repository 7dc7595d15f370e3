package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pdf-batch/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientNotify(t *testing.T) {
	var gotBody map[string]string
	var gotSecret, gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		gotSecret = r.Header.Get(SecretHeader)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "s3cret", time.Second)
	require.NoError(t, c.Notify(context.Background(), "batch-1"))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/process-job", gotPath)
	assert.Equal(t, "s3cret", gotSecret)
	assert.Equal(t, "batch-1", gotBody["job_id"])
}

func TestClientNotifyFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(SecretHeader))
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	assert.Error(t, NewClient(srv.URL, "", time.Second).Notify(context.Background(), "b"))
	assert.Error(t, NewClient("", "", time.Second).Notify(context.Background(), "b"))
}

func TestClientHealth(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
		w.Write([]byte("ok"))
	}))
	defer ok.Close()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	ctx := context.Background()
	assert.Equal(t, models.WorkerStatusOK, NewClient(ok.URL, "", time.Second).Health(ctx))
	assert.Equal(t, models.WorkerStatusUnreachable, NewClient(down.URL, "", time.Second).Health(ctx))
	assert.Equal(t, models.WorkerStatusUnreachable, NewClient("", "", time.Second).Health(ctx))
	assert.Equal(t, models.WorkerStatusUnreachable, NewClient("http://127.0.0.1:1", "", 200*time.Millisecond).Health(ctx))
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.json":
			w.Write([]byte(`{"a":1}`))
		case "/big.json":
			w.Write([]byte(`{"padding":"0123456789"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(time.Second, 16)
	ctx := context.Background()

	data, err := f.Fetch(ctx, srv.URL+"/ok.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	_, err = f.Fetch(ctx, srv.URL+"/missing.json")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)

	_, err = f.Fetch(ctx, srv.URL+"/big.json")
	assert.Error(t, err)
}
