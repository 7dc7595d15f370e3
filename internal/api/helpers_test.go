package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pdf-batch/backend/internal/batch"
	"github.com/pdf-batch/backend/internal/events"
	"github.com/pdf-batch/backend/internal/schema"
	"github.com/pdf-batch/backend/internal/session"
	"github.com/pdf-batch/backend/internal/testutil"
	"github.com/pdf-batch/backend/internal/upload"
	"github.com/rs/zerolog"
)

// apiEnv wires handlers to in-memory fakes.
type apiEnv struct {
	e        *echo.Echo
	hub      *events.Hub
	recs     *testutil.MockRecords
	docs     *testutil.MockObjectStore
	results  *testutil.MockObjectStore
	fetcher  *testutil.MockFetcher
	worker   *testutil.MockWorker
	uploads  *upload.Manager
	sessions *session.Manager
	handlers *Handlers
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	env := &apiEnv{
		e:       echo.New(),
		hub:     events.NewHub(0, zerolog.Nop()),
		docs:    testutil.NewMockObjectStore("docs", "http://test/storage"),
		results: testutil.NewMockObjectStore("results", "http://test/storage"),
		fetcher: testutil.NewMockFetcher(),
		worker:  testutil.NewMockWorker(),
	}
	env.recs = testutil.NewMockRecords(env.hub)
	env.uploads = upload.NewManager(env.docs, zerolog.Nop())
	agg := batch.NewAggregator(env.results, env.fetcher, time.Second, zerolog.Nop())
	env.sessions = session.NewManager(func() *batch.Controller {
		return batch.NewController(env.recs, env.hub, env.uploads, env.worker, agg,
			batch.Options{WatchInterval: 10 * time.Millisecond}, zerolog.Nop())
	}, 0, zerolog.Nop())

	env.handlers = NewHandlers(&Dependencies{
		SessionMgr:   env.sessions,
		Uploads:      env.uploads,
		Records:      env.recs,
		Docs:         env.docs,
		Results:      env.results,
		Worker:       env.worker,
		Matcher:      schema.DefaultMatcher,
		AllowedTypes: ".pdf",
		MaxResult:    1024,
		Version:      "test",
		Logger:       zerolog.Nop(),
	})
	env.e.HTTPErrorHandler = NewErrorHandler(zerolog.Nop(), true)

	t.Cleanup(func() {
		env.sessions.Close()
		env.hub.Close()
	})
	return env
}

// context builds an echo context with path params given as name, value pairs.
func (env *apiEnv) context(req *http.Request, params ...string) (echo.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	c := env.e.NewContext(req, rec)
	var names, values []string
	for i := 0; i+1 < len(params); i += 2 {
		names = append(names, params[i])
		values = append(values, params[i+1])
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	return c, rec
}

func (env *apiEnv) newSession(t *testing.T) *session.SessionState {
	t.Helper()
	s, err := env.sessions.CreateSession()
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

type formFile struct {
	name        string
	contentType string
	data        string
}

func multipartRequest(t *testing.T, target, schemaText string, files ...formFile) *http.Request {
	t.Helper()
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("schema", schemaText); err != nil {
		t.Fatal(err)
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="files"; filename="`+f.name+`"`)
		if f.contentType != "" {
			h.Set("Content-Type", f.contentType)
		}
		part, err := writer.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		io.WriteString(part, f.data)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	return req
}

// requireAPIError asserts err is an *APIError with the given status and code.
func requireAPIError(t *testing.T, err error, status int, code string) *APIError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.Status != status {
		t.Errorf("expected status %d, got %d (%s)", status, apiErr.Status, apiErr.Message)
	}
	if code != "" && apiErr.Code != code {
		t.Errorf("expected error code %s, got %s", code, apiErr.Code)
	}
	return apiErr
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", rec.Body.String(), err)
	}
}
