package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/pdf-batch/backend/internal/models"
	"github.com/pdf-batch/backend/internal/session"
	"github.com/pdf-batch/backend/internal/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func startBatch(t *testing.T, env *apiEnv, sess *session.SessionState, schemaText string, files ...formFile) StartBatchResponse {
	t.Helper()
	c, rec := env.context(multipartRequest(t, "/", schemaText, files...), "sessionId", sess.ID)
	require.NoError(t, env.handlers.Batch.HandleStartBatch(c))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp StartBatchResponse
	decodeBody(t, rec, &resp)
	require.NotEmpty(t, resp.BatchID)
	return resp
}

// completeBatch marks every item done with a result and finishes the batch.
func completeBatch(t *testing.T, env *apiEnv, batchID string) {
	t.Helper()
	ctx := context.Background()
	items, err := env.recs.ListWorkItems(ctx, batchID)
	require.NoError(t, err)

	done := models.ItemStatusDone
	for _, it := range items {
		path := batchID + "/" + it.ID + ".json"
		env.fetcher.Set("http://test/storage/results/"+path, `{"file":"`+it.FileName+`","nome":"Ana"}`)
		_, err := env.recs.UpdateWorkItem(ctx, it.ID, models.WorkItemPatch{Status: &done, ResultPath: &path})
		require.NoError(t, err)
	}
	status := models.BatchStatusDone
	count := len(items)
	_, err = env.recs.UpdateBatch(ctx, batchID, models.BatchPatch{Status: &status, DoneCount: &count})
	require.NoError(t, err)
}

func TestBatchHandler_StartAndDownload(t *testing.T) {
	env := newAPIEnv(t)
	sess := env.newSession(t)

	resp := startBatch(t, env, sess, `{"nome": null}`,
		formFile{name: "a.pdf", contentType: "application/pdf", data: "%PDF-a"},
		formFile{name: "b.pdf", data: "%PDF-b"},
	)
	require.Len(t, resp.Assignments, 2)
	assert.Equal(t, models.MatchedBySingle, resp.Assignments[0].MatchedBy)
	assert.True(t, resp.Snapshot.Processing)
	assert.Equal(t, sess.ID, resp.Snapshot.SessionID)

	items, err := env.recs.ListWorkItems(context.Background(), resp.BatchID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	info, err := env.docs.Stat(items[1].StoredPath)
	require.NoError(t, err)
	assert.Equal(t, upload.DefaultContentType, info.ContentType, "parts without a type are stored as PDF")

	// Combined result is not ready while the batch runs.
	c, _ := env.context(jsonRequest(http.MethodGet, "/", ""), "sessionId", sess.ID)
	requireAPIError(t, env.handlers.Batch.HandleGetCombined(c), http.StatusConflict, "CONFLICT")

	completeBatch(t, env, resp.BatchID)
	require.Eventually(t, func() bool { return sess.Controller.State().Combined() != nil }, 2*time.Second, 10*time.Millisecond)

	c, rec := env.context(jsonRequest(http.MethodGet, "/", ""), "sessionId", sess.ID)
	require.NoError(t, env.handlers.Batch.HandleGetCombined(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "batch-"+resp.BatchID+"-combined.json")

	var entries []struct {
		File   string          `json:"file"`
		Result json.RawMessage `json:"result"`
	}
	decodeBody(t, rec, &entries)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.pdf", entries[0].File)
	assert.JSONEq(t, `{"file":"a.pdf","nome":"Ana"}`, string(entries[0].Result))
	assert.Equal(t, "b.pdf", entries[1].File)

	c, rec = env.context(jsonRequest(http.MethodGet, "/", ""), "sessionId", sess.ID)
	require.NoError(t, env.handlers.Batch.HandleGetCombinedMsgpack(c))
	assert.Equal(t, "application/msgpack", rec.Header().Get("Content-Type"))

	var packed struct {
		BatchID string `msgpack:"batchId"`
		Entries []struct {
			File   string            `msgpack:"file"`
			Result map[string]string `msgpack:"result"`
		} `msgpack:"entries"`
	}
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &packed))
	assert.Equal(t, resp.BatchID, packed.BatchID)
	require.Len(t, packed.Entries, 2)
	assert.Equal(t, "b.pdf", packed.Entries[1].File)
	assert.Equal(t, "Ana", packed.Entries[1].Result["nome"])
}

func TestBatchHandler_UploadProgress(t *testing.T) {
	env := newAPIEnv(t)
	sess := env.newSession(t)

	c, _ := env.context(jsonRequest(http.MethodGet, "/", ""), "sessionId", sess.ID)
	requireAPIError(t, env.handlers.Batch.HandleUploadProgress(c), http.StatusNotFound, "NOT_FOUND")

	startBatch(t, env, sess, `{}`, formFile{name: "a.pdf", data: "x"}, formFile{name: "b.pdf", data: "y"})

	c, rec := env.context(jsonRequest(http.MethodGet, "/", ""), "sessionId", sess.ID)
	require.NoError(t, env.handlers.Batch.HandleUploadProgress(c))

	var job upload.Job
	decodeBody(t, rec, &job)
	assert.Equal(t, upload.StatusComplete, job.Status)
	assert.Equal(t, 2, job.Total)
	assert.Equal(t, 2, job.Uploaded)
}

func TestBatchHandler_StartErrors(t *testing.T) {
	tests := []struct {
		name       string
		schema     string
		files      []formFile
		failPut    bool
		wantStatus int
		errCode    string
	}{
		{
			name:       "unparseable schema",
			schema:     `not json`,
			files:      []formFile{{name: "a.pdf", data: "x"}},
			wantStatus: http.StatusBadRequest,
			errCode:    "INVALID_INPUT",
		},
		{
			name:       "no files",
			schema:     `{}`,
			wantStatus: http.StatusBadRequest,
			errCode:    "INVALID_INPUT",
		},
		{
			name:       "file type not allowed",
			schema:     `{}`,
			files:      []formFile{{name: "notes.txt", data: "x"}},
			wantStatus: http.StatusBadRequest,
			errCode:    "BAD_REQUEST",
		},
		{
			name:       "storage failure",
			schema:     `{}`,
			files:      []formFile{{name: "a.pdf", data: "x"}},
			failPut:    true,
			wantStatus: http.StatusBadGateway,
			errCode:    "UPSTREAM_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newAPIEnv(t)
			sess := env.newSession(t)
			if tt.failPut {
				env.docs.FailOnPut(1, errors.New("disk full"))
			}

			c, _ := env.context(multipartRequest(t, "/", tt.schema, tt.files...), "sessionId", sess.ID)
			requireAPIError(t, env.handlers.Batch.HandleStartBatch(c), tt.wantStatus, tt.errCode)
			assert.False(t, sess.Controller.State().Processing())
		})
	}
}

func TestBatchHandler_StartRequiresMultipart(t *testing.T) {
	env := newAPIEnv(t)
	sess := env.newSession(t)

	c, _ := env.context(jsonRequest(http.MethodPost, "/", `{"schema":"{}"}`), "sessionId", sess.ID)
	requireAPIError(t, env.handlers.Batch.HandleStartBatch(c), http.StatusBadRequest, "BAD_REQUEST")
}

func TestFromBatchError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, FromBatchError(errors.New("plain")).Status)
}
