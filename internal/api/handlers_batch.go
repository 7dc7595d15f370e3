// handlers_batch.go - Batch submission and combined result handlers
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pdf-batch/backend/internal/models"
	"github.com/pdf-batch/backend/internal/schema"
	"github.com/pdf-batch/backend/internal/upload"
	"github.com/vmihailenco/msgpack/v5"
)

// BatchHandlerImpl implements the BatchHandler interface
type BatchHandlerImpl struct {
	sessionMgr   SessionManager
	uploads      UploadTracker
	matcher      schema.Matcher
	allowedTypes map[string]bool
}

// NewBatchHandler creates a new batch handler. allowedTypes is a comma
// separated list of file extensions; empty accepts every file.
func NewBatchHandler(sessionMgr SessionManager, uploads UploadTracker, matcher schema.Matcher, allowedTypes string) BatchHandler {
	return &BatchHandlerImpl{
		sessionMgr:   sessionMgr,
		uploads:      uploads,
		matcher:      matcher,
		allowedTypes: parseAllowedTypes(allowedTypes),
	}
}

func parseAllowedTypes(list string) map[string]bool {
	out := make(map[string]bool)
	for _, ext := range strings.Split(list, ",") {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = true
	}
	return out
}

// StartBatchResponse is returned when a batch was accepted.
type StartBatchResponse struct {
	BatchID     string              `json:"batchId"`
	Assignments []PreviewAssignment `json:"assignments"`
	Diagnostics []models.Diagnostic `json:"diagnostics"`
	Snapshot    models.Snapshot     `json:"snapshot"`
}

// HandleStartBatch accepts a multipart submission with a "schema" text
// field and one or more "files" parts, then starts the batch.
func (h *BatchHandlerImpl) HandleStartBatch(c echo.Context) error {
	state, err := lookupSession(c, h.sessionMgr)
	if err != nil {
		return err
	}

	form, err := c.MultipartForm()
	if err != nil {
		return NewBadRequestError("expected multipart form", err)
	}

	text := ""
	if vals := form.Value["schema"]; len(vals) > 0 {
		text = vals[0]
	}

	files := make([]models.File, 0, len(form.File["files"]))
	for _, fh := range form.File["files"] {
		if !h.allowed(fh.Filename) {
			return NewBadRequestError(fmt.Sprintf("file type not allowed: %s", fh.Filename), nil)
		}
		f, err := readFormFile(fh)
		if err != nil {
			return NewBadRequestError(fmt.Sprintf("failed to read %s", fh.Filename), err)
		}
		files = append(files, f)
	}

	plan := h.matcher.Plan(text, files)
	handle, err := state.Controller.Start(c.Request().Context(), plan)
	if err != nil {
		return FromBatchError(err)
	}

	preview := NewPreviewResponse(plan)
	snap := state.Controller.State().Snapshot()
	snap.SessionID = state.ID
	return c.JSON(http.StatusAccepted, StartBatchResponse{
		BatchID:     handle.BatchID,
		Assignments: preview.Assignments,
		Diagnostics: preview.Diagnostics,
		Snapshot:    snap,
	})
}

func (h *BatchHandlerImpl) allowed(name string) bool {
	if len(h.allowedTypes) == 0 {
		return true
	}
	return h.allowedTypes[strings.ToLower(filepath.Ext(name))]
}

func readFormFile(fh *multipart.FileHeader) (models.File, error) {
	src, err := fh.Open()
	if err != nil {
		return models.File{}, err
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return models.File{}, err
	}
	contentType := fh.Header.Get(echo.HeaderContentType)
	if contentType == "" || contentType == echo.MIMEOctetStream {
		contentType = upload.DefaultContentType
	}
	return models.NewFile(fh.Filename, contentType, data), nil
}

// HandleUploadProgress returns the upload job of the session's current batch
func (h *BatchHandlerImpl) HandleUploadProgress(c echo.Context) error {
	state, err := lookupSession(c, h.sessionMgr)
	if err != nil {
		return err
	}

	batchID := state.Controller.State().BatchID()
	if batchID == "" {
		return NewNotFoundError("batch", "none started")
	}
	job, ok := h.uploads.GetJob(batchID)
	if !ok {
		return NewNotFoundError("upload job", batchID)
	}
	return c.JSON(http.StatusOK, job)
}

// HandleGetCombined downloads the combined result as a JSON array
func (h *BatchHandlerImpl) HandleGetCombined(c echo.Context) error {
	combined, err := h.combined(c)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(combined, "", "  ")
	if err != nil {
		return NewInternalError("failed to encode combined result", err)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", combined.FileName()))
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSONCharsetUTF8, data)
}

// HandleGetCombinedMsgpack returns the combined result encoded as msgpack
func (h *BatchHandlerImpl) HandleGetCombinedMsgpack(c echo.Context) error {
	combined, err := h.combined(c)
	if err != nil {
		return err
	}

	entries := make([]map[string]interface{}, 0, len(combined.Entries))
	for _, e := range combined.Entries {
		var result interface{}
		if err := json.Unmarshal(e.Result, &result); err != nil {
			return NewInternalError("failed to decode result of "+e.File, err)
		}
		entries = append(entries, map[string]interface{}{
			"file":   e.File,
			"result": result,
		})
	}

	data, err := msgpack.Marshal(map[string]interface{}{
		"batchId": combined.BatchID,
		"entries": entries,
	})
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}

	return c.Blob(http.StatusOK, "application/msgpack", data)
}

func (h *BatchHandlerImpl) combined(c echo.Context) (*models.CombinedResult, error) {
	state, err := lookupSession(c, h.sessionMgr)
	if err != nil {
		return nil, err
	}
	combined := state.Controller.State().Combined()
	if combined == nil {
		return nil, NewConflictError("combined result is not ready")
	}
	return combined, nil
}
