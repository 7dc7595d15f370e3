// handlers_session.go - Client session and mapping preview handlers
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pdf-batch/backend/internal/models"
	"github.com/pdf-batch/backend/internal/schema"
	"github.com/pdf-batch/backend/internal/session"
)

// SessionHandlerImpl implements the SessionHandler interface
type SessionHandlerImpl struct {
	sessionMgr SessionManager
	matcher    schema.Matcher
}

// NewSessionHandler creates a new session handler instance
func NewSessionHandler(sessionMgr SessionManager, matcher schema.Matcher) SessionHandler {
	return &SessionHandlerImpl{
		sessionMgr: sessionMgr,
		matcher:    matcher,
	}
}

// previewRequest is the body of a mapping preview.
type previewRequest struct {
	Schema string   `json:"schema"`
	Files  []string `json:"files"`
}

// PreviewAssignment is one row of the mapping preview.
type PreviewAssignment struct {
	File      string           `json:"file"`
	Label     string           `json:"label"`
	MatchedBy models.MatchedBy `json:"matchedBy"`
	Fields    []string         `json:"fields"`
	Schema    json.RawMessage  `json:"schema"`
}

// PreviewResponse is the mapping preview for a schema text and file names.
type PreviewResponse struct {
	Valid       bool                `json:"valid"`
	ParseError  string              `json:"parseError,omitempty"`
	Mode        models.SchemaMode   `json:"mode,omitempty"`
	Assignments []PreviewAssignment `json:"assignments"`
	Diagnostics []models.Diagnostic `json:"diagnostics"`
}

// NewPreviewResponse flattens a plan into preview rows.
func NewPreviewResponse(plan models.Plan) PreviewResponse {
	resp := PreviewResponse{
		Valid:       plan.Valid,
		ParseError:  plan.ParseError,
		Mode:        plan.Input.Mode,
		Assignments: make([]PreviewAssignment, 0, len(plan.Assignments)),
		Diagnostics: plan.Diagnostics,
	}
	for _, a := range plan.Assignments {
		fields := schema.FieldNames(a.Schema)
		if fields == nil {
			fields = []string{}
		}
		resp.Assignments = append(resp.Assignments, PreviewAssignment{
			File:      a.File.Name,
			Label:     a.Label,
			MatchedBy: a.MatchedBy,
			Fields:    fields,
			Schema:    a.Schema,
		})
	}
	if resp.Diagnostics == nil {
		resp.Diagnostics = []models.Diagnostic{}
	}
	return resp
}

// HandleCreateSession registers a new client session
func (h *SessionHandlerImpl) HandleCreateSession(c echo.Context) error {
	state, err := h.sessionMgr.CreateSession()
	if err != nil {
		if errors.Is(err, session.ErrTooManySessions) {
			return NewServiceUnavailableError("too many active sessions, try again later")
		}
		return NewInternalError("failed to create session", err)
	}

	snap := state.Controller.State().Snapshot()
	snap.SessionID = state.ID
	return c.JSON(http.StatusCreated, snap)
}

// HandleGetSession returns the session's batch snapshot
func (h *SessionHandlerImpl) HandleGetSession(c echo.Context) error {
	state, err := lookupSession(c, h.sessionMgr)
	if err != nil {
		return err
	}

	snap := state.Controller.State().Snapshot()
	snap.SessionID = state.ID
	return c.JSON(http.StatusOK, snap)
}

// HandleDeleteSession stops the session's batch watch and forgets it
func (h *SessionHandlerImpl) HandleDeleteSession(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}
	if !h.sessionMgr.DeleteSession(id) {
		return NewNotFoundError("session", id)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleSessionKeepAlive extends session lifetime for active viewing
func (h *SessionHandlerImpl) HandleSessionKeepAlive(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}

	if ok := h.sessionMgr.TouchSession(id); !ok {
		return NewNotFoundError("session", id)
	}

	return c.NoContent(http.StatusNoContent)
}

// HandlePreview returns the file to schema mapping a submission would use
func (h *SessionHandlerImpl) HandlePreview(c echo.Context) error {
	if _, err := lookupSession(c, h.sessionMgr); err != nil {
		return err
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return NewBadRequestError("failed to read request body", err)
	}
	var req previewRequest
	if err := validateJSON(previewValidator, "preview request", body, &req); err != nil {
		return err
	}

	files := make([]models.File, len(req.Files))
	for i, name := range req.Files {
		files[i] = models.File{Name: name}
	}
	return c.JSON(http.StatusOK, NewPreviewResponse(h.matcher.Plan(req.Schema, files)))
}

// lookupSession resolves :sessionId and marks the session as used.
func lookupSession(c echo.Context, mgr SessionManager) (*session.SessionState, error) {
	id := c.Param("sessionId")
	if id == "" {
		return nil, NewValidationError("sessionId")
	}
	state, ok := mgr.GetSession(id)
	if !ok {
		return nil, NewNotFoundError("session", id)
	}
	mgr.TouchSession(id)
	return state, nil
}
