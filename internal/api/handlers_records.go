// handlers_records.go - Worker-facing batch and work item record handlers
package api

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pdf-batch/backend/internal/models"
	"github.com/pdf-batch/backend/internal/records"
)

// RecordHandlerImpl implements the RecordHandler interface
type RecordHandlerImpl struct {
	store records.Store
}

// NewRecordHandler creates a new record handler instance
func NewRecordHandler(store records.Store) RecordHandler {
	return &RecordHandlerImpl{store: store}
}

// HandleGetBatch returns one batch record
func (h *RecordHandlerImpl) HandleGetBatch(c echo.Context) error {
	id := c.Param("id")
	b, err := h.store.GetBatch(c.Request().Context(), id)
	if err != nil {
		return fromStoreError("batch", id, err)
	}
	return c.JSON(http.StatusOK, b)
}

// HandlePatchBatch applies a partial update to a batch record
func (h *RecordHandlerImpl) HandlePatchBatch(c echo.Context) error {
	id := c.Param("id")
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return NewBadRequestError("failed to read request body", err)
	}

	var patch models.BatchPatch
	if err := validateJSON(batchPatchValidator, "batch patch", body, &patch); err != nil {
		return err
	}

	b, err := h.store.UpdateBatch(c.Request().Context(), id, patch)
	if err != nil {
		return fromStoreError("batch", id, err)
	}
	return c.JSON(http.StatusOK, b)
}

// HandleListWorkItems returns the work items of a batch in creation order
func (h *RecordHandlerImpl) HandleListWorkItems(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()
	if _, err := h.store.GetBatch(ctx, id); err != nil {
		return fromStoreError("batch", id, err)
	}

	items, err := h.store.ListWorkItems(ctx, id)
	if err != nil {
		return fromStoreError("work items", id, err)
	}
	if items == nil {
		items = []models.WorkItem{}
	}
	return c.JSON(http.StatusOK, items)
}

// HandleGetWorkItem returns one work item record
func (h *RecordHandlerImpl) HandleGetWorkItem(c echo.Context) error {
	id := c.Param("id")
	it, err := h.store.GetWorkItem(c.Request().Context(), id)
	if err != nil {
		return fromStoreError("work item", id, err)
	}
	return c.JSON(http.StatusOK, it)
}

// HandlePatchWorkItem applies a partial update to a work item record
func (h *RecordHandlerImpl) HandlePatchWorkItem(c echo.Context) error {
	id := c.Param("id")
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return NewBadRequestError("failed to read request body", err)
	}

	var patch models.WorkItemPatch
	if err := validateJSON(workItemPatchValidator, "work item patch", body, &patch); err != nil {
		return err
	}

	it, err := h.store.UpdateWorkItem(c.Request().Context(), id, patch)
	if err != nil {
		return fromStoreError("work item", id, err)
	}
	return c.JSON(http.StatusOK, it)
}
