// handlers_storage.go - Object storage handlers for documents and results
package api

import (
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"github.com/pdf-batch/backend/internal/storage"
)

// StorageHandlerImpl implements the StorageHandler interface
type StorageHandlerImpl struct {
	buckets  map[string]storage.ObjectStore
	writable map[string]bool
	maxBytes int64
}

// NewStorageHandler serves every store for reading. Only stores listed in
// writable accept PUT, each body capped at maxBytes.
func NewStorageHandler(stores []storage.ObjectStore, writable []string, maxBytes int64) StorageHandler {
	h := &StorageHandlerImpl{
		buckets:  make(map[string]storage.ObjectStore, len(stores)),
		writable: make(map[string]bool, len(writable)),
		maxBytes: maxBytes,
	}
	for _, s := range stores {
		h.buckets[s.Bucket()] = s
	}
	for _, name := range writable {
		h.writable[name] = true
	}
	return h
}

func objectPath(c echo.Context) string {
	p := c.Param("*")
	if unescaped, err := url.PathUnescape(p); err == nil {
		return unescaped
	}
	return p
}

// HandleGetObject streams an object from a bucket
func (h *StorageHandlerImpl) HandleGetObject(c echo.Context) error {
	bucket := c.Param("bucket")
	store, ok := h.buckets[bucket]
	if !ok {
		return NewNotFoundError("bucket", bucket)
	}

	path := objectPath(c)
	rc, info, err := store.Open(path)
	if err != nil {
		return fromStoreError("object", bucket+"/"+path, err)
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentLength, fmt.Sprintf("%d", info.Size))
	return c.Stream(http.StatusOK, info.ContentType, rc)
}

// HandlePutResult stores a result document written by the worker
func (h *StorageHandlerImpl) HandlePutResult(c echo.Context) error {
	bucket := c.Param("bucket")
	store, ok := h.buckets[bucket]
	if !ok {
		return NewNotFoundError("bucket", bucket)
	}
	if !h.writable[bucket] {
		return &APIError{Status: http.StatusForbidden, Code: "FORBIDDEN", Message: fmt.Sprintf("bucket is read-only: %s", bucket)}
	}

	body := io.Reader(c.Request().Body)
	if h.maxBytes > 0 {
		body = io.LimitReader(body, h.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return NewBadRequestError("failed to read request body", err)
	}
	if h.maxBytes > 0 && int64(len(data)) > h.maxBytes {
		return &APIError{Status: http.StatusRequestEntityTooLarge, Code: "TOO_LARGE", Message: fmt.Sprintf("object exceeds %d bytes", h.maxBytes)}
	}

	path := objectPath(c)
	info, err := store.Put(c.Request().Context(), path, data, c.Request().Header.Get(echo.HeaderContentType))
	if err != nil {
		return fromStoreError("object", bucket+"/"+path, err)
	}
	return c.JSON(http.StatusCreated, info)
}
