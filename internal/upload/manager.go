// Package upload writes a batch's files to object storage.
package upload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pdf-batch/backend/internal/models"
	"github.com/pdf-batch/backend/internal/storage"
	"github.com/rs/zerolog"
)

// DefaultContentType is used for files without a declared type.
const DefaultContentType = "application/pdf"

// Status represents the upload status of a batch.
type Status string

const (
	StatusUploading Status = "uploading"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
)

// Job tracks the upload of one batch's files.
type Job struct {
	BatchID     string     `json:"batchId"`
	Total       int        `json:"total"`
	Uploaded    int        `json:"uploaded"`
	Status      Status     `json:"status"`
	Current     string     `json:"current,omitempty"`
	Progress    float64    `json:"progress"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// FileError reports which file failed to upload.
type FileError struct {
	FileName string
	Path     string
	Err      error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("uploading %s: %v", e.FileName, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Manager uploads files sequentially and records progress per batch.
type Manager struct {
	jobs   map[string]*Job
	mu     sync.RWMutex
	store  storage.ObjectStore
	logger zerolog.Logger
}

// NewManager creates an upload manager writing to store.
func NewManager(store storage.ObjectStore, logger zerolog.Logger) *Manager {
	return &Manager{
		jobs:   make(map[string]*Job),
		store:  store,
		logger: logger.With().Str("component", "upload").Logger(),
	}
}

// ObjectPath returns the storage path for a file of a batch:
// {batchId}/{uuid}-{fileName}.
func ObjectPath(batchID, fileName string) string {
	return batchID + "/" + uuid.New().String() + "-" + fileName
}

// UploadAll writes each assignment's file in order. The first failure stops
// the remaining uploads; files already written are left in place.
func (m *Manager) UploadAll(ctx context.Context, batchID string, assignments []models.FileAssignment) ([]models.StoredFile, error) {
	job := &Job{
		BatchID:   batchID,
		Total:     len(assignments),
		Status:    StatusUploading,
		CreatedAt: time.Now(),
	}
	m.mu.Lock()
	m.jobs[batchID] = job
	m.mu.Unlock()

	stored := make([]models.StoredFile, 0, len(assignments))
	for _, a := range assignments {
		if err := ctx.Err(); err != nil {
			m.markJobError(job, err.Error())
			return stored, err
		}

		m.updateJob(job, a.File.Name, len(stored))

		path := ObjectPath(batchID, storageName(a.File.Name))
		contentType := a.File.ContentType
		if contentType == "" {
			contentType = DefaultContentType
		}

		if _, err := m.store.Put(ctx, path, a.File.Data, contentType); err != nil {
			ferr := &FileError{FileName: a.File.Name, Path: path, Err: err}
			m.markJobError(job, ferr.Error())
			return stored, ferr
		}
		stored = append(stored, models.StoredFile{Assignment: a, Path: path})
		m.logger.Debug().Str("batch_id", batchID).Str("file", a.File.Name).Str("path", path).Msg("file uploaded")
	}

	m.markJobComplete(job, len(stored))
	m.logger.Info().Str("batch_id", batchID).Int("files", len(stored)).Msg("upload complete")
	return stored, nil
}

// storageName keeps only the base name so a file name cannot add path
// segments under the batch prefix.
func storageName(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '/' || name[i] == '\\' {
			name = name[i+1:]
			break
		}
	}
	if name == "" || name == "." || name == ".." {
		return "file.pdf"
	}
	return name
}

// GetJob retrieves the upload job of a batch.
func (m *Manager) GetJob(batchID string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[batchID]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

func (m *Manager) updateJob(job *Job, current string, uploaded int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.Current = current
	job.Uploaded = uploaded
	if job.Total > 0 {
		job.Progress = float64(uploaded) / float64(job.Total) * 100
	}
}

func (m *Manager) markJobComplete(job *Job, uploaded int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.Status = StatusComplete
	job.Uploaded = uploaded
	job.Current = ""
	job.Progress = 100
	now := time.Now()
	job.CompletedAt = &now
}

func (m *Manager) markJobError(job *Job, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.Status = StatusError
	job.Error = errMsg
	now := time.Now()
	job.CompletedAt = &now
	m.logger.Warn().Str("batch_id", job.BatchID).Str("error", errMsg).Msg("upload failed")
}

// CleanupOldJobs removes finished jobs older than maxAge.
func (m *Manager) CleanupOldJobs(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for id, job := range m.jobs {
		if job.Status == StatusComplete || job.Status == StatusError {
			if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
				delete(m.jobs, id)
			}
		}
	}
}
