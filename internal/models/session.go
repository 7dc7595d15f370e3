package models

// WorkerStatus is the connectivity indicator for the remote worker.
type WorkerStatus string

const (
	WorkerStatusUnknown     WorkerStatus = "unknown"
	WorkerStatusOK          WorkerStatus = "ok"
	WorkerStatusUnreachable WorkerStatus = "unreachable"
)

// Snapshot is a point-in-time view of a session's batch progress.
type Snapshot struct {
	SessionID     string       `json:"sessionId,omitempty"`
	Batch         *Batch       `json:"batch"`
	Items         []WorkItem   `json:"items"`
	Processing    bool         `json:"processing"`
	Percent       int          `json:"percent"`
	WorkerStatus  WorkerStatus `json:"workerStatus"`
	CombinedReady bool         `json:"combinedReady"`
	LastError     string       `json:"lastError,omitempty"`
}
