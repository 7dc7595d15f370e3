package models

import "encoding/json"

// CombinedEntry is one file's extraction result in the combined artifact.
type CombinedEntry struct {
	File   string          `json:"file" msgpack:"file"`
	Result json.RawMessage `json:"result" msgpack:"-"`
}

// CombinedResult is the ordered list of per-file results of a finished batch.
type CombinedResult struct {
	BatchID string          `json:"-"`
	Entries []CombinedEntry `json:"entries"`
}

// FileName returns the download name of the artifact.
func (c *CombinedResult) FileName() string {
	return "batch-" + c.BatchID + "-combined.json"
}

// MarshalJSON encodes the artifact as a bare array of entries.
func (c *CombinedResult) MarshalJSON() ([]byte, error) {
	if c.Entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Entries)
}
