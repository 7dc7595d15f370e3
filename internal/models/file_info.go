package models

// File is one user-supplied PDF, held in memory until upload.
type File struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size"`
	Data        []byte `json:"-"`
}

// NewFile returns a File with Size set from data.
func NewFile(name, contentType string, data []byte) File {
	return File{Name: name, ContentType: contentType, Size: int64(len(data)), Data: data}
}

// StoredFile is a file that has been written to object storage.
type StoredFile struct {
	Assignment FileAssignment
	Path       string
}
