package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when no object exists at a path.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidPath is returned for empty, absolute or escaping paths.
	ErrInvalidPath = errors.New("invalid object path")
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Bucket      string    `json:"bucket"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	StoredAt    time.Time `json:"storedAt"`
}

// ObjectStore defines the interface for one storage bucket.
type ObjectStore interface {
	Bucket() string
	Put(ctx context.Context, objectPath string, data []byte, contentType string) (*ObjectInfo, error)
	Open(objectPath string) (io.ReadCloser, *ObjectInfo, error)
	Stat(objectPath string) (*ObjectInfo, error)
	Delete(objectPath string) error
	PublicURL(objectPath string) (string, bool)
}

// LocalStore implements ObjectStore using a directory on the local filesystem.
type LocalStore struct {
	mu      sync.RWMutex
	bucket  string
	rootDir string
	baseURL string
	objects map[string]*ObjectInfo
}

// NewLocalStore creates a bucket rooted at rootDir. Public URLs are built as
// {baseURL}/storage/{bucket}/{path}; an empty baseURL disables them.
func NewLocalStore(bucket, rootDir, baseURL string) (*LocalStore, error) {
	if bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("creating bucket directory: %w", err)
	}

	return &LocalStore{
		bucket:  bucket,
		rootDir: rootDir,
		baseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string]*ObjectInfo),
	}, nil
}

// CleanPath normalizes an object path and rejects paths that would leave
// the bucket.
func CleanPath(p string) (string, error) {
	p = strings.ReplaceAll(p, `\`, "/")
	if p == "" || strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return cleaned, nil
}

// Bucket returns the bucket name.
func (s *LocalStore) Bucket() string {
	return s.bucket
}

// Put writes data at objectPath, replacing any existing object.
func (s *LocalStore) Put(ctx context.Context, objectPath string, data []byte, contentType string) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := CleanPath(objectPath)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = detectContentType(key)
	}

	full := s.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return nil, fmt.Errorf("creating object directory: %w", err)
	}

	tmp := full + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("creating object: %w", err)
	}
	size, err := io.Copy(f, bytes.NewReader(data))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("writing object: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("committing object: %w", err)
	}

	info := &ObjectInfo{
		Bucket:      s.bucket,
		Path:        key,
		Size:        size,
		ContentType: contentType,
		StoredAt:    time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = info

	copied := *info
	return &copied, nil
}

// Open returns a reader for the object at objectPath.
func (s *LocalStore) Open(objectPath string) (io.ReadCloser, *ObjectInfo, error) {
	info, err := s.Stat(objectPath)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(s.fullPath(info.Path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, info.Path)
		}
		return nil, nil, fmt.Errorf("opening object: %w", err)
	}
	return f, info, nil
}

// Stat returns object metadata. Objects written before a restart are found
// on disk and get a content type from their extension.
func (s *LocalStore) Stat(objectPath string) (*ObjectInfo, error) {
	key, err := CleanPath(objectPath)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	info, ok := s.objects[key]
	s.mu.RUnlock()
	if ok {
		copied := *info
		return &copied, nil
	}

	fi, err := os.Stat(s.fullPath(key))
	if err != nil || fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return &ObjectInfo{
		Bucket:      s.bucket,
		Path:        key,
		Size:        fi.Size(),
		ContentType: detectContentType(key),
		StoredAt:    fi.ModTime(),
	}, nil
}

// Delete removes an object.
func (s *LocalStore) Delete(objectPath string) error {
	key, err := CleanPath(objectPath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.fullPath(key)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("deleting object: %w", err)
	}
	delete(s.objects, key)
	return nil
}

// PublicURL returns the URL the object is served from.
func (s *LocalStore) PublicURL(objectPath string) (string, bool) {
	if s.baseURL == "" {
		return "", false
	}
	key, err := CleanPath(objectPath)
	if err != nil {
		return "", false
	}
	segs := strings.Split(key, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return s.baseURL + "/storage/" + url.PathEscape(s.bucket) + "/" + strings.Join(segs, "/"), true
}

func (s *LocalStore) fullPath(key string) string {
	return filepath.Join(s.rootDir, filepath.FromSlash(key))
}

func detectContentType(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
