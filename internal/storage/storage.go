// Package storage puts chunk files and render sources into object storage.
//
// Two backends exist: S3-compatible buckets (AWS, R2, MinIO) and a local
// directory. Both address objects by slash-separated keys.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"finalcut/internal/config"
)

// ErrInvalidKey rejects empty or escaping keys.
var ErrInvalidKey = errors.New("invalid object key")

// Object describes a stored object.
type Object struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
	URL  string `json:"url,omitempty"`
}

// Store is an object storage backend.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (Object, error)
	Delete(ctx context.Context, key string) error
	// URL returns a URL an external service can fetch the object from.
	URL(ctx context.Context, key string) (string, error)
	Backend() string
}

// New builds the backend selected by cfg.Storage.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Storage.Backend {
	case config.StorageS3:
		return NewS3(ctx, cfg.Storage)
	case config.StorageLocal, "":
		return NewLocal(cfg.Storage.LocalDir)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}

// PutFile uploads the file at localPath under key.
func PutFile(ctx context.Context, store Store, key, localPath string) (Object, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return Object{}, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return Object{}, fmt.Errorf("stat %s: %w", localPath, err)
	}
	return store.Put(ctx, key, f, info.Size(), ContentType(localPath))
}

// ChunkKey is the object key for one chunk of a job.
func ChunkKey(jobID string, index int, ext string) string {
	if ext == "" {
		ext = ".mp4"
	}
	return fmt.Sprintf("jobs/%s/chunks/chunk_%04d%s", jobID, index, ext)
}

// SourceKey is the object key for a job's source video.
func SourceKey(jobID, name string) string {
	return fmt.Sprintf("jobs/%s/source/%s", jobID, path.Base(filepath.ToSlash(name)))
}

// JobPrefix is the key prefix holding everything for a job.
func JobPrefix(jobID string) string {
	return fmt.Sprintf("jobs/%s/", jobID)
}

// ContentType guesses a MIME type from the file extension.
func ContentType(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mkv":
		return "video/x-matroska"
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	}
	return "application/octet-stream"
}

func cleanKey(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}
