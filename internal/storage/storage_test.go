package storage_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"finalcut/internal/config"
	"finalcut/internal/storage"
	"finalcut/internal/testsupport"
)

func TestLocalPutURLDelete(t *testing.T) {
	root := t.TempDir()
	store, err := storage.NewLocal(root)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx := context.Background()
	key := storage.ChunkKey("job-1", 3, ".mp4")
	if key != "jobs/job-1/chunks/chunk_0003.mp4" {
		t.Fatalf("unexpected key %q", key)
	}

	obj, err := store.Put(ctx, key, strings.NewReader("chunk-bytes"), -1, "video/mp4")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if obj.Size != int64(len("chunk-bytes")) {
		t.Fatalf("unexpected size %d", obj.Size)
	}
	data, err := os.ReadFile(filepath.Join(root, "jobs", "job-1", "chunks", "chunk_0003.mp4"))
	if err != nil || string(data) != "chunk-bytes" {
		t.Fatalf("object not written: %q %v", data, err)
	}
	url, err := store.URL(ctx, key)
	if err != nil || !strings.HasPrefix(url, "file://") {
		t.Fatalf("unexpected url %q %v", url, err)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("second Delete should be a no-op: %v", err)
	}
	if _, err := store.URL(ctx, key); err == nil {
		t.Fatal("expected URL of deleted object to fail")
	}
}

func TestLocalRejectsEscapingKeys(t *testing.T) {
	store, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	for _, key := range []string{"", "../outside", "a/../../b"} {
		if _, err := store.Put(context.Background(), key, strings.NewReader("x"), 1, ""); !errors.Is(err, storage.ErrInvalidKey) {
			t.Fatalf("expected ErrInvalidKey for %q, got %v", key, err)
		}
	}
}

func TestPutFileUsesContentType(t *testing.T) {
	dir := t.TempDir()
	src := testsupport.WriteVideo(t, dir, "clip.mp4", 64)
	store, err := storage.NewLocal(filepath.Join(dir, "objects"))
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	obj, err := storage.PutFile(context.Background(), store, "jobs/x/source/clip.mp4", src)
	if err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	if obj.Size != 64 {
		t.Fatalf("unexpected size %d", obj.Size)
	}
	if got := storage.ContentType("movie.MKV"); got != "video/x-matroska" && !strings.HasPrefix(got, "video/") {
		t.Fatalf("unexpected content type %q", got)
	}
}

func TestS3PutAndPresign(t *testing.T) {
	var mu sync.Mutex
	var method, path, body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(data)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Storage{
		Backend:         config.StorageS3,
		Bucket:          "media",
		Region:          "auto",
		Endpoint:        server.URL,
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		PresignMinutes:  5,
	}
	store, err := storage.NewS3(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewS3: %v", err)
	}

	if _, err := store.Put(context.Background(), "jobs/a/chunks/chunk_0000.mp4", strings.NewReader("abc"), 3, "video/mp4"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	mu.Lock()
	if method != http.MethodPut || path != "/media/jobs/a/chunks/chunk_0000.mp4" || body != "abc" {
		t.Fatalf("unexpected request %s %s %q", method, path, body)
	}
	mu.Unlock()

	url, err := store.URL(context.Background(), "jobs/a/chunks/chunk_0000.mp4")
	if err != nil {
		t.Fatalf("URL: %v", err)
	}
	if !strings.HasPrefix(url, server.URL+"/media/jobs/a/chunks/chunk_0000.mp4") || !strings.Contains(url, "X-Amz-Signature") {
		t.Fatalf("unexpected presigned url %q", url)
	}
}

func TestNewRejectsIncompleteS3Config(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Storage.Backend = config.StorageS3
	if _, err := storage.New(context.Background(), cfg); err == nil {
		t.Fatal("expected error for missing bucket and credentials")
	}
	cfg.Storage.Backend = config.StorageLocal
	store, err := storage.New(context.Background(), cfg)
	if err != nil || store.Backend() != config.StorageLocal {
		t.Fatalf("expected local store, got %v %v", store, err)
	}
}
