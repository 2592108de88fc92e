package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	perrors "github.com/polyroute/polyroute/internal/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return path
}

func TestLocalStorage_UploadDownload(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	srcDir := t.TempDir()
	srcPath := writeFile(t, srcDir, "snapshot.json", "hello world")
	ctx := context.Background()

	objectPath := "snapshots/2026/catalog.snap"
	if err := storage.Upload(ctx, srcPath, objectPath); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	exists, err := storage.Exists(ctx, objectPath)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected object to exist")
	}

	dstPath := filepath.Join(srcDir, "nested", "downloaded.json")
	if err := storage.Download(ctx, objectPath, dstPath); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	downloaded, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("failed to read downloaded file: %v", err)
	}
	if string(downloaded) != "hello world" {
		t.Errorf("content mismatch: got %q", downloaded)
	}

	if err := storage.Delete(ctx, objectPath); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	exists, err = storage.Exists(ctx, objectPath)
	if err != nil {
		t.Fatalf("Exists after delete failed: %v", err)
	}
	if exists {
		t.Error("expected object to be gone after delete")
	}
	if err := storage.Delete(ctx, objectPath); err != nil {
		t.Errorf("deleting a missing object should succeed, got %v", err)
	}
}

func TestLocalStorage_DownloadMissing(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	err = storage.Download(context.Background(), "missing.snap", filepath.Join(t.TempDir(), "out"))
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if perrors.IsRetryable(err) {
		t.Error("a missing object must not be retryable")
	}
}

func TestLocalStorage_UploadMissingSource(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	err = storage.Upload(context.Background(), filepath.Join(t.TempDir(), "nope"), "obj")
	if !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
	if !perrors.IsRetryable(err) {
		t.Error("upload failures should be retryable")
	}
}

func TestLocalStorage_ListObjects(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	src := writeFile(t, t.TempDir(), "f", "x")
	ctx := context.Background()

	for _, obj := range []string{"snapshots/b.snap", "snapshots/a.snap", "other/c.snap"} {
		if err := storage.Upload(ctx, src, obj); err != nil {
			t.Fatalf("Upload %s failed: %v", obj, err)
		}
	}

	got, err := storage.ListObjects(ctx, "snapshots/")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	want := []string{"snapshots/a.snap", "snapshots/b.snap"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ListObjects = %v, want %v", got, want)
	}

	all, err := storage.ListObjects(ctx, "")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 objects, got %v", all)
	}
}

func TestLocalStorage_PathStaysInBase(t *testing.T) {
	base := t.TempDir()
	storage, err := NewLocalStorage(base)
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	src := writeFile(t, t.TempDir(), "f", "x")
	ctx := context.Background()

	if err := storage.Upload(ctx, src, "../../escape.snap"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "escape.snap")); err != nil {
		t.Errorf("expected object to be stored inside the base directory: %v", err)
	}

	if err := storage.Upload(ctx, src, ""); !perrors.HasCode(err, perrors.ErrCategoryValidation, perrors.CodeInvalidArgument) {
		t.Errorf("expected invalid argument for empty path, got %v", err)
	}
}

func TestLocalStorage_CanceledContext(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := storage.Exists(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
