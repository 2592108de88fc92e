package storage

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	perrors "github.com/polyroute/polyroute/internal/errors"
)

// fakeS3 serves the path-style subset of the S3 API the storage uses.
type fakeS3 struct {
	mu       sync.Mutex
	bucket   string
	objects  map[string][]byte
	failPuts int
	puts     int
}

type listResult struct {
	XMLName     xml.Name `xml:"ListBucketResult"`
	Name        string   `xml:"Name"`
	Prefix      string   `xml:"Prefix"`
	KeyCount    int      `xml:"KeyCount"`
	IsTruncated bool     `xml:"IsTruncated"`
	Contents    []struct {
		Key  string `xml:"Key"`
		Size int    `xml:"Size"`
	} `xml:"Contents"`
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rest := strings.TrimPrefix(r.URL.Path, "/"+f.bucket)
	key := strings.TrimPrefix(rest, "/")
	switch {
	case r.Method == http.MethodGet && key == "":
		f.list(w, r.URL.Query().Get("prefix"))
	case r.Method == http.MethodPut:
		f.puts++
		if f.puts <= f.failPuts {
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, `<Error><Code>InternalError</Code><Message>try again</Message></Error>`)
			return
		}
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = data
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		w.Write(data)
	case r.Method == http.MethodHead:
		if _, ok := f.objects[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	return data, ok
}

func (f *fakeS3) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

func (f *fakeS3) failNextPuts(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPuts = n
	f.puts = 0
}

func (f *fakeS3) list(w http.ResponseWriter, prefix string) {
	res := listResult{Name: f.bucket, Prefix: prefix}
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		res.Contents = append(res.Contents, struct {
			Key  string `xml:"Key"`
			Size int    `xml:"Size"`
		}{k, len(f.objects[k])})
	}
	res.KeyCount = len(keys)
	w.Header().Set("Content-Type", "application/xml")
	xml.NewEncoder(w).Encode(res)
}

func newFakeS3Storage(t *testing.T, prefix string) (*S3Storage, *fakeS3) {
	t.Helper()
	fake := &fakeS3{bucket: "snapshots", objects: make(map[string][]byte)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client := s3.New(s3.Options{
		Region:                     "us-east-1",
		BaseEndpoint:               aws.String(srv.URL),
		UsePathStyle:               true,
		Credentials:                aws.AnonymousCredentials{},
		RetryMaxAttempts:           1,
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})
	store := NewS3StorageWithClient(client, fake.bucket, S3Config{
		Prefix:       prefix,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	})
	return store, fake
}

func TestS3Storage_RoundTrip(t *testing.T) {
	store, fake := newFakeS3Storage(t, "/cluster-a/")
	ctx := context.Background()
	src := writeFile(t, t.TempDir(), "catalog.snap", "archive bytes")

	if err := store.Upload(ctx, src, "snapshots/one.snap"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if _, ok := fake.object("cluster-a/snapshots/one.snap"); !ok {
		t.Fatal("object not stored below the prefix")
	}

	exists, err := store.Exists(ctx, "snapshots/one.snap")
	if err != nil || !exists {
		t.Fatalf("Exists = %v, %v; want true", exists, err)
	}
	exists, err = store.Exists(ctx, "snapshots/none.snap")
	if err != nil || exists {
		t.Fatalf("Exists on missing = %v, %v; want false", exists, err)
	}

	dst := filepath.Join(t.TempDir(), "copy")
	if err := store.Download(ctx, "snapshots/one.snap", dst); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read download: %v", err)
	}
	if string(data) != "archive bytes" {
		t.Errorf("downloaded %q", data)
	}

	if err := store.Upload(ctx, src, "snapshots/two.snap"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	objects, err := store.ListObjects(ctx, "snapshots/")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	want := []string{"snapshots/one.snap", "snapshots/two.snap"}
	if !reflect.DeepEqual(objects, want) {
		t.Errorf("ListObjects = %v, want %v", objects, want)
	}

	if err := store.Delete(ctx, "snapshots/one.snap"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "snapshots/one.snap"); err != nil {
		t.Fatalf("Delete of a missing object failed: %v", err)
	}
	if exists, _ := store.Exists(ctx, "snapshots/one.snap"); exists {
		t.Error("object still exists after delete")
	}
}

func TestS3Storage_DownloadMissing(t *testing.T) {
	store, _ := newFakeS3Storage(t, "")
	err := store.Download(context.Background(), "nope.snap", filepath.Join(t.TempDir(), "x"))
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if !perrors.HasCode(err, perrors.ErrCategoryStorage, perrors.CodeObjectNotFound) {
		t.Errorf("unexpected code for %v", err)
	}
}

func TestS3Storage_UploadRetries(t *testing.T) {
	store, fake := newFakeS3Storage(t, "")
	fake.failNextPuts(2)
	src := writeFile(t, t.TempDir(), "a.snap", "payload")

	if err := store.Upload(context.Background(), src, "a.snap"); err != nil {
		t.Fatalf("Upload should succeed on the third attempt: %v", err)
	}
	if n := fake.attempts(); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
	if data, _ := fake.object("a.snap"); string(data) != "payload" {
		t.Errorf("stored %q", data)
	}

	fake.failNextPuts(10)
	err := store.Upload(context.Background(), src, "b.snap")
	if !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
	if n := fake.attempts(); n != 3 {
		t.Errorf("expected retries to stop after 3 attempts, got %d", n)
	}
}

func TestNewS3StorageRequiresBucket(t *testing.T) {
	if _, err := NewS3Storage(context.Background(), "", DefaultS3Config()); err == nil {
		t.Fatal("expected error for empty bucket")
	}
}
