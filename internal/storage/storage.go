// Package storage provides the object storage used to archive catalog
// snapshots.
package storage

import (
	"context"

	perrors "github.com/polyroute/polyroute/internal/errors"
)

// Sentinel errors for storage operations. Failures returned by the
// implementations match them with errors.Is.
var (
	ErrObjectNotFound = perrors.New(perrors.ErrCategoryStorage, perrors.CodeObjectNotFound, "object not found")
	ErrUploadFailed   = perrors.New(perrors.ErrCategoryStorage, perrors.CodeUploadFailed, "upload failed")
	ErrDownloadFailed = perrors.New(perrors.ErrCategoryStorage, perrors.CodeDownloadFailed, "download failed")
)

// ObjectStorage abstracts object storage operations.
// Implementations are S3 and the local filesystem.
type ObjectStorage interface {
	// Upload copies a local file to objectPath.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download copies objectPath to a local file.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists reports whether an object exists.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix, sorted.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

func uploadError(objectPath string, err error) error {
	return perrors.NewStorageError(perrors.CodeUploadFailed, "upload "+objectPath, err)
}

func downloadError(objectPath string, err error) error {
	return perrors.NewStorageError(perrors.CodeDownloadFailed, "download "+objectPath, err)
}

func notFound(objectPath string) error {
	return perrors.NewStorageError(perrors.CodeObjectNotFound, "object "+objectPath+" not found", nil)
}
