package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/pdfrepartitioner/internal/store"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// chunkAlign is the granularity GCS requires for resumable upload chunks.
const chunkAlign = 256 * 1024

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// Store is a content store backed by Google Cloud Storage. Sites are GCP
// projects and libraries are buckets.
type Store struct {
	client *storage.Client
}

var _ store.Store = (*Store)(nil)

// NewStore wraps an existing storage client.
func NewStore(client *storage.Client) *Store {
	return &Store{client: client}
}

// ResolveSite accepts "projects/<id>" or a bare project ID and checks that its
// buckets can be listed.
func (s *Store) ResolveSite(ctx context.Context, pathSpec string) (store.SiteID, error) {
	projectID := strings.TrimPrefix(strings.Trim(pathSpec, "/"), "projects/")
	if projectID == "" {
		return "", store.NotFound("resolve site", store.CodeInvalidRequest, "empty project id")
	}
	if _, err := s.client.Buckets(ctx, projectID).Next(); err != nil && !errors.Is(err, iterator.Done) {
		return "", lookupErr("resolve site", store.CodeSiteNotFound, projectID, err)
	}
	return store.SiteID(projectID), nil
}

// ListLibraries lists the buckets of a project.
func (s *Store) ListLibraries(ctx context.Context, site store.SiteID) ([]store.Library, error) {
	var libs []store.Library
	it := s.client.Buckets(ctx, string(site))
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, lookupErr("list libraries", store.CodeSiteNotFound, string(site), err)
		}
		libs = append(libs, store.Library{ID: store.LibraryID(attrs.Name), Name: attrs.Name})
	}
	return libs, nil
}

// ResolveDownloadURL checks the object exists and returns its gs:// locator.
func (s *Store) ResolveDownloadURL(ctx context.Context, library store.LibraryID, itemPath string) (string, error) {
	name := store.CleanPath(itemPath)
	if _, err := s.client.Bucket(string(library)).Object(name).Attrs(ctx); err != nil {
		return "", lookupErr("resolve download url", store.CodeItemNotFound, fmt.Sprintf("gs://%s/%s", library, name), err)
	}
	return fmt.Sprintf("gs://%s/%s", library, name), nil
}

// RangedGet reads length bytes at offset of a gs:// object.
func (s *Store) RangedGet(ctx context.Context, rawURL string, offset, length int64) ([]byte, int64, error) {
	bucket, name, err := parseGSURL(rawURL)
	if err != nil {
		return nil, -1, err
	}
	r, err := s.client.Bucket(bucket).Object(name).NewRangeReader(ctx, offset, length)
	if err != nil {
		return nil, -1, &store.TransferError{Op: "ranged get", Path: rawURL, Offset: offset, Err: err}
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, -1, &store.TransferError{Op: "ranged get", Path: rawURL, Offset: offset, Err: err}
	}
	return data, r.Attrs.Size, nil
}

// CreateUploadSession prepares a resumable upload to itemPath in the bucket.
func (s *Store) CreateUploadSession(ctx context.Context, library store.LibraryID, itemPath string, policy store.ConflictPolicy) (store.UploadSession, error) {
	bucket := s.client.Bucket(string(library))
	if _, err := bucket.Attrs(ctx); err != nil {
		return nil, lookupErr("create upload session", store.CodeLibraryNotFound, string(library), err)
	}

	name := store.CleanPath(itemPath)
	if policy == store.ConflictRename {
		free, err := store.FreeName(ctx, name, func(ctx context.Context, candidate string) (bool, error) {
			_, err := bucket.Object(candidate).Attrs(ctx)
			if errors.Is(err, storage.ErrObjectNotExist) {
				return false, nil
			}
			return err == nil, err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to pick a free name for %s: %w", name, err)
		}
		name = free
	}

	obj := bucket.Object(name)
	if policy == store.ConflictFail {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}
	return &session{library: library, name: name, obj: obj}, nil
}

type session struct {
	library store.LibraryID
	name    string
	obj     *storage.ObjectHandle
}

// UploadSlices streams r through a resumable upload whose chunk size is
// sliceSize rounded up to the GCS chunk granularity.
func (s *session) UploadSlices(ctx context.Context, r io.Reader, size, sliceSize int64, progress store.ProgressFunc) (store.UploadResult, error) {
	// Cancelling the writer context before Close abandons the upload
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.obj.NewWriter(ctx)
	w.ContentType = "application/pdf"
	w.ChunkSize = int(alignChunk(sliceSize))

	var reported int64
	w.ProgressFunc = func(n int64) {
		reported = n
		progress(n, size)
	}

	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return store.UploadResult{}, &store.TransferError{Op: "upload", Path: s.name, Offset: reported, Received: reported, Err: err}
	}
	if err := w.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return store.UploadResult{Succeeded: false}, fmt.Errorf("%s: %w", s.name, store.ErrAlreadyExists)
		}
		return store.UploadResult{}, &store.TransferError{Op: "upload", Path: s.name, Offset: reported, Received: reported, Err: fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)}
	}
	if reported < size {
		progress(size, size)
	}

	attrs := w.Attrs()
	return store.UploadResult{
		Succeeded: true,
		Item:      store.ItemRef{Library: s.library, Path: attrs.Name, ETag: attrs.Etag, Size: attrs.Size},
	}, nil
}

func alignChunk(n int64) int64 {
	if n <= 0 {
		return chunkAlign
	}
	return (n + chunkAlign - 1) / chunkAlign * chunkAlign
}

func parseGSURL(rawURL string) (bucket, name string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "gs" || u.Host == "" {
		return "", "", store.NotFound("ranged get", store.CodeInvalidRequest, "not a gs:// url: %q", rawURL)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

func lookupErr(op, code, target string, err error) error {
	switch {
	case errors.Is(err, storage.ErrObjectNotExist), errors.Is(err, storage.ErrBucketNotExist):
		return &store.LookupError{Op: op, Code: code, Message: fmt.Sprintf("%s not found", target), Err: err}
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound:
			return &store.LookupError{Op: op, Code: code, Message: gerr.Message, Err: err}
		case http.StatusForbidden, http.StatusUnauthorized:
			return &store.LookupError{Op: op, Code: store.CodeAccessDenied, Message: gerr.Message, Err: err}
		case http.StatusBadRequest:
			return &store.LookupError{Op: op, Code: store.CodeInvalidRequest, Message: gerr.Message, Err: err}
		}
	}
	return fmt.Errorf("%s %s: %w", op, target, err)
}
