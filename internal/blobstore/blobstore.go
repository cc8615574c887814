// Package blobstore is a content store over a single Go CDK bucket. The bucket
// is the only site; each top-level prefix is a library.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	blob "gocloud.dev/blob"
	gcerrors "gocloud.dev/gcerrors"

	"github.com/Lllllllleong/pdfrepartitioner/internal/store"

	// Drivers
	_ "gocloud.dev/blob/fileblob" // file:// URLs
	_ "gocloud.dev/blob/memblob"  // mem:// URLs
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Store is a content store over one bucket.
type Store struct {
	bucket *blob.Bucket
	name   string
}

var _ store.Store = (*Store)(nil)

const scheme = "blob:///"

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// Open opens the bucket at url (mem://, file:///path).
func Open(ctx context.Context, url string) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket: %w", err)
	}
	return New(bucket, url), nil
}

// New wraps an open bucket. name is the site name reported by ResolveSite.
func New(bucket *blob.Bucket, name string) *Store {
	return &Store{bucket: bucket, name: name}
}

// Close closes the bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// ResolveSite accepts an empty site, "/" or the bucket URL the store was
// opened with.
func (s *Store) ResolveSite(ctx context.Context, pathSpec string) (store.SiteID, error) {
	if spec := strings.TrimSpace(pathSpec); spec != "" && spec != "/" && spec != s.name {
		return "", store.NotFound("resolve site", store.CodeSiteNotFound, "site %q not found", pathSpec)
	}
	if ok, err := s.bucket.IsAccessible(ctx); err != nil {
		return "", blobErr("resolve site", store.CodeSiteNotFound, s.name, err)
	} else if !ok {
		return "", store.NotFound("resolve site", store.CodeSiteNotFound, "bucket %q is not accessible", s.name)
	}
	return store.SiteID(s.name), nil
}

// ListLibraries returns the top-level prefixes of the bucket.
func (s *Store) ListLibraries(ctx context.Context, site store.SiteID) ([]store.Library, error) {
	if string(site) != s.name {
		return nil, store.NotFound("list libraries", store.CodeSiteNotFound, "site %q not found", site)
	}
	var libs []store.Library
	iter := s.bucket.List(&blob.ListOptions{Delimiter: "/"})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, blobErr("list libraries", store.CodeSiteNotFound, s.name, err)
		}
		if !obj.IsDir {
			continue
		}
		name := strings.TrimSuffix(obj.Key, "/")
		libs = append(libs, store.Library{ID: store.LibraryID(name), Name: name})
	}
	return libs, nil
}

// ResolveDownloadURL checks the item exists and returns its blob:/// locator.
func (s *Store) ResolveDownloadURL(ctx context.Context, library store.LibraryID, itemPath string) (string, error) {
	key := objectKey(library, itemPath)
	if ok, err := s.bucket.Exists(ctx, key); err != nil {
		return "", blobErr("resolve download url", store.CodeItemNotFound, key, err)
	} else if !ok {
		return "", store.NotFound("resolve download url", store.CodeItemNotFound, "item %q not found", key)
	}
	return scheme + key, nil
}

// RangedGet reads up to length bytes at offset. The total is the object size.
func (s *Store) RangedGet(ctx context.Context, url string, offset, length int64) ([]byte, int64, error) {
	key, ok := strings.CutPrefix(url, scheme)
	if !ok || key == "" {
		return nil, -1, store.NotFound("ranged get", store.CodeInvalidRequest, "not a blob url: %q", url)
	}
	r, err := s.bucket.NewRangeReader(ctx, key, offset, length, nil)
	if err != nil {
		return nil, -1, &store.TransferError{Op: "ranged get", Path: url, Offset: offset, Err: err}
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, -1, &store.TransferError{Op: "ranged get", Path: url, Offset: offset, Received: int64(len(data)), Err: err}
	}
	return data, r.Size(), nil
}

// CreateUploadSession returns a session writing to library/itemPath.
func (s *Store) CreateUploadSession(ctx context.Context, library store.LibraryID, itemPath string, policy store.ConflictPolicy) (store.UploadSession, error) {
	if strings.Trim(string(library), "/") == "" {
		return nil, store.NotFound("create upload session", store.CodeLibraryNotFound, "empty library id")
	}
	key := objectKey(library, itemPath)
	if policy == store.ConflictRename {
		free, err := store.FreeName(ctx, key, s.bucket.Exists)
		if err != nil {
			return nil, fmt.Errorf("failed to pick a free name for %s: %w", key, err)
		}
		key = free
	}
	return &session{
		bucket:       s.bucket,
		library:      library,
		key:          key,
		failIfExists: policy == store.ConflictFail,
	}, nil
}

////////////////////////////////////////////////////////////////////////////////
// SESSION

type session struct {
	bucket       *blob.Bucket
	library      store.LibraryID
	key          string
	failIfExists bool
}

// UploadSlices writes r through a buffered writer, one Write per slice.
func (s *session) UploadSlices(ctx context.Context, r io.Reader, size, sliceSize int64, progress store.ProgressFunc) (store.UploadResult, error) {
	if s.failIfExists {
		if ok, err := s.bucket.Exists(ctx, s.key); err != nil {
			return store.UploadResult{}, err
		} else if ok {
			return store.UploadResult{Succeeded: false}, fmt.Errorf("%s: %w", s.key, store.ErrAlreadyExists)
		}
	}

	// Cancelling the writer context before Close discards the object
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := s.bucket.NewWriter(ctx, s.key, &blob.WriterOptions{
		BufferSize:  int(sliceSize),
		ContentType: "application/pdf",
	})
	if err != nil {
		return store.UploadResult{}, err
	}

	var sent int64
	err = store.ForEachSlice(r, sliceSize, func(slice []byte) error {
		if _, err := w.Write(slice); err != nil {
			return err
		}
		sent += int64(len(slice))
		progress(sent, size)
		return nil
	})
	if err != nil {
		cancel()
		return store.UploadResult{}, &store.TransferError{Op: "upload", Path: s.key, Offset: sent, Received: sent, Err: errors.Join(err, w.Close())}
	}
	if err := w.Close(); err != nil {
		return store.UploadResult{}, &store.TransferError{Op: "upload", Path: s.key, Offset: sent, Received: sent, Err: err}
	}

	item := store.ItemRef{
		Library: s.library,
		Path:    strings.TrimPrefix(s.key, string(s.library)+"/"),
		Size:    sent,
	}
	if attrs, err := s.bucket.Attributes(ctx, s.key); err == nil {
		item.ETag = attrs.ETag
		item.Size = attrs.Size
	}
	return store.UploadResult{Succeeded: true, Item: item}, nil
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func objectKey(library store.LibraryID, itemPath string) string {
	return strings.Trim(string(library), "/") + "/" + store.CleanPath(itemPath)
}

func blobErr(op, code, target string, err error) error {
	switch gcerrors.Code(err) {
	case gcerrors.NotFound:
		return &store.LookupError{Op: op, Code: code, Message: fmt.Sprintf("%s not found", target), Err: err}
	case gcerrors.PermissionDenied:
		return &store.LookupError{Op: op, Code: store.CodeAccessDenied, Message: fmt.Sprintf("access to %s denied", target), Err: err}
	case gcerrors.InvalidArgument:
		return &store.LookupError{Op: op, Code: store.CodeInvalidRequest, Message: err.Error(), Err: err}
	}
	return fmt.Errorf("%s %s: %w", op, target, err)
}
