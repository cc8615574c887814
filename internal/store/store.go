// Package store defines the content-store contract consumed by the repartitioning
// pipeline. Backends (GCS, S3, Go CDK buckets) live in their own packages; the
// pipeline never depends on how identity, site or library lookup work.
package store

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// SiteID identifies a site (project, region, bucket root) within a backend.
type SiteID string

// LibraryID identifies a document library (bucket, top-level prefix) within a site.
type LibraryID string

// Library is a named document library as returned by ListLibraries.
type Library struct {
	ID   LibraryID
	Name string
}

// ConflictPolicy is the rule applied when a destination path already holds an object.
type ConflictPolicy string

const (
	ConflictReplace ConflictPolicy = "replace"
	ConflictFail    ConflictPolicy = "fail"
	ConflictRename  ConflictPolicy = "rename"
)

// ParseConflictPolicy maps a conflict behaviour name to a policy. The empty string
// selects the default, ConflictReplace.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch ConflictPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", ConflictReplace:
		return ConflictReplace, nil
	case ConflictFail:
		return ConflictFail, nil
	case ConflictRename:
		return ConflictRename, nil
	}
	return "", fmt.Errorf("unknown conflict behavior %q", s)
}

// ItemRef references an object written to the store.
type ItemRef struct {
	Library LibraryID
	Path    string
	ETag    string
	Size    int64
}

// UploadResult is the outcome of an upload session.
type UploadResult struct {
	Succeeded bool
	Item      ItemRef
}

// ProgressFunc is invoked after each slice with the bytes transferred so far.
type ProgressFunc func(transferred, total int64)

// Resolver covers discovery: sites, libraries and download locators.
type Resolver interface {
	ResolveSite(ctx context.Context, pathSpec string) (SiteID, error)
	ListLibraries(ctx context.Context, site SiteID) ([]Library, error)
	ResolveDownloadURL(ctx context.Context, library LibraryID, itemPath string) (string, error)
}

// RangeGetter reads a byte window of a remote object. total is -1 when the
// store does not report the object length.
type RangeGetter interface {
	RangedGet(ctx context.Context, url string, offset, length int64) (data []byte, total int64, err error)
}

// SessionCreator opens resumable upload sessions.
type SessionCreator interface {
	CreateUploadSession(ctx context.Context, library LibraryID, itemPath string, policy ConflictPolicy) (UploadSession, error)
}

// UploadSession transfers one object of size bytes in ordered slices of at
// most sliceSize bytes, calling progress after each slice.
type UploadSession interface {
	UploadSlices(ctx context.Context, r io.Reader, size, sliceSize int64, progress ProgressFunc) (UploadResult, error)
}

// Store is the full content-store contract.
type Store interface {
	Resolver
	RangeGetter
	SessionCreator
}

// CleanPath normalises an item path to a slash-separated relative key.
func CleanPath(p string) string {
	p = path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	return strings.TrimPrefix(p, "/")
}

// RenameCandidate returns the n-th alternative name for p, e.g. "dir/part_1 (2).pdf".
func RenameCandidate(p string, n int) string {
	ext := path.Ext(p)
	return fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(p, ext), n, ext)
}

// FreeName checks exists for p and its rename candidates and returns the first
// path that is not taken.
func FreeName(ctx context.Context, p string, exists func(context.Context, string) (bool, error)) (string, error) {
	candidate := p
	for n := 1; ; n++ {
		ok, err := exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !ok {
			return candidate, nil
		}
		candidate = RenameCandidate(p, n)
	}
}
