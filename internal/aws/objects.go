package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Lllllllleong/pdfrepartitioner/internal/store"
	aws "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	s3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	// Minimum size of every multipart upload part except the last
	minPartSize = 5 * 1024 * 1024
)

var _ store.Store = (*Store)(nil)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// ResolveSite accepts a region name; the empty string selects the client's region.
func (s *Store) ResolveSite(ctx context.Context, pathSpec string) (store.SiteID, error) {
	region := strings.Trim(pathSpec, "/")
	if region == "" {
		region = s.region
	}
	if _, err := s.client.ListBuckets(ctx, &s3.ListBucketsInput{BucketRegion: regionFilter(region), MaxBuckets: aws.Int32(1)}); err != nil {
		return "", lookupErr("resolve site", store.CodeSiteNotFound, region, err)
	}
	return store.SiteID(region), nil
}

// ListLibraries lists the buckets in the region.
func (s *Store) ListLibraries(ctx context.Context, site store.SiteID) ([]store.Library, error) {
	var libs []store.Library
	var token *string
	for {
		out, err := s.client.ListBuckets(ctx, &s3.ListBucketsInput{
			BucketRegion:      regionFilter(string(site)),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, lookupErr("list libraries", store.CodeSiteNotFound, string(site), err)
		}
		for _, b := range out.Buckets {
			name := aws.ToString(b.Name)
			libs = append(libs, store.Library{ID: store.LibraryID(name), Name: name})
		}
		if out.ContinuationToken == nil {
			break
		}
		token = out.ContinuationToken
	}
	return libs, nil
}

// ResolveDownloadURL checks the object exists and returns its s3:// locator.
func (s *Store) ResolveDownloadURL(ctx context.Context, library store.LibraryID, itemPath string) (string, error) {
	key := store.CleanPath(itemPath)
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(string(library)),
		Key:    aws.String(key),
	}); err != nil {
		return "", lookupErr("resolve download url", store.CodeItemNotFound, fmt.Sprintf("s3://%s/%s", library, key), err)
	}
	return fmt.Sprintf("s3://%s/%s", library, key), nil
}

// RangedGet reads length bytes at offset. The total is taken from the
// Content-Range response header.
func (s *Store) RangedGet(ctx context.Context, rawURL string, offset, length int64) ([]byte, int64, error) {
	bucket, key, err := parseS3URL(rawURL)
	if err != nil {
		return nil, -1, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)),
	})
	if err != nil {
		return nil, -1, &store.TransferError{Op: "ranged get", Path: rawURL, Offset: offset, Err: err}
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, -1, &store.TransferError{Op: "ranged get", Path: rawURL, Offset: offset, Err: err}
	}
	return data, contentRangeTotal(aws.ToString(out.ContentRange)), nil
}

// CreateUploadSession starts a multipart upload for itemPath.
func (s *Store) CreateUploadSession(ctx context.Context, library store.LibraryID, itemPath string, policy store.ConflictPolicy) (store.UploadSession, error) {
	bucket := string(library)
	key := store.CleanPath(itemPath)

	if policy == store.ConflictRename {
		free, err := store.FreeName(ctx, key, func(ctx context.Context, candidate string) (bool, error) {
			return s.exists(ctx, bucket, candidate)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to pick a free name for %s: %w", key, err)
		}
		key = free
	}

	uploader, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		ContentType: aws.String("application/pdf"),
	})
	if err != nil {
		return nil, lookupErr("create upload session", store.CodeLibraryNotFound, bucket, err)
	}
	return &session{
		client:       s.client,
		library:      library,
		bucket:       bucket,
		key:          key,
		uploadID:     aws.ToString(uploader.UploadId),
		failIfExists: policy == store.ConflictFail,
	}, nil
}

////////////////////////////////////////////////////////////////////////////////
// SESSION

type session struct {
	client       *s3.Client
	library      store.LibraryID
	bucket       string
	key          string
	uploadID     string
	failIfExists bool
}

// UploadSlices uploads one multipart part per slice. Slices smaller than the
// S3 minimum part size are raised to it.
func (s *session) UploadSlices(ctx context.Context, r io.Reader, size, sliceSize int64, progress store.ProgressFunc) (store.UploadResult, error) {
	var completedParts []s3types.CompletedPart
	var partNumber int32
	var sent int64

	err := store.ForEachSlice(r, max(sliceSize, minPartSize), func(slice []byte) error {
		partNumber++
		part, err := s.uploadPart(ctx, partNumber, slice)
		if err != nil {
			return err
		}
		completedParts = append(completedParts, *part)
		sent += int64(len(slice))
		progress(sent, size)
		return nil
	})
	if err == nil && partNumber == 0 {
		partNumber++
		var part *s3types.CompletedPart
		if part, err = s.uploadPart(ctx, partNumber, nil); err == nil {
			completedParts = append(completedParts, *part)
		}
	}
	if err != nil {
		return store.UploadResult{}, s.abort(ctx, &store.TransferError{Op: "upload", Path: s.key, Offset: sent, Received: sent, Err: err})
	}

	complete := &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.key),
		UploadId: aws.String(s.uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{
			Parts: completedParts,
		},
	}
	if s.failIfExists {
		complete.IfNoneMatch = aws.String("*")
	}
	result, err := s.client.CompleteMultipartUpload(ctx, complete)
	if err != nil {
		if statusCode(err) == http.StatusPreconditionFailed {
			return store.UploadResult{Succeeded: false}, s.abort(ctx, fmt.Errorf("%s: %w", s.key, store.ErrAlreadyExists))
		}
		return store.UploadResult{}, s.abort(ctx, &store.TransferError{Op: "complete upload", Path: s.key, Offset: sent, Received: sent, Err: err})
	}

	return store.UploadResult{
		Succeeded: true,
		Item: store.ItemRef{
			Library: s.library,
			Path:    aws.ToString(result.Key),
			ETag:    aws.ToString(result.ETag),
			Size:    sent,
		},
	}, nil
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (s *session) uploadPart(ctx context.Context, partNumber int32, slice []byte) (*s3types.CompletedPart, error) {
	out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.key),
		UploadId:   aws.String(s.uploadID),
		PartNumber: aws.Int32(partNumber),
		Body:       bytes.NewReader(slice),
	})
	if err != nil {
		return nil, fmt.Errorf("part %d: %w", partNumber, err)
	}
	return &s3types.CompletedPart{
		ETag:       out.ETag,
		PartNumber: aws.Int32(partNumber),
	}, nil
}

func (s *session) abort(ctx context.Context, err error) error {
	_, err2 := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.key),
		UploadId: aws.String(s.uploadID),
	})
	if err2 != nil {
		return errors.Join(err, fmt.Errorf("failed to abort multipart upload: %w", err2))
	}
	return err
}

func (s *Store) exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if statusCode(err) == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

func regionFilter(region string) *string {
	if region == "" {
		return nil
	}
	return aws.String(region)
}

// contentRangeTotal parses the complete length from "bytes 0-99/1234".
// An unknown length ("*") or a malformed header yields -1.
func contentRangeTotal(header string) int64 {
	i := strings.LastIndexByte(header, '/')
	if i < 0 {
		return -1
	}
	total, err := strconv.ParseInt(strings.TrimSpace(header[i+1:]), 10, 64)
	if err != nil {
		return -1
	}
	return total
}

func parseS3URL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", store.NotFound("ranged get", store.CodeInvalidRequest, "not an s3:// url: %q", rawURL)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

func statusCode(err error) int {
	var awserr *awshttp.ResponseError
	if errors.As(err, &awserr) {
		return awserr.HTTPStatusCode()
	}
	return 0
}

func lookupErr(op, code, target string, err error) error {
	switch statusCode(err) {
	case http.StatusNotFound:
		return &store.LookupError{Op: op, Code: code, Message: fmt.Sprintf("%s not found", target), Err: err}
	case http.StatusForbidden, http.StatusUnauthorized:
		return &store.LookupError{Op: op, Code: store.CodeAccessDenied, Message: fmt.Sprintf("access to %s denied", target), Err: err}
	case http.StatusBadRequest:
		return &store.LookupError{Op: op, Code: store.CodeInvalidRequest, Message: err.Error(), Err: err}
	}
	return fmt.Errorf("%s %s: %w", op, target, err)
}
