package transfer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/pdfrepartitioner/internal/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Uploader writes a part through a resumable upload session.
type Uploader struct {
	sessions  store.SessionCreator
	sliceSize int64
	progress  store.ProgressFunc
}

// NewUploader returns an Uploader opening sessions on sessions.
func NewUploader(sessions store.SessionCreator, opts ...Opt) (*Uploader, error) {
	o, err := applyOpts(opts...)
	if err != nil {
		return nil, err
	}
	return &Uploader{sessions: sessions, sliceSize: o.sliceSize}, nil
}

// OnProgress replaces the default progress callback, which logs each slice.
func (u *Uploader) OnProgress(fn store.ProgressFunc) {
	u.progress = fn
}

// Upload transfers data to itemPath in library under the given conflict policy.
func (u *Uploader) Upload(ctx context.Context, library store.LibraryID, itemPath string, data []byte, policy store.ConflictPolicy) (store.ItemRef, error) {
	ctx, span := tracer.Start(ctx, "transfer.Upload")
	defer span.End()
	span.SetAttributes(
		attribute.String("library", string(library)),
		attribute.String("path", itemPath),
		attribute.Int64("bytes", int64(len(data))),
	)

	session, err := u.sessions.CreateUploadSession(ctx, library, itemPath, policy)
	if err != nil {
		span.SetStatus(codes.Error, "create upload session failed")
		if store.IsLookup(err) || store.IsTransfer(err) {
			return store.ItemRef{}, fmt.Errorf("failed to create upload session for %s: %w", itemPath, err)
		}
		return store.ItemRef{}, &store.TransferError{Op: "create upload session", Path: itemPath, Err: err}
	}

	progress := u.progress
	if progress == nil {
		progress = func(transferred, total int64) {
			slog.Info("Uploaded slice.", "path", itemPath, "uploaded", transferred, "total", total)
		}
	}

	total := int64(len(data))
	result, err := session.UploadSlices(ctx, bytes.NewReader(data), total, u.sliceSize, progress)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		if store.IsTransfer(err) {
			return store.ItemRef{}, err
		}
		return store.ItemRef{}, &store.TransferError{Op: "upload", Path: itemPath, Err: err}
	}
	if !result.Succeeded {
		span.SetStatus(codes.Error, "upload did not succeed")
		return store.ItemRef{}, &store.TransferError{Op: "upload", Path: itemPath, Err: store.ErrUploadIncomplete}
	}
	return result.Item, nil
}
