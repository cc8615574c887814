package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/pdfrepartitioner/internal/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Downloader fetches a whole object through sequential range requests.
type Downloader struct {
	getter    store.RangeGetter
	chunkSize int64
}

// NewDownloader returns a Downloader reading through getter.
func NewDownloader(getter store.RangeGetter, opts ...Opt) (*Downloader, error) {
	o, err := applyOpts(opts...)
	if err != nil {
		return nil, err
	}
	return &Downloader{getter: getter, chunkSize: o.chunkSize}, nil
}

// Download reads url from offset zero until the store's reported total is
// reached. When the store does not report a total, a short or empty chunk ends
// the transfer. The returned reader is positioned at the start of the data.
func (d *Downloader) Download(ctx context.Context, url string) (*bytes.Reader, error) {
	ctx, span := tracer.Start(ctx, "transfer.Download")
	defer span.End()
	span.SetAttributes(attribute.String("url", url))

	var buf bytes.Buffer
	var offset int64
	for {
		chunk, total, err := d.getter.RangedGet(ctx, url, offset, d.chunkSize)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "range request failed")
			return nil, rangeError(url, offset, int64(buf.Len()), err)
		}
		buf.Write(chunk)
		offset += int64(len(chunk))
		slog.Debug("Downloaded chunk.", "url", url, "offset", offset, "total", total)

		if total >= 0 {
			if offset >= total {
				break
			}
			if len(chunk) == 0 {
				err := fmt.Errorf("store returned no data before reported length %d", total)
				return nil, rangeError(url, offset, int64(buf.Len()), err)
			}
			continue
		}
		if int64(len(chunk)) < d.chunkSize {
			break
		}
	}

	span.SetAttributes(attribute.Int64("bytes", int64(buf.Len())))
	return bytes.NewReader(buf.Bytes()), nil
}

func rangeError(url string, offset, received int64, err error) error {
	var te *store.TransferError
	if errors.As(err, &te) {
		te.Received = received
		return te
	}
	return &store.TransferError{Op: "ranged get", Path: url, Offset: offset, Received: received, Err: err}
}

func errInvalidSize(what string, n int64) error {
	return fmt.Errorf("%s size must be > 0, got %d", what, n)
}
