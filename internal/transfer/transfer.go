// Package transfer moves whole documents between the pipeline and a content
// store: sequential range requests in, sliced upload sessions out.
package transfer

import (
	"go.opentelemetry.io/otel"
)

const (
	// DefaultChunkSize is the window requested per range GET. It is independent
	// of the partitioning size limit.
	DefaultChunkSize = 10 * 1024 * 1024

	// DefaultSliceSize is the upload slice size: a multiple of 320 KiB and not
	// below the 5 MiB minimum part size of S3 multipart uploads.
	DefaultSliceSize = 16 * 320 * 1024
)

var tracer = otel.Tracer("github.com/Lllllllleong/pdfrepartitioner/internal/transfer")

type opt struct {
	chunkSize int64
	sliceSize int64
}

// Opt configures a Downloader or an Uploader.
type Opt func(*opt) error

func applyOpts(opts ...Opt) (*opt, error) {
	o := opt{chunkSize: DefaultChunkSize, sliceSize: DefaultSliceSize}
	for _, fn := range opts {
		if err := fn(&o); err != nil {
			return nil, err
		}
	}
	return &o, nil
}

// WithChunkSize overrides the range request size.
func WithChunkSize(n int64) Opt {
	return func(o *opt) error {
		if n <= 0 {
			return errInvalidSize("chunk", n)
		}
		o.chunkSize = n
		return nil
	}
}

// WithSliceSize overrides the upload slice size. Backends may round it to
// their own constraints.
func WithSliceSize(n int64) Opt {
	return func(o *opt) error {
		if n <= 0 {
			return errInvalidSize("slice", n)
		}
		o.sliceSize = n
		return nil
	}
}
