// Package partition groups an ordered page sequence into size-bounded parts.
//
// Pages are consumed strictly in source order. A part is sealed and handed to
// the emit callback the moment the next page would push it over the limit, so
// at most one open part is held at any time. A page whose own estimate exceeds
// the limit is emitted alone as an oversized singleton.
package partition

import (
	"context"
	"errors"
	"fmt"
	"path"
)

// Estimator returns the serialized size in bytes of a single page.
type Estimator interface {
	PageSize(pageNr int) (int64, error)
}

// EstimatorFunc adapts a function to the Estimator interface.
type EstimatorFunc func(pageNr int) (int64, error)

func (f EstimatorFunc) PageSize(pageNr int) (int64, error) { return f(pageNr) }

// Part is a sealed, contiguous group of pages. Pages holds 1-based page numbers.
type Part struct {
	Seq       int
	Pages     []int
	Size      int64
	Oversized bool
}

// Name returns the destination file name of the part.
func (p Part) Name() string {
	if p.Oversized {
		return fmt.Sprintf("part_%d_single_page.pdf", p.Seq)
	}
	return fmt.Sprintf("part_%d.pdf", p.Seq)
}

// Path returns the destination path of the part under dir.
func (p Part) Path(dir string) string {
	return path.Join(dir, p.Name())
}

// EmitFunc receives each sealed part. Ownership of the part, including its Pages
// slice, passes to the callee; the partitioner keeps no reference to it.
type EmitFunc func(ctx context.Context, part Part) error

// Partitioner is the bin-packing state machine. It is not safe for concurrent use.
type Partitioner struct {
	limit     int64
	estimator Estimator
	emit      EmitFunc

	current     []int
	currentSize int64
	seq         int
}

// New returns a Partitioner that seals parts of at most limit bytes.
func New(limit int64, estimator Estimator, emit EmitFunc) (*Partitioner, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("max part size must be > 0, got %d", limit)
	}
	if estimator == nil || emit == nil {
		return nil, errors.New("partitioner requires an estimator and an emit function")
	}
	return &Partitioner{limit: limit, estimator: estimator, emit: emit}, nil
}

// Add estimates pageNr and places it, emitting any parts this seals.
func (p *Partitioner) Add(ctx context.Context, pageNr int) error {
	s, err := p.estimator.PageSize(pageNr)
	if err != nil {
		return fmt.Errorf("failed to estimate size of page %d: %w", pageNr, err)
	}

	switch {
	case s > p.limit:
		if err := p.seal(ctx); err != nil {
			return err
		}
		p.seq++
		return p.emit(ctx, Part{Seq: p.seq, Pages: []int{pageNr}, Size: s, Oversized: true})
	case len(p.current) > 0 && p.currentSize+s > p.limit:
		if err := p.seal(ctx); err != nil {
			return err
		}
	}
	p.current = append(p.current, pageNr)
	p.currentSize += s
	return nil
}

// Flush emits the open part, if any. It must be called once after the last page.
func (p *Partitioner) Flush(ctx context.Context) error {
	return p.seal(ctx)
}

// Emitted returns the number of parts sealed so far.
func (p *Partitioner) Emitted() int {
	return p.seq
}

// Pending returns the page numbers and cumulative size of the open part.
func (p *Partitioner) Pending() ([]int, int64) {
	return append([]int(nil), p.current...), p.currentSize
}

func (p *Partitioner) seal(ctx context.Context) error {
	if len(p.current) == 0 {
		return nil
	}
	p.seq++
	part := Part{Seq: p.seq, Pages: p.current, Size: p.currentSize}
	p.current, p.currentSize = nil, 0
	return p.emit(ctx, part)
}

// Plan runs the partitioner over a list of page sizes (page i+1 has sizes[i])
// and returns the parts it would emit.
func Plan(sizes []int64, limit int64) ([]Part, error) {
	var parts []Part
	p, err := New(limit, EstimatorFunc(func(pageNr int) (int64, error) {
		return sizes[pageNr-1], nil
	}), func(_ context.Context, part Part) error {
		parts = append(parts, part)
		return nil
	})
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	for i := range sizes {
		if err := p.Add(ctx, i+1); err != nil {
			return nil, err
		}
	}
	if err := p.Flush(ctx); err != nil {
		return nil, err
	}
	return parts, nil
}
