// Package pdf exposes a source PDF as an indexed page sequence and serializes
// page groups back into standalone documents.
package pdf

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Document is a read-only view over a parsed PDF. Page numbers are 1-based.
type Document struct {
	ctx *model.Context
}

// Open parses the PDF held by rs. Validation is relaxed so that slightly
// malformed producer output still opens.
func Open(rs io.ReadSeeker) (*Document, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	ctx, err := api.ReadValidateAndOptimize(rs, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}
	return &Document{ctx: ctx}, nil
}

// PageCount returns the number of pages, fixed at open time.
func (d *Document) PageCount() int {
	return d.ctx.PageCount
}

// PageSize returns the byte size of pageNr serialized as a single-page document.
//
// The estimate includes the document overhead (header, catalog, xref) that a
// multi-page part pays only once, and resources shared between pages are
// counted for every page that uses them. The sum of estimates for a group is
// therefore an approximation of the assembled part's real size.
func (d *Document) PageSize(pageNr int) (int64, error) {
	if err := d.checkPage(pageNr); err != nil {
		return 0, err
	}
	r, err := api.ExtractPage(d.ctx, pageNr)
	if err != nil {
		return 0, fmt.Errorf("failed to extract page %d: %w", pageNr, err)
	}
	return io.Copy(io.Discard, r)
}

// Assemble serializes the given pages, in order, into a new PDF.
func (d *Document) Assemble(pageNrs []int) ([]byte, error) {
	if len(pageNrs) == 0 {
		return nil, fmt.Errorf("cannot assemble a part without pages")
	}
	for _, nr := range pageNrs {
		if err := d.checkPage(nr); err != nil {
			return nil, err
		}
	}
	ctxPart, err := pdfcpu.ExtractPages(d.ctx, pageNrs, false)
	if err != nil {
		return nil, fmt.Errorf("failed to extract pages %v: %w", pageNrs, err)
	}
	var buf bytes.Buffer
	if err := api.WriteContext(ctxPart, &buf); err != nil {
		return nil, fmt.Errorf("failed to write part: %w", err)
	}
	return buf.Bytes(), nil
}

func (d *Document) checkPage(pageNr int) error {
	if pageNr < 1 || pageNr > d.ctx.PageCount {
		return fmt.Errorf("page %d out of range 1..%d", pageNr, d.ctx.PageCount)
	}
	return nil
}
