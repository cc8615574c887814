package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Lllllllleong/pdfrepartitioner/internal/models"
	"github.com/Lllllllleong/pdfrepartitioner/internal/partition"
	"github.com/Lllllllleong/pdfrepartitioner/internal/pdf"
	"github.com/Lllllllleong/pdfrepartitioner/internal/store"
	"github.com/Lllllllleong/pdfrepartitioner/internal/transfer"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/Lllllllleong/pdfrepartitioner/internal/services")

// PageSource is an opened document: a fixed page count, a per-page size
// estimate and re-assembly of page groups into standalone documents.
type PageSource interface {
	PageCount() int
	PageSize(pageNr int) (int64, error)
	Assemble(pageNrs []int) ([]byte, error)
}

// OpenFunc parses a downloaded document.
type OpenFunc func(rs io.ReadSeeker) (PageSource, error)

// RunRecorder keeps an audit record of runs and their uploaded parts.
type RunRecorder interface {
	CreateRun(ctx context.Context, run models.Run) (string, error)
	UpdateRun(ctx context.Context, runID, status string, fields map[string]any) error
	AddPart(ctx context.Context, runID string, part models.PartRecord) error
}

// Notifier is told about every successful run.
type Notifier interface {
	Notify(ctx context.Context, handoff models.Handoff) (string, error)
}

// Request describes one repartitioning run.
type Request struct {
	SourceLibrary      store.LibraryID
	SourcePath         string
	DestinationLibrary store.LibraryID
	OutputDirectory    string
	MaxPartSize        int64
	ConflictPolicy     store.ConflictPolicy
}

// Result lists what a run produced.
type Result struct {
	RunID     string
	FileHash  string
	PageCount int
	Parts     []models.PartRecord
}

// Repartitioner downloads a document, splits it into size-bounded parts and
// uploads each part as soon as it is sealed. One run is strictly sequential.
type Repartitioner struct {
	store      store.Store
	downloader *transfer.Downloader
	uploader   *transfer.Uploader
	open       OpenFunc
	recorder   RunRecorder
	notifier   Notifier
}

type repartitionerOpt struct {
	transfer []transfer.Opt
	open     OpenFunc
	recorder RunRecorder
	notifier Notifier
	progress store.ProgressFunc
}

// Opt configures a Repartitioner.
type Opt func(*repartitionerOpt)

// WithTransferOpts sets the chunk and slice sizes.
func WithTransferOpts(opts ...transfer.Opt) Opt {
	return func(o *repartitionerOpt) { o.transfer = append(o.transfer, opts...) }
}

// WithOpener replaces the PDF parser.
func WithOpener(fn OpenFunc) Opt {
	return func(o *repartitionerOpt) { o.open = fn }
}

// WithRecorder enables the run ledger.
func WithRecorder(r RunRecorder) Opt {
	return func(o *repartitionerOpt) { o.recorder = r }
}

// WithNotifier enables the post-run hand-off.
func WithNotifier(n Notifier) Opt {
	return func(o *repartitionerOpt) { o.notifier = n }
}

// WithProgress replaces the per-slice upload progress callback.
func WithProgress(fn store.ProgressFunc) Opt {
	return func(o *repartitionerOpt) { o.progress = fn }
}

// OpenPDF opens rs with pdfcpu.
func OpenPDF(rs io.ReadSeeker) (PageSource, error) {
	doc, err := pdf.Open(rs)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// NewRepartitioner returns a Repartitioner reading from and writing to s.
func NewRepartitioner(s store.Store, opts ...Opt) (*Repartitioner, error) {
	if s == nil {
		return nil, errors.New("a content store is required")
	}
	o := repartitionerOpt{open: OpenPDF}
	for _, fn := range opts {
		fn(&o)
	}
	downloader, err := transfer.NewDownloader(s, o.transfer...)
	if err != nil {
		return nil, fmt.Errorf("failed to create downloader: %w", err)
	}
	uploader, err := transfer.NewUploader(s, o.transfer...)
	if err != nil {
		return nil, fmt.Errorf("failed to create uploader: %w", err)
	}
	if o.progress != nil {
		uploader.OnProgress(o.progress)
	}
	return &Repartitioner{
		store:      s,
		downloader: downloader,
		uploader:   uploader,
		open:       o.open,
		recorder:   o.recorder,
		notifier:   o.notifier,
	}, nil
}

// Run repartitions req.SourcePath into req.DestinationLibrary. The first error
// aborts the run; parts uploaded before it are left in place.
func (r *Repartitioner) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "services.Repartition")
	defer span.End()
	span.SetAttributes(
		attribute.String("sourcePath", req.SourcePath),
		attribute.Int64("maxPartSize", req.MaxPartSize),
	)

	logCtx := slog.With("sourceLibrary", req.SourceLibrary, "sourcePath", req.SourcePath)
	logCtx.Info("Starting repartition run.", "maxPartSize", req.MaxPartSize, "conflictBehavior", req.ConflictPolicy)

	result := &Result{}
	runID, err := r.createRun(ctx, req)
	if err != nil {
		logCtx.Error("Failed to create run record", "error", err)
		return nil, err
	}
	if runID != "" {
		result.RunID = runID
		logCtx = logCtx.With("runId", runID)
	}

	fail := func(message string, err error) (*Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, message)
		return nil, r.handleError(ctx, logCtx, runID, message, err)
	}

	url, err := r.store.ResolveDownloadURL(ctx, req.SourceLibrary, req.SourcePath)
	if err != nil {
		return fail("failed to resolve source item", err)
	}
	source, err := r.downloader.Download(ctx, url)
	if err != nil {
		return fail("failed to download source document", err)
	}
	logCtx.Info("Downloaded source document.", "bytes", source.Size())

	if result.FileHash, err = calculateHash(source); err != nil {
		return fail("failed to calculate file hash", err)
	}
	logCtx = logCtx.With("fileHash", result.FileHash)

	doc, err := r.open(source)
	if err != nil {
		return fail("failed to open source document", err)
	}
	result.PageCount = doc.PageCount()
	if err := r.updateRun(ctx, runID, models.StatusPartitioning, map[string]any{
		"fileHash":  result.FileHash,
		"pageCount": result.PageCount,
	}); err != nil {
		return fail("failed to update status to PARTITIONING", err)
	}
	logCtx.Info("Partitioning document.", "pageCount", result.PageCount)

	p, err := partition.New(req.MaxPartSize, doc, func(ctx context.Context, part partition.Part) error {
		record, err := r.uploadPart(ctx, logCtx, req, doc, part)
		if err != nil {
			return err
		}
		if r.recorder != nil {
			if err := r.recorder.AddPart(ctx, runID, record); err != nil {
				return err
			}
		}
		result.Parts = append(result.Parts, record)
		return nil
	})
	if err != nil {
		return fail("failed to create partitioner", err)
	}
	for pageNr := 1; pageNr <= result.PageCount; pageNr++ {
		if err := p.Add(ctx, pageNr); err != nil {
			return fail("failed to partition document", err)
		}
	}
	if pages, size := p.Pending(); len(pages) > 0 {
		logCtx.Debug("Sealing final part.", "pages", len(pages), "estimatedSize", size)
	}
	if err := p.Flush(ctx); err != nil {
		return fail("failed to partition document", err)
	}
	if p.Emitted() != len(result.Parts) {
		return fail("failed to partition document", fmt.Errorf("sealed %d parts but uploaded %d", p.Emitted(), len(result.Parts)))
	}

	if r.notifier != nil {
		execution, err := r.notifier.Notify(ctx, models.Handoff{
			RunID:              runID,
			DestinationLibrary: string(req.DestinationLibrary),
			OutputDirectory:    req.OutputDirectory,
			Parts:              result.Parts,
		})
		if err != nil {
			return fail("failed to hand off run", err)
		}
		logCtx.Info("Hand-off to workflow complete.", "execution", execution)
	}

	if err := r.updateRun(ctx, runID, models.StatusComplete, map[string]any{
		"partCount": len(result.Parts),
	}); err != nil {
		return fail("failed to update status to COMPLETE", err)
	}
	span.SetAttributes(attribute.Int("parts", len(result.Parts)))
	logCtx.Info("Repartition run complete.", "pageCount", result.PageCount, "partCount", len(result.Parts))
	return result, nil
}

func (r *Repartitioner) uploadPart(ctx context.Context, logCtx *slog.Logger, req Request, doc PageSource, part partition.Part) (models.PartRecord, error) {
	data, err := doc.Assemble(part.Pages)
	if err != nil {
		return models.PartRecord{}, fmt.Errorf("failed to assemble part %d: %w", part.Seq, err)
	}
	itemPath := part.Path(req.OutputDirectory)
	item, err := r.uploader.Upload(ctx, req.DestinationLibrary, itemPath, data, req.ConflictPolicy)
	if err != nil {
		return models.PartRecord{}, fmt.Errorf("failed to upload part %d: %w", part.Seq, err)
	}
	if item.Path == "" {
		item.Path = itemPath
	}
	record := models.PartRecord{
		Seq:           part.Seq,
		Path:          item.Path,
		FirstPage:     part.Pages[0],
		LastPage:      part.Pages[len(part.Pages)-1],
		PageCount:     len(part.Pages),
		EstimatedSize: part.Size,
		Size:          int64(len(data)),
		Oversized:     part.Oversized,
		ETag:          item.ETag,
	}
	trace.SpanFromContext(ctx).AddEvent("part uploaded", trace.WithAttributes(
		attribute.Int("seq", record.Seq),
		attribute.String("path", record.Path),
		attribute.Int64("size", record.Size),
	))
	logCtx.Info("Uploaded part.",
		"seq", record.Seq,
		"path", record.Path,
		"firstPage", record.FirstPage,
		"lastPage", record.LastPage,
		"estimatedSize", record.EstimatedSize,
		"size", record.Size,
		"oversized", record.Oversized,
	)
	return record, nil
}

func (r *Repartitioner) createRun(ctx context.Context, req Request) (string, error) {
	if r.recorder == nil {
		return "", nil
	}
	return r.recorder.CreateRun(ctx, models.Run{
		SourceLibrary:      string(req.SourceLibrary),
		SourcePath:         req.SourcePath,
		DestinationLibrary: string(req.DestinationLibrary),
		OutputDirectory:    req.OutputDirectory,
		MaxPartSize:        req.MaxPartSize,
		ConflictBehavior:   string(req.ConflictPolicy),
		Status:             models.StatusDownloading,
		CreatedAt:          time.Now(),
	})
}

func (r *Repartitioner) updateRun(ctx context.Context, runID, status string, fields map[string]any) error {
	if r.recorder == nil {
		return nil
	}
	return r.recorder.UpdateRun(ctx, runID, status, fields)
}

func (r *Repartitioner) handleError(ctx context.Context, logCtx *slog.Logger, runID, message string, originalErr error) error {
	err := fmt.Errorf("%s: %w", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	if r.recorder != nil {
		if updateErr := r.recorder.UpdateRun(ctx, runID, models.StatusFailed, map[string]any{
			"errorDetails": err.Error(),
		}); updateErr != nil {
			logCtx.Error("CRITICAL: Failed to update run status to FAILED after a processing error.", "updateError", updateErr)
		}
	}
	return err
}

func (req Request) validate() error {
	switch {
	case req.MaxPartSize <= 0:
		return fmt.Errorf("max part size must be > 0, got %d", req.MaxPartSize)
	case strings.TrimSpace(req.SourcePath) == "":
		return errors.New("source path must be set")
	case req.SourceLibrary == "" || req.DestinationLibrary == "":
		return errors.New("source and destination libraries must be set")
	}
	return nil
}

// Locate resolves siteSpec and finds the library called libraryName. Names
// are compared case-insensitively.
func Locate(ctx context.Context, resolver store.Resolver, siteSpec, libraryName string) (store.LibraryID, error) {
	site, err := resolver.ResolveSite(ctx, siteSpec)
	if err != nil {
		return "", fmt.Errorf("failed to resolve site %q: %w", siteSpec, err)
	}
	libs, err := resolver.ListLibraries(ctx, site)
	if err != nil {
		return "", fmt.Errorf("failed to list libraries of %q: %w", site, err)
	}
	for _, lib := range libs {
		if strings.EqualFold(lib.Name, libraryName) {
			return lib.ID, nil
		}
	}
	return "", store.NotFound("locate library", store.CodeLibraryNotFound, "library %q not found in site %q", libraryName, site)
}

func calculateHash(rs io.ReadSeeker) (string, error) {
	hash := sha256.New()
	if _, err := io.Copy(hash, rs); err != nil {
		return "", err
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
