package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/pdfrepartitioner/internal/aws"
	"github.com/Lllllllleong/pdfrepartitioner/internal/blobstore"
	"github.com/Lllllllleong/pdfrepartitioner/internal/gcp"
	"github.com/Lllllllleong/pdfrepartitioner/internal/partition"
	"github.com/Lllllllleong/pdfrepartitioner/internal/pdf"
	"github.com/Lllllllleong/pdfrepartitioner/internal/services"
	"github.com/Lllllllleong/pdfrepartitioner/internal/store"
	"github.com/Lllllllleong/pdfrepartitioner/internal/transfer"
)

type flags struct {
	store         string
	site          string
	endpoint      string
	sourceLibrary string
	destLibrary   string
	outputDir     string
	maxSize       int64
	conflict      string
	jobs          int
	dryRun        bool
	verbose       bool
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "repartition [flags] <source-path>...",
		Short: "Split PDFs into size-bounded parts and upload them",
		Long: `Downloads each source PDF from the source library, groups its pages
into parts no larger than --max-size and uploads every part to
--output-dir in the destination library. A page that alone exceeds the
limit becomes its own part named part_<n>_single_page.pdf.

--store selects the backend: "gcs" (site = project), "s3" (site = region)
or a Go CDK bucket URL such as file:///srv/docs or mem://.`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepartition(cmd, f, args)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.store, "store", "gcs", `backend: "gcs", "s3" or a bucket URL`)
	fl.StringVar(&f.site, "site", "", "site (GCP project, AWS region); empty selects the default")
	fl.StringVar(&f.endpoint, "endpoint", "", "S3-compatible endpoint URL")
	fl.StringVar(&f.sourceLibrary, "source-library", "", "library holding the source documents")
	fl.StringVar(&f.destLibrary, "dest-library", "", "library receiving the parts (defaults to the source library)")
	fl.StringVar(&f.outputDir, "output-dir", "", "directory for the parts; each source gets a sub-directory when several are given")
	fl.Int64Var(&f.maxSize, "max-size", services.DefaultMaxPartBytes, "maximum part size in bytes")
	fl.StringVar(&f.conflict, "conflict", string(store.ConflictReplace), "conflict behavior: replace, fail or rename")
	fl.IntVar(&f.jobs, "jobs", 1, "number of source documents processed at once")
	fl.BoolVar(&f.dryRun, "dry-run", false, "print the planned parts without uploading")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")
	_ = cmd.MarkFlagRequired("source-library")
	return cmd
}

func runRepartition(cmd *cobra.Command, f flags, args []string) error {
	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))

	if f.maxSize <= 0 {
		return fmt.Errorf("--max-size must be > 0")
	}
	if f.jobs < 1 {
		return fmt.Errorf("--jobs must be >= 1")
	}
	policy, err := store.ParseConflictPolicy(f.conflict)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, closeStore, err := openStore(ctx, f)
	if err != nil {
		return err
	}
	defer closeStore()

	sourceLib, err := services.Locate(ctx, s, f.site, f.sourceLibrary)
	if err != nil {
		return err
	}
	destLib := sourceLib
	if f.destLibrary != "" {
		if destLib, err = services.Locate(ctx, s, f.site, f.destLibrary); err != nil {
			return err
		}
	}

	if f.dryRun {
		for _, sourcePath := range args {
			if err := plan(ctx, cmd.OutOrStdout(), s, sourceLib, sourcePath, outputDir(f.outputDir, sourcePath, len(args)), f.maxSize); err != nil {
				return err
			}
		}
		return nil
	}

	rp, err := services.NewRepartitioner(s, services.WithProgress(func(transferred, total int64) {
		slog.Debug("Uploaded slice.", "uploaded", transferred, "total", total)
	}))
	if err != nil {
		return err
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(f.jobs)
	results := make([]*services.Result, len(args))
	for i, sourcePath := range args {
		eg.Go(func() error {
			result, err := rp.Run(gctx, services.Request{
				SourceLibrary:      sourceLib,
				SourcePath:         sourcePath,
				DestinationLibrary: destLib,
				OutputDirectory:    outputDir(f.outputDir, sourcePath, len(args)),
				MaxPartSize:        f.maxSize,
				ConflictPolicy:     policy,
			})
			if err != nil {
				return fmt.Errorf("%s: %w", sourcePath, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	for i, result := range results {
		fmt.Fprintf(w, "%s: %d pages, %d parts\n", args[i], result.PageCount, len(result.Parts))
		for _, part := range result.Parts {
			fmt.Fprintf(w, "  %s\tpages %d-%d\t%d bytes\n", part.Path, part.FirstPage, part.LastPage, part.Size)
		}
	}
	return nil
}

// plan downloads sourcePath and prints the parts a run would upload.
func plan(ctx context.Context, w io.Writer, s store.Store, library store.LibraryID, sourcePath, dir string, maxSize int64) error {
	url, err := s.ResolveDownloadURL(ctx, library, sourcePath)
	if err != nil {
		return err
	}
	downloader, err := transfer.NewDownloader(s)
	if err != nil {
		return err
	}
	source, err := downloader.Download(ctx, url)
	if err != nil {
		return err
	}
	doc, err := pdf.Open(source)
	if err != nil {
		return fmt.Errorf("%s: %w", sourcePath, err)
	}
	sizes := make([]int64, doc.PageCount())
	for i := range sizes {
		if sizes[i], err = doc.PageSize(i + 1); err != nil {
			return err
		}
	}
	parts, err := partition.Plan(sizes, maxSize)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: %d pages, %d parts\n", sourcePath, len(sizes), len(parts))
	for _, part := range parts {
		fmt.Fprintf(w, "  %s\tpages %d-%d\t~%d bytes\n", part.Path(dir), part.Pages[0], part.Pages[len(part.Pages)-1], part.Size)
	}
	return nil
}

// outputDir places the parts of each source in its own sub-directory when
// more than one source is processed.
func outputDir(base, sourcePath string, sources int) string {
	if sources == 1 {
		return base
	}
	name := sourcePath[strings.LastIndex(sourcePath, "/")+1:]
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	return strings.TrimPrefix(base+"/"+name, "/")
}

func openStore(ctx context.Context, f flags) (store.Store, func(), error) {
	switch f.store {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Storage client: %w", err)
		}
		return gcp.NewStore(client), func() { client.Close() }, nil
	case "s3":
		var opts []aws.Opt
		if f.site != "" {
			opts = append(opts, aws.WithRegion(f.site))
		}
		if f.endpoint != "" {
			opts = append(opts, aws.WithEndpoint(f.endpoint))
		}
		s, err := aws.New(ctx, opts...)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}
	if !strings.Contains(f.store, "://") {
		return nil, nil, fmt.Errorf("unknown store %q", f.store)
	}
	s, err := blobstore.Open(ctx, f.store)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { s.Close() }, nil
}
