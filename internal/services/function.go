package services

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"github.com/Lllllllleong/pdfrepartitioner/internal/gcp"
	"github.com/Lllllllleong/pdfrepartitioner/internal/models"
	"github.com/Lllllllleong/pdfrepartitioner/internal/store"
)

// DefaultMaxPartBytes is the part size limit used when MAX_PART_BYTES is unset.
const DefaultMaxPartBytes = 1024 * 1024

// RepartitionConfig holds the environment configuration of the cloud functions.
type RepartitionConfig struct {
	ProjectID           string
	DestinationBucket   string
	OutputDirectory     string
	MaxPartBytes        int64
	ConflictPolicy      store.ConflictPolicy
	FirestoreCollection string
	WorkflowID          string
	WorkflowLocation    string
}

// RepartitionFunction serves the GCS-triggered and HTTP-triggered functions.
type RepartitionFunction struct {
	store         store.Store
	repartitioner *Repartitioner
	config        RepartitionConfig
}

// GCSEvent is the payload of a storage object finalize event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

func loadConfig() (*RepartitionConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	maxPartBytes := int64(DefaultMaxPartBytes)
	if raw := gcp.GetEnv("MAX_PART_BYTES", ""); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("MAX_PART_BYTES must be a positive integer, got %q", raw)
		}
		maxPartBytes = n
	}
	policy, err := store.ParseConflictPolicy(gcp.GetEnv("CONFLICT_BEHAVIOR", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid CONFLICT_BEHAVIOR: %w", err)
	}
	return &RepartitionConfig{
		ProjectID:           projectID,
		DestinationBucket:   gcp.GetEnv("DESTINATION_BUCKET", ""),
		OutputDirectory:     strings.Trim(gcp.GetEnv("OUTPUT_DIRECTORY", "parts"), "/"),
		MaxPartBytes:        maxPartBytes,
		ConflictPolicy:      policy,
		FirestoreCollection: gcp.GetEnv("FIRESTORE_COLLECTION", ""),
		WorkflowID:          gcp.GetEnv("WORKFLOW_ID", ""),
		WorkflowLocation:    gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
	}, nil
}

// NewRepartitionFunction builds the GCS store and the optional Firestore
// ledger and workflow hand-off from the environment.
func NewRepartitionFunction(ctx context.Context) (*RepartitionFunction, error) {
	config, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	var opts []Opt
	if config.FirestoreCollection != "" {
		firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		opts = append(opts, WithRecorder(gcp.NewRunLedger(firestoreClient, config.FirestoreCollection)))
	}
	if config.WorkflowID != "" {
		executionsClient, err := executions.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
		}
		opts = append(opts, WithNotifier(gcp.NewWorkflowTrigger(executionsClient, config.ProjectID, config.WorkflowLocation, config.WorkflowID)))
	}

	f, err := newRepartitionFunction(*config, gcp.NewStore(storageClient), opts...)
	if err != nil {
		return nil, err
	}
	slog.Info("PDF repartitioner initialized.",
		"destinationBucket", config.DestinationBucket,
		"maxPartBytes", config.MaxPartBytes,
		"ledger", config.FirestoreCollection != "",
		"workflowId", config.WorkflowID,
	)
	return f, nil
}

func newRepartitionFunction(config RepartitionConfig, s store.Store, opts ...Opt) (*RepartitionFunction, error) {
	rp, err := NewRepartitioner(s, opts...)
	if err != nil {
		return nil, err
	}
	return &RepartitionFunction{store: s, repartitioner: rp, config: config}, nil
}

// Process repartitions an uploaded object into DESTINATION_BUCKET under
// OUTPUT_DIRECTORY/<object base name>. Objects that are not PDFs, or that sit
// under the output directory of the destination bucket, are ignored.
func (f *RepartitionFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)

	if !strings.EqualFold(path.Ext(e.Name), ".pdf") {
		logCtx.Info("Object is not a PDF. Skipping.")
		return nil
	}
	destination := f.config.DestinationBucket
	if destination == "" {
		destination = e.Bucket
	}
	if e.Bucket == destination && strings.HasPrefix(e.Name, f.config.OutputDirectory+"/") {
		logCtx.Info("Object is a repartition output. Skipping.")
		return nil
	}

	base := path.Base(e.Name)
	_, err := f.repartitioner.Run(ctx, Request{
		SourceLibrary:      store.LibraryID(e.Bucket),
		SourcePath:         e.Name,
		DestinationLibrary: store.LibraryID(destination),
		OutputDirectory:    path.Join(f.config.OutputDirectory, strings.TrimSuffix(base, path.Ext(base))),
		MaxPartSize:        f.config.MaxPartBytes,
		ConflictPolicy:     f.config.ConflictPolicy,
	})
	return err
}

// Handle runs a repartition request naming libraries rather than IDs. Unset
// size and conflict behavior fall back to the configured defaults.
func (f *RepartitionFunction) Handle(ctx context.Context, req *models.RepartitionRequest) (*models.RepartitionResponse, error) {
	logCtx := slog.With("sourceLibrary", req.SourceLibrary, "sourcePath", req.SourcePath)

	policy := f.config.ConflictPolicy
	if req.ConflictBehavior != "" {
		p, err := store.ParseConflictPolicy(req.ConflictBehavior)
		if err != nil {
			return nil, &store.LookupError{Op: "handle request", Code: store.CodeInvalidRequest, Message: err.Error()}
		}
		policy = p
	}
	maxPartSize := req.MaxPartSize
	if maxPartSize == 0 {
		maxPartSize = f.config.MaxPartBytes
	}
	destination := req.DestinationLibrary
	if destination == "" {
		destination = f.config.DestinationBucket
	}

	sourceLib, err := Locate(ctx, f.store, f.config.ProjectID, req.SourceLibrary)
	if err != nil {
		logCtx.Error("Failed to locate source library", "error", err)
		return nil, err
	}
	destLib, err := Locate(ctx, f.store, f.config.ProjectID, destination)
	if err != nil {
		logCtx.Error("Failed to locate destination library", "error", err)
		return nil, err
	}

	result, err := f.repartitioner.Run(ctx, Request{
		SourceLibrary:      sourceLib,
		SourcePath:         req.SourcePath,
		DestinationLibrary: destLib,
		OutputDirectory:    req.OutputDirectory,
		MaxPartSize:        maxPartSize,
		ConflictPolicy:     policy,
	})
	if err != nil {
		return nil, err
	}
	return &models.RepartitionResponse{
		Status:    models.StatusComplete,
		RunID:     result.RunID,
		PageCount: result.PageCount,
		Parts:     result.Parts,
	}, nil
}
