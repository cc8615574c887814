package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/pdfrepartitioner/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	repartitionInstance *services.RepartitionFunction
	once                sync.Once
	initErr             error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("RepartitionOnUpload", repartitionOnUpload)
}

// main is required by the Go Functions Framework.
func main() {}

// repartitionOnUpload is the Cloud Function entry point for storage object
// finalize events.
func repartitionOnUpload(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		repartitionInstance, initErr = services.NewRepartitionFunction(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Errors are logged with run context inside Process.
	return repartitionInstance.Process(ctx, gcsEvent)
}
