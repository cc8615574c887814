package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/pdfrepartitioner/internal/models"
	"github.com/Lllllllleong/pdfrepartitioner/internal/services"
	"github.com/Lllllllleong/pdfrepartitioner/internal/store"
)

var (
	repartitionInstance *services.RepartitionFunction
	once                sync.Once
	initErr             error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleRepartition", handleRepartition)
}

// main is required by the Go Functions Framework.
func main() {}

func handleRepartition(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		repartitionInstance, initErr = services.NewRepartitionFunction(context.Background())
	})
	if initErr != nil {
		slog.Error("CRITICAL: Repartitioner initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.RepartitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := repartitionInstance.Handle(r.Context(), &req)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

// statusFor maps lookup failures to client errors; everything else is a
// server error.
func statusFor(err error) int {
	var le *store.LookupError
	if !errors.As(err, &le) {
		return http.StatusInternalServerError
	}
	switch le.Code {
	case store.CodeInvalidRequest:
		return http.StatusBadRequest
	case store.CodeAccessDenied:
		return http.StatusForbidden
	}
	return http.StatusNotFound
}
