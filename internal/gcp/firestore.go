package gcp

import (
	"context"
	"fmt"
	"sort"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/pdfrepartitioner/internal/models"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// RunLedger records repartitioning runs and their uploaded parts in a
// Firestore collection. It is an audit trail; nothing reads it back to resume.
type RunLedger struct {
	client     *firestore.Client
	collection string
}

// NewRunLedger returns a ledger writing to collection.
func NewRunLedger(client *firestore.Client, collection string) *RunLedger {
	return &RunLedger{client: client, collection: collection}
}

// CreateRun adds the master document for a run and returns its ID.
func (l *RunLedger) CreateRun(ctx context.Context, run models.Run) (string, error) {
	docRef, _, err := l.client.Collection(l.collection).Add(ctx, run)
	if err != nil {
		return "", fmt.Errorf("failed to create run document: %w", err)
	}
	return docRef.ID, nil
}

// UpdateRun sets the run status and any additional fields.
func (l *RunLedger) UpdateRun(ctx context.Context, runID, status string, fields map[string]any) error {
	updates := []firestore.Update{
		{Path: "status", Value: status},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		updates = append(updates, firestore.Update{Path: k, Value: fields[k]})
	}
	if _, err := l.client.Collection(l.collection).Doc(runID).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to update run %s to %s: %w", runID, status, err)
	}
	return nil
}

// AddPart records an uploaded part under the run document.
func (l *RunLedger) AddPart(ctx context.Context, runID string, part models.PartRecord) error {
	doc := l.client.Collection(l.collection).Doc(runID).Collection("parts").Doc(fmt.Sprintf("%05d", part.Seq))
	if _, err := doc.Set(ctx, part); err != nil {
		return fmt.Errorf("failed to record part %d of run %s: %w", part.Seq, runID, err)
	}
	return nil
}
