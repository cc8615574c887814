package models

// These structs define the JSON payloads exchanged with the HTTP function and
// the downstream workflow.

// RepartitionRequest is the input for the repartition HTTP function.
type RepartitionRequest struct {
	SourceLibrary      string `json:"sourceLibrary"`
	SourcePath         string `json:"sourcePath"`
	DestinationLibrary string `json:"destinationLibrary"`
	OutputDirectory    string `json:"outputDirectory"`
	MaxPartSize        int64  `json:"maxPartSize,omitempty"`
	ConflictBehavior   string `json:"conflictBehavior,omitempty"`
}

// RepartitionResponse is the output of the repartition HTTP function.
type RepartitionResponse struct {
	Status    string       `json:"status"`
	RunID     string       `json:"runId,omitempty"`
	PageCount int          `json:"pageCount"`
	Parts     []PartRecord `json:"parts"`
}

// Handoff is the argument passed to the workflow after a successful run.
type Handoff struct {
	RunID              string       `json:"runId,omitempty"`
	DestinationLibrary string       `json:"destinationLibrary"`
	OutputDirectory    string       `json:"outputDirectory"`
	Parts              []PartRecord `json:"parts"`
}
