package models

import "time"

// Run statuses, in the order a successful run passes through them.
const (
	StatusDownloading  = "DOWNLOADING"
	StatusPartitioning = "PARTITIONING"
	StatusComplete     = "COMPLETE"
	StatusFailed       = "FAILED"
)

// Run is the master record of one repartitioning run in Firestore.
type Run struct {
	FileHash           string    `firestore:"fileHash,omitempty"`
	SourceLibrary      string    `firestore:"sourceLibrary,omitempty"`
	SourcePath         string    `firestore:"sourcePath,omitempty"`
	DestinationLibrary string    `firestore:"destinationLibrary,omitempty"`
	OutputDirectory    string    `firestore:"outputDirectory,omitempty"`
	MaxPartSize        int64     `firestore:"maxPartSize,omitempty"`
	ConflictBehavior   string    `firestore:"conflictBehavior,omitempty"`
	Status             string    `firestore:"status,omitempty"`
	ErrorDetails       string    `firestore:"errorDetails,omitempty"`
	PageCount          int       `firestore:"pageCount,omitempty"`
	PartCount          int       `firestore:"partCount,omitempty"`
	CreatedAt          time.Time `firestore:"createdAt,omitempty"`
}

// PartRecord describes one uploaded part.
type PartRecord struct {
	Seq           int    `firestore:"seq" json:"seq"`
	Path          string `firestore:"path" json:"path"`
	FirstPage     int    `firestore:"firstPage" json:"firstPage"`
	LastPage      int    `firestore:"lastPage" json:"lastPage"`
	PageCount     int    `firestore:"pageCount" json:"pageCount"`
	EstimatedSize int64  `firestore:"estimatedSize" json:"estimatedSize"`
	Size          int64  `firestore:"size" json:"size"`
	Oversized     bool   `firestore:"oversized" json:"oversized"`
	ETag          string `firestore:"etag,omitempty" json:"etag,omitempty"`
}
