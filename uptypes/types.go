// Package uptypes provides shared type definitions for the upload pipeline.
package uptypes

import (
	"io"
	"net/http"
	"time"
)

// Status represents the lifecycle state of an upload session.
type Status string

// Predefined session states
const (
	// StatusPending means the session was admitted but has not started transferring
	StatusPending Status = "pending"

	// StatusUploading means chunk transfers for the session are in progress
	StatusUploading Status = "uploading"

	// StatusPaused means the user suspended the session; confirmed parts are retained
	StatusPaused Status = "paused"

	// StatusProcessing means all parts are confirmed and finalize is in flight
	StatusProcessing Status = "processing"

	// StatusCompleted means the object was finalized in storage
	StatusCompleted Status = "completed"

	// StatusError means the session hit an unretryable failure or exhausted retries
	StatusError Status = "error"
)

// FileCategory selects the default accepted-types set for admission.
type FileCategory string

// Predefined file categories
const (
	// CategoryRaw accepts camera raw formats and original capture media
	CategoryRaw FileCategory = "raw"

	// CategoryDeliverable accepts client-facing finished media
	CategoryDeliverable FileCategory = "deliverable"

	// CategoryPortfolio accepts public portfolio media
	CategoryPortfolio FileCategory = "portfolio"

	// CategoryTeamWIP accepts work-in-progress files shared within the studio
	CategoryTeamWIP FileCategory = "team-wip"
)

// Source is a read-only handle to the local file being uploaded.
// Size and content are treated as immutable once the file is admitted.
type Source interface {
	io.ReaderAt

	// Name returns the file's display name (used for the storage key)
	Name() string

	// Size returns the total file size in bytes
	Size() int64
}

// FileInfo describes a file at init time.
type FileInfo struct {
	// Name is the original filename
	Name string

	// ContentType is the MIME type of the file
	ContentType string

	// TotalSize is the file size in bytes
	TotalSize int64
}

// UploadContext identifies the destination of an upload batch.
type UploadContext struct {
	// ProjectID is the owning project
	ProjectID string

	// Category is the file category the uploads belong to
	Category FileCategory
}

// PartTarget is a single-use, time-limited destination for one chunk.
type PartTarget struct {
	// PartNumber is the 1-indexed part number
	PartNumber int

	// URL is the presigned destination for the chunk's PUT
	URL string
}

// ChunkPlan is the immutable plan returned by init for one file.
type ChunkPlan struct {
	// UploadID is the backend's opaque identifier for this upload
	UploadID string

	// StorageUploadID is the storage layer's multipart upload identifier
	StorageUploadID string

	// StoragePath is the object key the upload will finalize to
	StoragePath string

	// ChunkSize is the size of every part except possibly the last
	ChunkSize int64

	// TotalChunks is the number of parts the file is split into
	TotalChunks int

	// PartTargets holds one presigned destination per part
	PartTargets []PartTarget

	// ExpiresAt is when the part targets stop being usable
	ExpiresAt time.Time
}

// Expired reports whether the plan's part targets are past their expiry.
func (p *ChunkPlan) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// UploadedPart is one confirmed entry in a session's ledger.
type UploadedPart struct {
	// PartNumber is the 1-indexed part number
	PartNumber int

	// ETag is the integrity token returned by the storage backend
	ETag string

	// Size is the number of bytes in the part
	Size int64
}

// CompleteResult is returned when the backend finalizes the object.
type CompleteResult struct {
	// AssetID is the metadata store's identifier for the finished asset
	AssetID string

	// StoragePath is the object key the asset was stored under
	StoragePath string
}

// Progress is a point-in-time snapshot of one session.
// All derived fields are recomputable from the ledger and the chunk plan.
type Progress struct {
	// SessionID identifies the session
	SessionID string

	// Filename is the original filename
	Filename string

	// Status is the session's current state
	Status Status

	// BytesUploaded is the confirmed byte count
	BytesUploaded int64

	// TotalBytes is the file size
	TotalBytes int64

	// Percent is BytesUploaded/TotalBytes scaled to 0-100
	Percent float64

	// PartsDone is the number of parts in the ledger
	PartsDone int

	// TotalParts is the plan's part count (0 before init)
	TotalParts int

	// ETA is the estimated remaining duration; valid only when ETAKnown
	ETA time.Duration

	// ETAKnown is false until at least one byte is confirmed
	ETAKnown bool

	// LastError is the most recent failure reason, empty unless relevant
	LastError string
}

// CompletedUpload describes one finished file in a batch-completion event.
type CompletedUpload struct {
	// AssetID is the metadata store's identifier for the asset
	AssetID string

	// Filename is the original filename
	Filename string

	// StoragePath is the object key the asset was stored under
	StoragePath string
}

// RejectedFile describes one file that failed admission validation.
type RejectedFile struct {
	// Filename is the name of the rejected file
	Filename string

	// Reason is the validation failure
	Reason error
}

// AdmissionResult reports the outcome of admitting a batch of files.
type AdmissionResult struct {
	// Accepted holds the session IDs created for accepted files, in batch order
	Accepted []string

	// Rejected holds per-file validation failures
	Rejected []RejectedFile
}

// ProgressTracker receives per-session transfer updates.
// Implementations must tolerate concurrent calls for distinct sessions.
type ProgressTracker interface {
	// Update is called after each confirmed part
	Update(sessionID string, bytesUploaded, totalBytes int64)

	// Complete is called when a session finalizes successfully
	Complete(sessionID string)

	// Error is called when a session enters the error state
	Error(sessionID string, err error)
}

// Configuration types for functional options

// ManagerConfig holds configuration for the upload manager.
type ManagerConfig struct {
	MaxFiles        int
	MaxFileSize     int64
	AcceptedTypes   []string
	Category        FileCategory
	Concurrency     int
	ChunkRetries    int
	ReportRetries   int
	ChunkTimeout    time.Duration
	RetryBackoff    time.Duration
	HTTPClient      *http.Client
	Tracker         ProgressTracker
	OnBatchComplete func([]CompletedUpload)
}

// Option is a functional option for configuring the upload manager.
type Option func(*ManagerConfig)
