// Package api defines the interfaces the scheduler drives.
// Having interfaces here lets tests substitute mocks for the real
// protocol client and chunk transport.
package api

import (
	"context"
	"io"

	"github.com/stillframe/uploadpipe/uptypes"
)

// Protocol covers the three backend calls of the upload protocol.
type Protocol interface {
	// Init registers the file with the backend and returns its chunk plan.
	Init(ctx context.Context, file uptypes.FileInfo, uctx uptypes.UploadContext) (*uptypes.ChunkPlan, error)

	// ReportChunk tells the backend bookkeeping layer that a part landed.
	ReportChunk(ctx context.Context, uploadID string, part uptypes.UploadedPart) error

	// Complete finalizes the multipart object from the full parts ledger.
	Complete(ctx context.Context, uploadID string, parts []uptypes.UploadedPart) (*uptypes.CompleteResult, error)
}

// ChunkTransport performs a single chunk's network transfer.
type ChunkTransport interface {
	// PutChunk sends size bytes from body to the part's presigned destination
	// and returns the storage backend's integrity token.
	PutChunk(ctx context.Context, target uptypes.PartTarget, body io.Reader, size int64) (string, error)
}
