// Package testutil provides test utilities and mocks for the upload
// pipeline. This package is internal and should only be used for testing
// within the module.
package testutil

import (
	"context"
	"io"

	"github.com/stillframe/uploadpipe/uptypes"
)

// MockProtocol is a mock implementation of the upload protocol for testing.
// It allows customization of each call through function fields.
type MockProtocol struct {
	InitFunc        func(context.Context, uptypes.FileInfo, uptypes.UploadContext) (*uptypes.ChunkPlan, error)
	ReportChunkFunc func(context.Context, string, uptypes.UploadedPart) error
	CompleteFunc    func(context.Context, string, []uptypes.UploadedPart) (*uptypes.CompleteResult, error)
}

// Init mocks the init call.
func (m *MockProtocol) Init(
	ctx context.Context,
	file uptypes.FileInfo,
	uctx uptypes.UploadContext,
) (*uptypes.ChunkPlan, error) {
	if m.InitFunc != nil {
		return m.InitFunc(ctx, file, uctx)
	}
	return &uptypes.ChunkPlan{}, nil
}

// ReportChunk mocks the report call.
func (m *MockProtocol) ReportChunk(ctx context.Context, uploadID string, part uptypes.UploadedPart) error {
	if m.ReportChunkFunc != nil {
		return m.ReportChunkFunc(ctx, uploadID, part)
	}
	return nil
}

// Complete mocks the finalize call.
func (m *MockProtocol) Complete(
	ctx context.Context,
	uploadID string,
	parts []uptypes.UploadedPart,
) (*uptypes.CompleteResult, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, uploadID, parts)
	}
	return &uptypes.CompleteResult{}, nil
}

// MockTransport is a mock implementation of the chunk transport for testing.
type MockTransport struct {
	PutChunkFunc func(context.Context, uptypes.PartTarget, io.Reader, int64) (string, error)
}

// PutChunk mocks a single chunk transfer.
func (m *MockTransport) PutChunk(
	ctx context.Context,
	target uptypes.PartTarget,
	body io.Reader,
	size int64,
) (string, error) {
	if m.PutChunkFunc != nil {
		return m.PutChunkFunc(ctx, target, body, size)
	}
	return "etag", nil
}
